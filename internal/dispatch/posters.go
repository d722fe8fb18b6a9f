package dispatch

import (
	"context"
	"fmt"
	"strconv"

	"github.com/nextlevelbuilder/hookrelay/internal/resilience"
	"github.com/nextlevelbuilder/hookrelay/internal/store"
)

// TextPoster posts result text back to the task's origin. The returned
// message ID feeds the dedup store so the gateway never re-triggers on
// our own post.
type TextPoster interface {
	PostText(ctx context.Context, routing store.RoutingMetadata, text string) (messageID string, err error)
}

// ChatNotifier posts a block-formatted notification to a chat channel.
type ChatNotifier interface {
	PostNotification(ctx context.Context, channel, fallback string, blocks []Block) (messageID string, err error)
}

// GitHubPoster comments on the originating issue or pull request.
type GitHubPoster struct {
	client  *apiClient
	apiBase string
	token   string
}

// NewGitHubPoster creates a poster against the public API; apiBase
// overrides for enterprise installs.
func NewGitHubPoster(client *apiClient, apiBase, token string) *GitHubPoster {
	if apiBase == "" {
		apiBase = "https://api.github.com"
	}
	return &GitHubPoster{client: client, apiBase: apiBase, token: token}
}

func (p *GitHubPoster) PostText(ctx context.Context, routing store.RoutingMetadata, text string) (string, error) {
	number := routing.PRNumber
	if number == 0 {
		number = routing.IssueNum
	}
	if routing.Repo == "" || number == 0 {
		return "", &resilience.ExternalServiceError{
			Service: "github", Operation: "comment", Transient: false,
			Err: fmt.Errorf("routing missing repo or issue number"),
		}
	}

	// Issue and PR comments share one endpoint.
	url := fmt.Sprintf("%s/repos/%s/issues/%d/comments", p.apiBase, routing.Repo, number)
	var resp struct {
		ID int64 `json:"id"`
	}
	err := p.client.postJSON(ctx, "github", url, map[string]string{
		"Authorization": "Bearer " + p.token,
		"Accept":        "application/vnd.github+json",
	}, map[string]string{"body": Truncate(text, MaxVCSComment)}, &resp)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(resp.ID, 10), nil
}

// JiraPoster comments on the originating ticket.
type JiraPoster struct {
	client    *apiClient
	baseURL   string
	authToken string
}

// NewJiraPoster creates a poster for a Jira site. authToken is the
// pre-encoded basic-auth credential.
func NewJiraPoster(client *apiClient, baseURL, authToken string) *JiraPoster {
	return &JiraPoster{client: client, baseURL: baseURL, authToken: authToken}
}

func (p *JiraPoster) PostText(ctx context.Context, routing store.RoutingMetadata, text string) (string, error) {
	if routing.TicketKey == "" {
		return "", &resilience.ExternalServiceError{
			Service: "jira", Operation: "comment", Transient: false,
			Err: fmt.Errorf("routing missing ticket key"),
		}
	}

	url := fmt.Sprintf("%s/rest/api/2/issue/%s/comment", p.baseURL, routing.TicketKey)
	var resp struct {
		ID string `json:"id"`
	}
	err := p.client.postJSON(ctx, "jira", url, map[string]string{
		"Authorization": "Basic " + p.authToken,
	}, map[string]string{"body": Truncate(text, MaxTrackerComment)}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// SlackPoster posts to chat threads and channels. It serves both the
// reply-to-source path (threaded) and the notification path (blocks).
type SlackPoster struct {
	client *apiClient
	token  string
	apiURL string
}

// NewSlackPoster creates a poster using a bot token.
func NewSlackPoster(client *apiClient, token string) *SlackPoster {
	return &SlackPoster{client: client, token: token, apiURL: "https://slack.com/api/chat.postMessage"}
}

type slackPostResponse struct {
	OK    bool   `json:"ok"`
	TS    string `json:"ts"`
	Error string `json:"error"`
}

func (p *SlackPoster) post(ctx context.Context, payload map[string]any) (string, error) {
	var resp slackPostResponse
	err := p.client.postJSON(ctx, "slack", p.apiURL, map[string]string{
		"Authorization": "Bearer " + p.token,
	}, payload, &resp)
	if err != nil {
		return "", err
	}
	if !resp.OK {
		// The chat API reports errors in-band with HTTP 200.
		transient := resp.Error == "ratelimited" || resp.Error == "service_unavailable"
		return "", &resilience.ExternalServiceError{
			Service: "slack", Operation: "post", Transient: transient,
			Err: fmt.Errorf("api error: %s", resp.Error),
		}
	}
	return resp.TS, nil
}

func (p *SlackPoster) PostText(ctx context.Context, routing store.RoutingMetadata, text string) (string, error) {
	if routing.Channel == "" {
		return "", &resilience.ExternalServiceError{
			Service: "slack", Operation: "post", Transient: false,
			Err: fmt.Errorf("routing missing channel"),
		}
	}
	payload := map[string]any{
		"channel": routing.Channel,
		"text":    Truncate(text, MaxChatMessage),
	}
	if routing.ThreadTS != "" {
		payload["thread_ts"] = routing.ThreadTS
	}
	return p.post(ctx, payload)
}

func (p *SlackPoster) PostNotification(ctx context.Context, channel, fallback string, blocks []Block) (string, error) {
	return p.post(ctx, map[string]any{
		"channel": channel,
		"text":    Truncate(fallback, MaxChatMessage),
		"blocks":  blocks,
	})
}
