package webhook

import (
	"fmt"
	"strconv"
	"time"

	"github.com/valyala/fastjson"

	"github.com/nextlevelbuilder/hookrelay/internal/command"
	"github.com/nextlevelbuilder/hookrelay/internal/store"
)

// GitHubNormalizer handles issue and PR comment events.
type GitHubNormalizer struct {
	parsers fastjson.ParserPool
}

func (n *GitHubNormalizer) Provider() store.Provider { return store.ProviderGitHub }

func (n *GitHubNormalizer) Normalize(eventType string, body []byte) (*Event, error) {
	switch eventType {
	case "issue_comment", "pull_request_review_comment":
	default:
		return nil, nil
	}

	p := n.parsers.Get()
	defer n.parsers.Put(p)
	v, err := p.ParseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse github payload: %w", err)
	}

	repo := str(v, "repository", "full_name")
	if repo == "" {
		return nil, fmt.Errorf("github payload missing repository.full_name")
	}

	// The subject number lives on issue or pull_request depending on the
	// event; an issue with a pull_request key is really a PR.
	issueNum := intAt(v, "issue", "number")
	prNum := intAt(v, "pull_request", "number")
	if prNum == 0 && v.Exists("issue", "pull_request") {
		prNum = issueNum
		issueNum = 0
	}
	number := prNum
	if number == 0 {
		number = issueNum
	}
	if number == 0 {
		return nil, fmt.Errorf("github payload has no issue or PR number")
	}

	ev := &Event{
		Provider:   store.ProviderGitHub,
		EventType:  eventType,
		ExternalID: fmt.Sprintf("github:%s:%d", repo, number),
		MessageID:  strconv.Itoa(intAt(v, "comment", "id")),
		Text:       str(v, "comment", "body"),
		Actor: command.Actor{
			Login:    str(v, "sender", "login"),
			UserType: str(v, "sender", "type"),
		},
		UserID: str(v, "sender", "login"),
		Routing: store.RoutingMetadata{
			Repo:     repo,
			PRNumber: prNum,
			IssueNum: issueNum,
			Sender:   str(v, "sender", "login"),
		},
		ReceivedAt: time.Now().UTC(),
		Raw:        body,
	}
	return ev, nil
}
