package dispatch

import "github.com/nextlevelbuilder/hookrelay/internal/store"

// PosterSettings carries the outbound API endpoints and credentials used
// to assemble the per-provider posters.
type PosterSettings struct {
	GitHubAPIBase string
	GitHubToken   string
	JiraBaseURL   string
	JiraAuthToken string
	SlackBotToken string
	// RPS and Burst shape the shared outbound rate limiter.
	RPS   float64
	Burst int
}

// BuildPosters assembles posters sharing one rate-limited HTTP client.
// Providers without credentials are omitted; the dispatcher then falls
// back to notification-only for their tasks. The returned ChatNotifier
// is nil when no bot token is configured.
func BuildPosters(s PosterSettings) (map[store.Provider]TextPoster, ChatNotifier) {
	client := newAPIClient(s.RPS, s.Burst)
	posters := make(map[store.Provider]TextPoster)

	if s.GitHubToken != "" {
		posters[store.ProviderGitHub] = NewGitHubPoster(client, s.GitHubAPIBase, s.GitHubToken)
	}
	if s.JiraBaseURL != "" && s.JiraAuthToken != "" {
		posters[store.ProviderJira] = NewJiraPoster(client, s.JiraBaseURL, s.JiraAuthToken)
	}

	var notifier ChatNotifier
	if s.SlackBotToken != "" {
		slack := NewSlackPoster(client, s.SlackBotToken)
		posters[store.ProviderSlack] = slack
		notifier = slack
	}
	return posters, notifier
}
