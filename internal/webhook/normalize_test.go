package webhook

import (
	"testing"

	"github.com/nextlevelbuilder/hookrelay/internal/store"
)

func TestGitHubNormalizer_IssueComment(t *testing.T) {
	body := []byte(`{
		"action": "created",
		"repository": {"full_name": "acme/widgets"},
		"issue": {"number": 42},
		"comment": {"id": 1001, "body": "@agent analyze this ticket"},
		"sender": {"login": "jane", "type": "User"}
	}`)

	var n GitHubNormalizer
	ev, err := n.Normalize("issue_comment", body)
	if err != nil {
		t.Fatal(err)
	}
	if ev == nil {
		t.Fatal("relevant event dropped")
	}
	if ev.ExternalID != "github:acme/widgets:42" {
		t.Errorf("external id = %q", ev.ExternalID)
	}
	if ev.MessageID != "1001" {
		t.Errorf("message id = %q", ev.MessageID)
	}
	if ev.Text != "@agent analyze this ticket" {
		t.Errorf("text = %q", ev.Text)
	}
	if ev.Routing.Repo != "acme/widgets" || ev.Routing.IssueNum != 42 {
		t.Errorf("routing = %+v", ev.Routing)
	}
}

func TestGitHubNormalizer_IssueThatIsAPR(t *testing.T) {
	body := []byte(`{
		"repository": {"full_name": "acme/widgets"},
		"issue": {"number": 7, "pull_request": {"url": "x"}},
		"comment": {"id": 5, "body": "@agent review"},
		"sender": {"login": "jo", "type": "User"}
	}`)

	var n GitHubNormalizer
	ev, err := n.Normalize("issue_comment", body)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Routing.PRNumber != 7 || ev.Routing.IssueNum != 0 {
		t.Errorf("PR detection failed: %+v", ev.Routing)
	}
}

func TestGitHubNormalizer_IrrelevantEventType(t *testing.T) {
	var n GitHubNormalizer
	ev, err := n.Normalize("push", []byte(`{}`))
	if err != nil || ev != nil {
		t.Fatalf("push event should be ignored, got ev=%v err=%v", ev, err)
	}
}

func TestJiraNormalizer_PlainBody(t *testing.T) {
	body := []byte(`{
		"webhookEvent": "comment_created",
		"issue": {"key": "PROJ-123"},
		"comment": {
			"id": "5501",
			"body": "@agent fix the flaky test",
			"author": {"displayName": "Jane Doe", "accountId": "acct-1"}
		}
	}`)

	var n JiraNormalizer
	ev, err := n.Normalize("", body)
	if err != nil {
		t.Fatal(err)
	}
	if ev.ExternalID != "jira:PROJ-123" {
		t.Errorf("external id = %q", ev.ExternalID)
	}
	if ev.Text != "@agent fix the flaky test" {
		t.Errorf("text = %q", ev.Text)
	}
	if ev.Routing.TicketKey != "PROJ-123" {
		t.Errorf("routing = %+v", ev.Routing)
	}
	if ev.UserID != "acct-1" {
		t.Errorf("user id = %q", ev.UserID)
	}
}

func TestJiraNormalizer_RichTextBody(t *testing.T) {
	body := []byte(`{
		"webhookEvent": "comment_created",
		"issue": {"key": "PROJ-9"},
		"comment": {
			"id": "77",
			"body": {
				"type": "doc",
				"content": [
					{"type": "paragraph", "content": [
						{"type": "text", "text": "@agent analyze "},
						{"type": "text", "text": "the outage"}
					]},
					{"type": "paragraph", "content": [
						{"type": "text", "text": "since yesterday"}
					]}
				]
			},
			"author": {"displayName": "Sam"}
		}
	}`)

	var n JiraNormalizer
	ev, err := n.Normalize("", body)
	if err != nil {
		t.Fatal(err)
	}
	want := "@agent analyze the outage\nsince yesterday"
	if ev.Text != want {
		t.Errorf("flattened text = %q, want %q", ev.Text, want)
	}
}

func TestJiraNormalizer_AppAuthorFlaggedAsBot(t *testing.T) {
	body := []byte(`{
		"webhookEvent": "comment_created",
		"issue": {"key": "PROJ-1"},
		"comment": {"id": "1", "body": "x", "author": {"displayName": "Integration", "accountType": "app"}}
	}`)
	var n JiraNormalizer
	ev, err := n.Normalize("", body)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Actor.UserType != "bot" {
		t.Errorf("app author not flagged: %+v", ev.Actor)
	}
}

func TestSlackNormalizer_ThreadAnchorsFlow(t *testing.T) {
	body := []byte(`{
		"type": "event_callback",
		"event": {
			"type": "message",
			"channel": "C123",
			"ts": "1700000002.000100",
			"thread_ts": "1700000000.000001",
			"user": "U42",
			"text": "@agent review the deploy"
		}
	}`)

	var n SlackNormalizer
	ev, err := n.Normalize("", body)
	if err != nil {
		t.Fatal(err)
	}
	if ev.ExternalID != "slack:C123:1700000000.000001" {
		t.Errorf("external id = %q", ev.ExternalID)
	}
	if ev.MessageID != "1700000002.000100" {
		t.Errorf("message id = %q", ev.MessageID)
	}
	if ev.Routing.Channel != "C123" || ev.Routing.ThreadTS != "1700000000.000001" {
		t.Errorf("routing = %+v", ev.Routing)
	}
}

func TestSlackNormalizer_BotMessageCarriesBotID(t *testing.T) {
	body := []byte(`{
		"type": "event_callback",
		"event": {
			"type": "message",
			"subtype": "bot_message",
			"channel": "C1",
			"ts": "1.2",
			"bot_id": "B99",
			"text": "@agent fix it"
		}
	}`)
	var n SlackNormalizer
	ev, err := n.Normalize("", body)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Actor.BotID != "B99" {
		t.Errorf("bot id not carried: %+v", ev.Actor)
	}
}

func TestSlackNormalizer_IgnoresEdits(t *testing.T) {
	body := []byte(`{
		"type": "event_callback",
		"event": {"type": "message", "subtype": "message_changed", "channel": "C1", "ts": "1.2"}
	}`)
	var n SlackNormalizer
	ev, err := n.Normalize("", body)
	if err != nil || ev != nil {
		t.Fatalf("edit should be ignored, got ev=%v err=%v", ev, err)
	}
}

func TestSentryNormalizer_ImplicitFix(t *testing.T) {
	body := []byte(`{
		"action": "created",
		"data": {"issue": {"id": "554433", "title": "TypeError: x is undefined", "culprit": "app/checkout.js"}}
	}`)

	var n SentryNormalizer
	ev, err := n.Normalize("", body)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Provider != store.ProviderSentry {
		t.Errorf("provider = %q", ev.Provider)
	}
	if ev.ExternalID != "sentry:554433" {
		t.Errorf("external id = %q", ev.ExternalID)
	}
	if ev.ImplicitCommand != "fix" {
		t.Errorf("implicit command = %q", ev.ImplicitCommand)
	}
	if ev.Text != "TypeError: x is undefined\nat app/checkout.js" {
		t.Errorf("text = %q", ev.Text)
	}
}
