package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/hookrelay/internal/command"
	"github.com/nextlevelbuilder/hookrelay/internal/dedup"
	"github.com/nextlevelbuilder/hookrelay/internal/flow"
	"github.com/nextlevelbuilder/hookrelay/internal/queue"
	"github.com/nextlevelbuilder/hookrelay/internal/store"
	"github.com/nextlevelbuilder/hookrelay/internal/webhook"
)

var discard = slog.New(slog.DiscardHandler)

const ghSecret = "gh-secret"

func nowUnix() int64 { return time.Now().Unix() }

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type testEnv struct {
	server *Server
	stores *store.Stores
	queue  *queue.MemoryQueue
	dedup  *dedup.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	registry, err := command.NewRegistry(command.DefaultCommands())
	if err != nil {
		t.Fatal(err)
	}
	dd := dedup.NewMemoryStore(dedup.DefaultTTL)
	guard := command.NewLoopGuard(dd, []string{"hookrelay-bot"}, nil)
	matcher, err := command.NewMatcher(nil, registry, guard, discard)
	if err != nil {
		t.Fatal(err)
	}

	stores := store.NewMemoryStores()
	q := queue.NewMemoryQueue()
	validator := webhook.NewValidator(map[store.Provider]string{
		store.ProviderGitHub: ghSecret,
		store.ProviderSlack:  "slack-secret",
	})

	srv := NewServer(
		Config{},
		validator,
		[]webhook.Normalizer{&webhook.GitHubNormalizer{}, &webhook.SlackNormalizer{}, &webhook.SentryNormalizer{}},
		matcher,
		flow.NewCorrelator(stores, discard),
		q,
		NewHub(discard),
		nil,
		discard,
	)
	return &testEnv{server: srv, stores: stores, queue: q, dedup: dd}
}

func githubCommentBody(text string) []byte {
	return []byte(fmt.Sprintf(`{
		"action": "created",
		"repository": {"full_name": "acme/widgets"},
		"issue": {"number": 42},
		"comment": {"id": 1001, "body": %q},
		"sender": {"login": "jane", "type": "User"}
	}`, text))
}

func postWebhook(env *testEnv, provider string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+provider, strings.NewReader(string(body)))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	env.server.BuildMux().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) webhookResponse {
	t.Helper()
	var resp webhookResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestHandleWebhook_MatchedCommandQueuesTask(t *testing.T) {
	env := newTestEnv(t)
	body := githubCommentBody("@agent analyze this ticket")

	rec := postWebhook(env, "github", body, map[string]string{
		"X-GitHub-Event":      "issue_comment",
		"X-Hub-Signature-256": "sha256=" + sign(ghSecret, body),
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if !resp.Success || resp.TaskID == nil {
		t.Fatalf("response = %+v", resp)
	}

	task, err := env.stores.Tasks.GetTask(t.Context(), *resp.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != store.TaskQueued || task.Source.Command != "analyze" {
		t.Errorf("task = %+v", task)
	}
	if depth, _ := env.queue.Size(t.Context()); depth != 1 {
		t.Errorf("queue depth = %d", depth)
	}
}

func TestHandleWebhook_BadSignatureRejected(t *testing.T) {
	env := newTestEnv(t)
	body := githubCommentBody("@agent analyze this")

	rec := postWebhook(env, "github", body, map[string]string{
		"X-GitHub-Event":      "issue_comment",
		"X-Hub-Signature-256": "sha256=" + sign("wrong-secret", body),
	})

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
	if depth, _ := env.queue.Size(t.Context()); depth != 0 {
		t.Error("unsigned delivery reached the queue")
	}
}

func TestHandleWebhook_NoTriggerIsAcceptedWithoutTask(t *testing.T) {
	env := newTestEnv(t)
	body := githubCommentBody("just a normal comment")

	rec := postWebhook(env, "github", body, map[string]string{
		"X-GitHub-Event":      "issue_comment",
		"X-Hub-Signature-256": "sha256=" + sign(ghSecret, body),
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if !resp.Success || resp.TaskID != nil {
		t.Fatalf("response = %+v", resp)
	}
	if depth, _ := env.queue.Size(t.Context()); depth != 0 {
		t.Errorf("queue depth = %d", depth)
	}
}

func TestHandleWebhook_DedupedMessageProducesNoTask(t *testing.T) {
	env := newTestEnv(t)
	if err := env.dedup.MarkPosted(t.Context(), "github", "1001"); err != nil {
		t.Fatal(err)
	}
	body := githubCommentBody("@agent analyze this")

	rec := postWebhook(env, "github", body, map[string]string{
		"X-GitHub-Event":      "issue_comment",
		"X-Hub-Signature-256": "sha256=" + sign(ghSecret, body),
	})

	resp := decodeResponse(t, rec)
	if rec.Code != http.StatusOK || resp.TaskID != nil {
		t.Fatalf("code=%d response=%+v", rec.Code, resp)
	}
}

func TestHandleWebhook_UnknownProvider(t *testing.T) {
	env := newTestEnv(t)
	rec := postWebhook(env, "pagerduty", []byte(`{}`), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHandleWebhook_SlackChallenge(t *testing.T) {
	env := newTestEnv(t)
	body := []byte(`{"type":"url_verification","challenge":"ch4ll3ng3"}`)

	ts := fmt.Sprintf("%d", nowUnix())
	base := "v0:" + ts + ":" + string(body)
	rec := postWebhook(env, "slack", body, map[string]string{
		"X-Slack-Request-Timestamp": ts,
		"X-Slack-Signature":         "v0=" + sign("slack-secret", []byte(base)),
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["challenge"] != "ch4ll3ng3" {
		t.Errorf("challenge = %q", resp["challenge"])
	}
}

func TestHandleWebhook_SentryImplicitFix(t *testing.T) {
	env := newTestEnv(t)
	secret := "sentry-secret"
	env.server.validator = webhook.NewValidator(map[store.Provider]string{store.ProviderSentry: secret})
	body := []byte(`{"action":"created","data":{"issue":{"id":"554433","title":"TypeError","culprit":"app.js"}}}`)

	rec := postWebhook(env, "sentry", body, map[string]string{
		"Sentry-Hook-Signature": sign(secret, body),
	})

	resp := decodeResponse(t, rec)
	if rec.Code != http.StatusOK || resp.TaskID == nil {
		t.Fatalf("code=%d response=%+v", rec.Code, resp)
	}
	task, err := env.stores.Tasks.GetTask(t.Context(), *resp.TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if task.Source.Command != "fix" {
		t.Errorf("command = %q", task.Source.Command)
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.server.BuildMux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if payload["status"] != "ok" {
		t.Errorf("payload = %v", payload)
	}
}
