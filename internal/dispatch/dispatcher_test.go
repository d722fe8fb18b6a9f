package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/hookrelay/internal/dedup"
	"github.com/nextlevelbuilder/hookrelay/internal/resilience"
	"github.com/nextlevelbuilder/hookrelay/internal/store"
)

var discard = slog.New(slog.DiscardHandler)

type fakePoster struct {
	mu      sync.Mutex
	posted  []string
	fail    int
	failErr error
	msgID   string
}

func (p *fakePoster) PostText(_ context.Context, _ store.RoutingMetadata, text string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail > 0 {
		p.fail--
		return "", p.failErr
	}
	p.posted = append(p.posted, text)
	return p.msgID, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	channels []string
	blocks   [][]Block
}

func (n *fakeNotifier) PostNotification(_ context.Context, channel, _ string, blocks []Block) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channels = append(n.channels, channel)
	n.blocks = append(n.blocks, blocks)
	return "9999.0001", nil
}

func fastPolicy() resilience.Policy {
	return resilience.Policy{MaxAttempts: 3, MinWait: time.Millisecond, MaxWait: time.Millisecond, Multiplier: 1}
}

func completedTask(requiresApproval bool) *store.Task {
	return &store.Task{
		ID:     "task-abc123",
		Status: store.TaskCompleted,
		Result: "All tests pass.",
		Source: store.SourceMetadata{
			Provider:         store.ProviderGitHub,
			Command:          "review",
			RequiresApproval: requiresApproval,
			Routing:          store.RoutingMetadata{Repo: "acme/widgets", PRNumber: 12},
		},
	}
}

func newDispatcher(poster TextPoster, notifier ChatNotifier, dd dedup.Store) *Dispatcher {
	return New(
		Config{SuccessChannel: "C-ok", FailureChannel: "C-fail", RetryPolicy: fastPolicy()},
		map[store.Provider]TextPoster{store.ProviderGitHub: poster},
		notifier, dd,
		resilience.NewRegistry(resilience.DefaultBreakerConfig(), discard),
		discard,
	)
}

func TestDispatcher_PostsAndMarksDedup(t *testing.T) {
	poster := &fakePoster{msgID: "777"}
	notifier := &fakeNotifier{}
	dd := dedup.NewMemoryStore(dedup.DefaultTTL)
	d := newDispatcher(poster, notifier, dd)

	d.TaskFinished(context.Background(), completedTask(false))

	if len(poster.posted) != 1 || !strings.Contains(poster.posted[0], "All tests pass.") {
		t.Fatalf("posted = %v", poster.posted)
	}
	seen, err := dd.Seen(context.Background(), "github", "777")
	if err != nil || !seen {
		t.Errorf("posted message not in dedup store (seen=%v err=%v)", seen, err)
	}
	if len(notifier.channels) != 1 || notifier.channels[0] != "C-ok" {
		t.Errorf("notification channels = %v", notifier.channels)
	}
}

func TestDispatcher_FailureGoesToFailureChannel(t *testing.T) {
	poster := &fakePoster{msgID: "1"}
	notifier := &fakeNotifier{}
	d := newDispatcher(poster, notifier, dedup.NewMemoryStore(dedup.DefaultTTL))

	task := completedTask(false)
	task.Status = store.TaskFailed
	task.Result = ""
	task.Error = "agent timed out"
	d.TaskFinished(context.Background(), task)

	if len(notifier.channels) != 1 || notifier.channels[0] != "C-fail" {
		t.Fatalf("channels = %v", notifier.channels)
	}
	if len(poster.posted) != 1 || !strings.Contains(poster.posted[0], "agent timed out") {
		t.Errorf("failure text not posted back: %v", poster.posted)
	}
}

func TestDispatcher_RetriesTransientPostFailure(t *testing.T) {
	poster := &fakePoster{
		msgID:   "5",
		fail:    2,
		failErr: &resilience.ExternalServiceError{Service: "github", Operation: "comment", Transient: true, Err: errors.New("502")},
	}
	d := newDispatcher(poster, &fakeNotifier{}, dedup.NewMemoryStore(dedup.DefaultTTL))

	d.TaskFinished(context.Background(), completedTask(false))

	if len(poster.posted) != 1 {
		t.Fatalf("post not retried to success: %v", poster.posted)
	}
}

func TestDispatcher_NoPosterStillNotifies(t *testing.T) {
	notifier := &fakeNotifier{}
	d := newDispatcher(&fakePoster{}, notifier, dedup.NewMemoryStore(dedup.DefaultTTL))

	task := completedTask(false)
	task.Source.Provider = store.ProviderSentry
	task.Source.Routing = store.RoutingMetadata{MonitorID: "554433"}
	d.TaskFinished(context.Background(), task)

	if len(notifier.channels) != 1 {
		t.Fatalf("notification missing: %v", notifier.channels)
	}
}

func TestBuildCompletionBlocks_ApprovalButtonsOnlyWhenRequired(t *testing.T) {
	withButtons := BuildCompletionBlocks(completedTask(true))
	without := BuildCompletionBlocks(completedTask(false))

	if !hasActions(withButtons) {
		t.Error("requires_approval task missing action block")
	}
	if hasActions(without) {
		t.Error("plain task has action block")
	}

	// Failed tasks never offer approval even when the command wants it.
	failed := completedTask(true)
	failed.Status = store.TaskFailed
	failed.Error = "boom"
	if hasActions(BuildCompletionBlocks(failed)) {
		t.Error("failed task has action block")
	}
}

func hasActions(blocks []Block) bool {
	for _, b := range blocks {
		if b["type"] == "actions" {
			return true
		}
	}
	return false
}

func TestBuildCompletionBlocks_ButtonPayload(t *testing.T) {
	blocks := BuildCompletionBlocks(completedTask(true))
	for _, b := range blocks {
		if b["type"] != "actions" {
			continue
		}
		elements := b["elements"].([]any)
		if len(elements) != 3 {
			t.Fatalf("button count = %d", len(elements))
		}
		first := elements[0].(map[string]any)
		value := first["value"].(string)
		for _, want := range []string{"task-abc123", "review", "github", "approve"} {
			if !strings.Contains(value, want) {
				t.Errorf("button value missing %q: %s", want, value)
			}
		}
		return
	}
	t.Fatal("no actions block")
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		maxLen int
		cut    bool
	}{
		{"under limit", "short", 100, false},
		{"exactly at limit", strings.Repeat("a", 50), 50, false},
		{"over limit", strings.Repeat("word ", 100), 80, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.text, tt.maxLen)
			if tt.cut {
				if len(got) > tt.maxLen {
					t.Errorf("len = %d > %d", len(got), tt.maxLen)
				}
				if !strings.HasSuffix(got, "... (truncated)") {
					t.Errorf("marker missing: %q", got)
				}
			} else if got != tt.text {
				t.Errorf("unmodified text changed: %q", got)
			}
		})
	}
}

func TestTruncate_PrefersSentenceBoundary(t *testing.T) {
	text := strings.Repeat("x", 60) + ". " + strings.Repeat("y", 60)
	got := Truncate(text, 100)
	body := strings.TrimSuffix(got, truncationSuffix)
	if !strings.HasSuffix(body, ".") {
		t.Errorf("did not cut at sentence boundary: %q", body)
	}
}
