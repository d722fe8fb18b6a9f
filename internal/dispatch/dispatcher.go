package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/hookrelay/internal/dedup"
	"github.com/nextlevelbuilder/hookrelay/internal/resilience"
	"github.com/nextlevelbuilder/hookrelay/internal/store"
)

// Config tunes the dispatcher.
type Config struct {
	// SuccessChannel receives notifications for COMPLETED tasks.
	SuccessChannel string
	// FailureChannel receives notifications for FAILED tasks.
	FailureChannel string
	// RetryPolicy wraps every outbound call.
	RetryPolicy resilience.Policy
}

// Dispatcher handles terminal task transitions: it posts the result back
// to the task's source, marks the posted message in the dedup store, and
// raises a chat notification. Failures here are logged, never propagated
// into the worker loop.
type Dispatcher struct {
	cfg      Config
	posters  map[store.Provider]TextPoster
	notifier ChatNotifier
	dedup    dedup.Store
	breakers *resilience.Registry
	log      *slog.Logger
}

// New creates a dispatcher. Providers without a poster (the error
// monitor has no comment surface) get the chat notification only.
func New(cfg Config, posters map[store.Provider]TextPoster, notifier ChatNotifier, dd dedup.Store, breakers *resilience.Registry, log *slog.Logger) *Dispatcher {
	if cfg.RetryPolicy.MaxAttempts == 0 {
		cfg.RetryPolicy = resilience.DefaultPolicy()
	}
	return &Dispatcher{
		cfg:      cfg,
		posters:  posters,
		notifier: notifier,
		dedup:    dd,
		breakers: breakers,
		log:      log,
	}
}

// TaskFinished implements the worker pool's terminal callback.
func (d *Dispatcher) TaskFinished(ctx context.Context, task *store.Task) {
	if !task.Status.Terminal() {
		d.log.Error("dispatcher called with non-terminal task", "task_id", task.ID, "status", task.Status)
		return
	}

	d.postToSource(ctx, task)
	d.notify(ctx, task)
}

// postToSource replies where the trigger came from and records the
// posted message so it never re-triggers matching.
func (d *Dispatcher) postToSource(ctx context.Context, task *store.Task) {
	poster, ok := d.posters[task.Source.Provider]
	if !ok {
		d.log.Debug("no reply surface for provider", "provider", task.Source.Provider, "task_id", task.ID)
		return
	}

	text := d.resultText(task)
	var messageID string
	err := d.guarded(ctx, string(task.Source.Provider), "post result", func(ctx context.Context) error {
		var postErr error
		messageID, postErr = poster.PostText(ctx, task.Source.Routing, text)
		return postErr
	})
	if err != nil {
		d.log.Error("result post failed", "task_id", task.ID, "provider", task.Source.Provider, "error", err)
		return
	}

	if err := d.dedup.MarkPosted(ctx, string(task.Source.Provider), messageID); err != nil {
		// Worst case the next delivery of our own comment is stopped by
		// the bot-actor check instead.
		d.log.Warn("dedup mark failed", "task_id", task.ID, "message_id", messageID, "error", err)
	}
	d.log.Info("result posted", "task_id", task.ID, "provider", task.Source.Provider, "message_id", messageID)
}

// notify raises the chat notification on the outcome channel.
func (d *Dispatcher) notify(ctx context.Context, task *store.Task) {
	if d.notifier == nil {
		return
	}
	channel := d.cfg.SuccessChannel
	if task.Status == store.TaskFailed {
		channel = d.cfg.FailureChannel
	}
	if channel == "" {
		return
	}

	blocks := BuildCompletionBlocks(task)
	fallback := fmt.Sprintf("Task %s %s (%s)", task.ID, task.Status, task.Source.Command)

	var messageID string
	err := d.guarded(ctx, "chat-notify", "notification", func(ctx context.Context) error {
		var postErr error
		messageID, postErr = d.notifier.PostNotification(ctx, channel, fallback, blocks)
		return postErr
	})
	if err != nil {
		d.log.Error("notification failed", "task_id", task.ID, "channel", channel, "error", err)
		return
	}
	if messageID != "" {
		if err := d.dedup.MarkPosted(ctx, string(store.ProviderSlack), messageID); err != nil {
			d.log.Warn("dedup mark failed", "task_id", task.ID, "message_id", messageID, "error", err)
		}
	}
}

// guarded composes breaker-around-retry for one outbound call site.
func (d *Dispatcher) guarded(ctx context.Context, breakerName, op string, fn func(ctx context.Context) error) error {
	breaker := d.breakers.Breaker(breakerName)
	return breaker.Do(func() error {
		return resilience.Retry(ctx, d.log, d.cfg.RetryPolicy, op, fn)
	})
}

func (d *Dispatcher) resultText(task *store.Task) string {
	if task.Status == store.TaskCompleted {
		if task.Result == "" {
			return "✅ Task completed."
		}
		return "✅ " + task.Result
	}
	if task.Error == "" {
		return "❌ Task failed."
	}
	return "❌ Task failed: " + task.Error
}
