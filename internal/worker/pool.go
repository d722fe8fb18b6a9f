// Package worker drains the task queue and drives the agent executor,
// bounded by a fixed concurrency budget.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/nextlevelbuilder/hookrelay/internal/executor"
	"github.com/nextlevelbuilder/hookrelay/internal/queue"
	"github.com/nextlevelbuilder/hookrelay/internal/store"
)

const (
	dequeueWait   = time.Second
	flushInterval = 500 * time.Millisecond
	flushBytes    = 4 * 1024
)

// Sink receives live output chunks for fan-out to connected watchers.
type Sink interface {
	Publish(taskID, chunk string)
}

// Notifier is told when a task reaches a terminal state. The completion
// dispatcher implements it.
type Notifier interface {
	TaskFinished(ctx context.Context, task *store.Task)
}

// WorkspaceResolver prepares the working directory for a run.
type WorkspaceResolver interface {
	CloneOrUpdate(ctx context.Context, org, repo, ref string) (string, error)
}

// Config tunes the pool.
type Config struct {
	// Concurrency is the maximum number of simultaneously running tasks.
	Concurrency int
	// TaskTimeout bounds one agent run.
	TaskTimeout time.Duration
	// DefaultWorkingDir is used when a task has no repository routing.
	DefaultWorkingDir string
	// ShutdownGrace bounds the wait for in-flight tasks on Stop.
	ShutdownGrace time.Duration
}

// Pool pulls tasks off the queue and executes them. At most
// Config.Concurrency tasks run at once; admission is a weighted
// semaphore so a slot frees exactly when its task finishes.
type Pool struct {
	cfg        Config
	queue      queue.Queue
	stores     *store.Stores
	exec       executor.Executor
	workspaces WorkspaceResolver
	sink       Sink
	notifier   Notifier
	log        *slog.Logger

	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// New creates a pool. sink, notifier, and workspaces may be nil.
func New(cfg Config, q queue.Queue, stores *store.Stores, exec executor.Executor, workspaces WorkspaceResolver, sink Sink, notifier Notifier, log *slog.Logger) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = executor.DefaultTimeout
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	return &Pool{
		cfg:        cfg,
		queue:      q,
		stores:     stores,
		exec:       exec,
		workspaces: workspaces,
		sink:       sink,
		notifier:   notifier,
		log:        log,
		sem:        semaphore.NewWeighted(int64(cfg.Concurrency)),
	}
}

// Run drains the queue until ctx is canceled, then waits up to the
// shutdown grace for in-flight tasks. Stragglers are logged and left to
// finish on their own; their tasks stay RUNNING for the reconciliation
// sweep.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info("worker pool started", "concurrency", p.cfg.Concurrency)

	for {
		// Reserve a slot before dequeuing so an item is never pulled
		// without a worker to run it.
		if err := p.sem.Acquire(ctx, 1); err != nil {
			break
		}

		item, ok, err := p.queue.Dequeue(ctx, dequeueWait)
		if err != nil {
			p.sem.Release(1)
			if ctx.Err() != nil {
				break
			}
			p.log.Error("dequeue failed", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if !ok {
			p.sem.Release(1)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		p.wg.Add(1)
		go func(item queue.Item) {
			defer p.wg.Done()
			defer p.sem.Release(1)
			p.runTask(item)
		}(item)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.log.Info("worker pool drained")
		return nil
	case <-time.After(p.cfg.ShutdownGrace):
		p.log.Warn("worker pool shutdown grace expired with tasks still running")
		return fmt.Errorf("worker pool: in-flight tasks did not finish within %s", p.cfg.ShutdownGrace)
	}
}

// runTask executes one dequeued item end to end. It runs on a background
// context so an in-flight agent is not killed by pool shutdown.
func (p *Pool) runTask(item queue.Item) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.TaskTimeout+time.Minute)
	defer cancel()
	log := p.log.With("task_id", item.TaskID)

	task, err := p.stores.Tasks.GetTask(ctx, item.TaskID)
	if err != nil {
		log.Error("dequeued task not loadable", "error", err)
		return
	}

	now := time.Now().UTC()
	if err := p.stores.Tasks.MarkRunning(ctx, task.ID, now); err != nil {
		if errors.Is(err, store.ErrTerminal) {
			log.Warn("dequeued task already terminal", "status", task.Status)
			return
		}
		log.Error("mark running failed", "error", err)
		return
	}
	log.Info("task running", "agent", task.AssignedAgent, "command", task.Source.Command,
		"queued_for", now.Sub(item.EnqueuedAt))

	workingDir, err := p.resolveWorkingDir(ctx, task)
	if err != nil {
		p.finishFailed(ctx, task, fmt.Sprintf("prepare workspace: %v", err))
		return
	}

	out := make(chan string, 64)
	streamDone := make(chan struct{})
	go func() {
		defer close(streamDone)
		p.streamOutput(ctx, task.ID, out)
	}()

	res, err := p.exec.Execute(ctx, executor.Request{
		TaskID:     task.ID,
		Prompt:     task.InputMessage,
		WorkingDir: workingDir,
		Timeout:    p.cfg.TaskTimeout,
	}, out)
	<-streamDone

	if err != nil {
		p.finishFailed(ctx, task, fmt.Sprintf("executor: %v", err))
		return
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "agent run failed"
		}
		p.finishFailed(ctx, task, msg)
		return
	}

	at := time.Now().UTC()
	if err := p.stores.Tasks.MarkCompleted(ctx, task.ID, res.Output, res.CostUSD, res.InputTokens, res.OutputTokens, at); err != nil {
		log.Error("mark completed failed", "error", err)
		return
	}
	if err := p.stores.Conversations.AddTaskStats(ctx, task.ConversationID, res.CostUSD); err != nil {
		log.Warn("conversation stats update failed", "error", err)
	}
	log.Info("task completed", "cost_usd", res.CostUSD,
		"input_tokens", res.InputTokens, "output_tokens", res.OutputTokens)
	p.notifyTerminal(ctx, task.ID)
}

func (p *Pool) finishFailed(ctx context.Context, task *store.Task, msg string) {
	if err := p.stores.Tasks.MarkFailed(ctx, task.ID, msg, time.Now().UTC()); err != nil {
		p.log.Error("mark failed failed", "task_id", task.ID, "error", err)
		return
	}
	p.log.Warn("task failed", "task_id", task.ID, "error", msg)
	p.notifyTerminal(ctx, task.ID)
}

func (p *Pool) notifyTerminal(ctx context.Context, taskID string) {
	if p.notifier == nil {
		return
	}
	task, err := p.stores.Tasks.GetTask(ctx, taskID)
	if err != nil {
		p.log.Error("reload finished task failed", "task_id", taskID, "error", err)
		return
	}
	p.notifier.TaskFinished(ctx, task)
}

// streamOutput fans executor chunks to the live sink immediately and to
// the store in batches, so partial output survives a crash without a
// write per token.
func (p *Pool) streamOutput(ctx context.Context, taskID string, out <-chan string) {
	var buf strings.Builder
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		if err := p.stores.Tasks.AppendOutput(ctx, taskID, buf.String()); err != nil {
			p.log.Warn("append output failed", "task_id", taskID, "error", err)
		}
		buf.Reset()
	}

	for {
		select {
		case chunk, open := <-out:
			if !open {
				flush()
				return
			}
			if p.sink != nil {
				p.sink.Publish(taskID, chunk)
			}
			buf.WriteString(chunk)
			if buf.Len() >= flushBytes {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (p *Pool) resolveWorkingDir(ctx context.Context, task *store.Task) (string, error) {
	repo := task.Source.Routing.Repo
	if repo == "" || p.workspaces == nil {
		return p.cfg.DefaultWorkingDir, nil
	}
	org, name, ok := strings.Cut(repo, "/")
	if !ok {
		return "", fmt.Errorf("malformed repo %q", repo)
	}
	return p.workspaces.CloneOrUpdate(ctx, org, name, "")
}
