package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a task or conversation does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert violates a uniqueness constraint.
// Callers racing on conversation creation re-fetch instead of failing.
var ErrConflict = errors.New("conflict")

// ErrTerminal is returned when a status update targets a task already in a
// terminal state.
var ErrTerminal = errors.New("task already terminal")

// TaskStore persists tasks. Updates are key-addressed and idempotent so
// multiple handler/worker instances can share one store without locks.
type TaskStore interface {
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, taskID string) (*Task, error)

	// MarkRunning transitions QUEUED -> RUNNING and stamps StartedAt.
	// Returns ErrTerminal if the task already finished, ErrNotFound if absent.
	MarkRunning(ctx context.Context, taskID string, startedAt time.Time) error

	// AppendOutput appends a streamed chunk to the task's output.
	// Partial output survives executor failure.
	AppendOutput(ctx context.Context, taskID string, chunk string) error

	// MarkCompleted transitions RUNNING -> COMPLETED with the final result.
	MarkCompleted(ctx context.Context, taskID string, result string, cost float64, inputTokens, outputTokens int, at time.Time) error

	// MarkFailed transitions RUNNING -> FAILED with a descriptive error.
	MarkFailed(ctx context.Context, taskID string, taskErr string, at time.Time) error
}

// ConversationStore persists conversations keyed by flow.
type ConversationStore interface {
	// GetByFlowID returns the flow's current conversation or ErrNotFound.
	GetByFlowID(ctx context.Context, flowID string) (*Conversation, error)

	// CreateConversation inserts a new conversation. The flow_id column
	// carries a unique constraint; a duplicate insert returns ErrConflict.
	CreateConversation(ctx context.Context, conv *Conversation) error

	// ResetConversation swaps the conversation ID on the flow's row and
	// zeroes the running totals. FlowID and InitiatedTaskID are unchanged.
	ResetConversation(ctx context.Context, flowID, newConversationID, title string, at time.Time) error

	// AddTaskStats folds a finished task's cost into the conversation totals.
	AddTaskStats(ctx context.Context, conversationID string, cost float64) error
}

// Stores bundles the persistence layer handed to every component.
type Stores struct {
	Tasks         TaskStore
	Conversations ConversationStore
}
