// Package flow correlates matched commands into flows and conversations.
// A flow is everything tracing back to one external trigger; its ID is a
// pure function of the trigger's external ID, so duplicate deliveries
// always land in the same flow.
package flow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nextlevelbuilder/hookrelay/internal/command"
	"github.com/nextlevelbuilder/hookrelay/internal/store"
	"github.com/nextlevelbuilder/hookrelay/internal/webhook"
)

// breakPhrases start a fresh conversation when present anywhere in the
// input text, case-insensitively. An explicit metadata flag always wins.
var breakPhrases = []string{
	"new conversation",
	"start fresh",
	"new context",
	"reset conversation",
}

// FlowID derives the deterministic flow identifier for an external ID.
// Identical input always yields identical output.
func FlowID(externalID string) string {
	sum := sha256.Sum256([]byte(externalID))
	return "flow-" + hex.EncodeToString(sum[:])[:12]
}

// WantsNewConversation reports whether text requests a conversation break.
func WantsNewConversation(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range breakPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Request is the input for task correlation.
type Request struct {
	Event *webhook.Event
	Match *command.Match

	// ParentTaskID links a follow-up task spawned from an earlier one.
	// The child copies flow_id and initiated_task_id from the parent.
	ParentTask *store.Task

	// ForceNewConversation is the explicit metadata flag; it overrides
	// phrase detection in either direction when set.
	ForceNewConversation *bool
}

// Correlator builds task shells with flow and conversation identity.
type Correlator struct {
	stores *store.Stores
	log    *slog.Logger
}

// NewCorrelator creates a correlator over the given stores.
func NewCorrelator(stores *store.Stores, log *slog.Logger) *Correlator {
	return &Correlator{stores: stores, log: log}
}

// CorrelateTask resolves flow and conversation for the request and
// persists the new task in QUEUED state.
func (c *Correlator) CorrelateTask(ctx context.Context, req Request) (*store.Task, error) {
	ev := req.Event
	now := time.Now().UTC()

	task := &store.Task{
		ID:            store.NewTaskID(),
		AssignedAgent: req.Match.Command.TargetAgent,
		Status:        store.TaskQueued,
		InputMessage:  buildInputMessage(ev, req.Match),
		CreatedAt:     now,
		Source: store.SourceMetadata{
			Provider:         ev.Provider,
			Command:          req.Match.Command.Name,
			ExternalID:       ev.ExternalID,
			RequiresApproval: req.Match.Command.RequiresApproval,
			Routing:          ev.Routing,
		},
	}

	if req.ParentTask != nil {
		// Descendants inherit flow identity unchanged, regardless of
		// conversation breaks.
		task.FlowID = req.ParentTask.FlowID
		task.InitiatedTaskID = req.ParentTask.InitiatedTaskID
		parentID := req.ParentTask.ID
		task.ParentTaskID = &parentID
	} else {
		task.FlowID = FlowID(ev.ExternalID)
		task.InitiatedTaskID = task.ID
	}

	conv, err := c.getOrCreateConversation(ctx, task, ev)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation for flow %s: %w", task.FlowID, err)
	}

	newConv := WantsNewConversation(ev.Text)
	if req.ForceNewConversation != nil {
		newConv = *req.ForceNewConversation
	}
	if newConv && conv.InitiatedTaskID != task.ID {
		// Swap the conversation on the existing flow row; flow identity
		// and initiated task are untouched.
		fresh := store.NewConversationID()
		if err := c.stores.Conversations.ResetConversation(ctx, task.FlowID, fresh, conversationTitle(ev), now); err != nil {
			return nil, fmt.Errorf("reset conversation: %w", err)
		}
		c.log.Info("conversation break",
			"flow_id", task.FlowID, "old_conversation", conv.ID, "new_conversation", fresh)
		conv.ID = fresh
	}
	task.ConversationID = conv.ID

	if err := c.stores.Tasks.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	c.log.Info("task correlated",
		"task_id", task.ID, "flow_id", task.FlowID,
		"conversation_id", task.ConversationID, "command", task.Source.Command)
	return task, nil
}

// getOrCreateConversation looks the flow's conversation up and lazily
// creates it for the first task. Racing duplicate first deliveries hit
// the flow_id unique constraint; the loser re-fetches the winner's row.
func (c *Correlator) getOrCreateConversation(ctx context.Context, task *store.Task, ev *webhook.Event) (*store.Conversation, error) {
	conv, err := c.stores.Conversations.GetByFlowID(ctx, task.FlowID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	conv = &store.Conversation{
		ID:              store.NewConversationID(),
		FlowID:          task.FlowID,
		InitiatedTaskID: task.InitiatedTaskID,
		UserID:          ev.UserID,
		Title:           conversationTitle(ev),
		StartedAt:       time.Now().UTC(),
	}
	err = c.stores.Conversations.CreateConversation(ctx, conv)
	if err == nil {
		return conv, nil
	}
	if errors.Is(err, store.ErrConflict) {
		return c.stores.Conversations.GetByFlowID(ctx, task.FlowID)
	}
	return nil, err
}

func conversationTitle(ev *webhook.Event) string {
	return fmt.Sprintf("%s %s", ev.Provider, ev.ExternalID)
}

// buildInputMessage renders the prompt handed to the agent: the command
// arguments, falling back to the full normalized text.
func buildInputMessage(ev *webhook.Event, match *command.Match) string {
	if match.Args != "" {
		return match.Args
	}
	return ev.Text
}
