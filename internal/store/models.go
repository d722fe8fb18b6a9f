package store

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a task.
// QUEUED -> RUNNING -> {COMPLETED, FAILED}. Terminal states are final;
// a retry is always a brand-new task.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "QUEUED"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// Provider identifies an external trigger source.
type Provider string

const (
	ProviderGitHub Provider = "github"
	ProviderJira   Provider = "jira"
	ProviderSlack  Provider = "slack"
	ProviderSentry Provider = "sentry"
)

// RoutingMetadata is the subset of task metadata needed to reply to the
// correct place: chat channel/thread, repo/PR, ticket key, monitor issue.
type RoutingMetadata struct {
	Channel   string `json:"channel,omitempty"`   // chat channel ID
	ThreadTS  string `json:"thread_ts,omitempty"` // chat thread timestamp
	Repo      string `json:"repo,omitempty"`      // "owner/name"
	PRNumber  int    `json:"pr_number,omitempty"`
	IssueNum  int    `json:"issue_number,omitempty"`
	TicketKey string `json:"ticket_key,omitempty"` // e.g. "PROJ-123"
	MonitorID string `json:"monitor_id,omitempty"` // error-monitor issue ID
	Sender    string `json:"sender,omitempty"`
}

// SourceMetadata records where a task came from and how to route replies.
type SourceMetadata struct {
	Provider          Provider        `json:"provider"`
	Command           string          `json:"command"`
	ExternalID        string          `json:"external_id"`
	CompletionHandler string          `json:"completion_handler,omitempty"`
	RequiresApproval  bool            `json:"requires_approval,omitempty"`
	Routing           RoutingMetadata `json:"routing"`
}

// Task is one unit of agent work. Created by the flow correlator, mutated
// only by the worker pool, read by the completion dispatcher.
type Task struct {
	ID              string
	FlowID          string
	InitiatedTaskID string // root task of the flow; equals ID for the root
	ConversationID  string
	ParentTaskID    *string
	AssignedAgent   string
	Status          TaskStatus
	InputMessage    string
	Source          SourceMetadata
	OutputStream    string
	Result          string
	Error           string
	CostUSD         float64
	InputTokens     int
	OutputTokens    int
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// Conversation is a bounded context of related tasks within one flow.
// The row is keyed by flow_id (unique); a conversation break swaps the
// conversation ID on the same row, the flow binding is permanent.
type Conversation struct {
	ID              string
	FlowID          string
	InitiatedTaskID string
	UserID          string
	Title           string
	TotalCostUSD    float64
	TaskCount       int
	StartedAt       time.Time
	CompletedAt     *time.Time
}

// NewTaskID generates a task identifier.
func NewTaskID() string {
	return "task-" + shortID()
}

// NewConversationID generates a conversation identifier.
func NewConversationID() string {
	return "conv-" + shortID()
}

func shortID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])[:12]
}
