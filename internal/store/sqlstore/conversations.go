package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/nextlevelbuilder/hookrelay/internal/store"
)

// ConversationStore is the SQL implementation of store.ConversationStore.
// The conversations table carries UNIQUE(flow_id); duplicate first
// deliveries racing to create a flow's conversation surface as
// store.ErrConflict and the caller re-fetches.
type ConversationStore struct {
	db *sql.DB
}

// NewConversationStore creates a conversation store on db.
func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

func (s *ConversationStore) GetByFlowID(ctx context.Context, flowID string) (*store.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, flow_id, initiated_task_id, user_id, title,
		 total_cost_usd, task_count, started_at, completed_at
		 FROM conversations WHERE flow_id = $1`, flowID)

	var c store.Conversation
	var completed sql.NullTime
	err := row.Scan(
		&c.ID, &c.FlowID, &c.InitiatedTaskID, &c.UserID, &c.Title,
		&c.TotalCostUSD, &c.TaskCount, &c.StartedAt, &completed,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if completed.Valid {
		ts := completed.Time
		c.CompletedAt = &ts
	}
	return &c, nil
}

func (s *ConversationStore) CreateConversation(ctx context.Context, conv *store.Conversation) error {
	if conv.ID == "" {
		conv.ID = store.NewConversationID()
	}
	if conv.StartedAt.IsZero() {
		conv.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (conversation_id, flow_id, initiated_task_id, user_id, title,
		 total_cost_usd, task_count, started_at)
		 VALUES ($1, $2, $3, $4, $5, 0, 0, $6)`,
		conv.ID, conv.FlowID, conv.InitiatedTaskID, conv.UserID, conv.Title, conv.StartedAt,
	)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *ConversationStore) ResetConversation(ctx context.Context, flowID, newConversationID, title string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET conversation_id = $1, title = $2,
		 total_cost_usd = 0, task_count = 0, started_at = $3, completed_at = NULL
		 WHERE flow_id = $4`,
		newConversationID, title, at.UTC(), flowID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *ConversationStore) AddTaskStats(ctx context.Context, conversationID string, cost float64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET total_cost_usd = total_cost_usd + $1, task_count = task_count + 1
		 WHERE conversation_id = $2`,
		cost, conversationID,
	)
	return err
}
