package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nextlevelbuilder/hookrelay/internal/store"
)

// TaskStore is the SQL implementation of store.TaskStore.
type TaskStore struct {
	db *sql.DB
}

// NewTaskStore creates a task store on db.
func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

func (s *TaskStore) CreateTask(ctx context.Context, task *store.Task) error {
	if task.ID == "" {
		task.ID = store.NewTaskID()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	meta, err := json.Marshal(task.Source)
	if err != nil {
		return fmt.Errorf("marshal source metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (task_id, flow_id, initiated_task_id, conversation_id, parent_task_id,
		 assigned_agent, status, input_message, source_metadata, output_stream, result, error,
		 cost_usd, input_tokens, output_tokens, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '', '', '', 0, 0, 0, $10)`,
		task.ID, task.FlowID, task.InitiatedTaskID, task.ConversationID, task.ParentTaskID,
		task.AssignedAgent, task.Status, task.InputMessage, string(meta), task.CreatedAt,
	)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *TaskStore) GetTask(ctx context.Context, taskID string) (*store.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT task_id, flow_id, initiated_task_id, conversation_id, parent_task_id,
		 assigned_agent, status, input_message, source_metadata, output_stream, result, error,
		 cost_usd, input_tokens, output_tokens, created_at, started_at, completed_at
		 FROM tasks WHERE task_id = $1`, taskID)

	var t store.Task
	var meta string
	var parent sql.NullString
	var started, completed sql.NullTime
	err := row.Scan(
		&t.ID, &t.FlowID, &t.InitiatedTaskID, &t.ConversationID, &parent,
		&t.AssignedAgent, &t.Status, &t.InputMessage, &meta, &t.OutputStream, &t.Result, &t.Error,
		&t.CostUSD, &t.InputTokens, &t.OutputTokens, &t.CreatedAt, &started, &completed,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if parent.Valid {
		t.ParentTaskID = &parent.String
	}
	if started.Valid {
		ts := started.Time
		t.StartedAt = &ts
	}
	if completed.Valid {
		ts := completed.Time
		t.CompletedAt = &ts
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &t.Source); err != nil {
			return nil, fmt.Errorf("decode source metadata for %s: %w", taskID, err)
		}
	}
	return &t, nil
}

func (s *TaskStore) MarkRunning(ctx context.Context, taskID string, startedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = $1, started_at = $2
		 WHERE task_id = $3 AND status = $4`,
		store.TaskRunning, startedAt.UTC(), taskID, store.TaskQueued,
	)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, taskID)
}

func (s *TaskStore) AppendOutput(ctx context.Context, taskID string, chunk string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET output_stream = output_stream || $1 WHERE task_id = $2`,
		chunk, taskID,
	)
	return err
}

func (s *TaskStore) MarkCompleted(ctx context.Context, taskID string, result string, cost float64, inputTokens, outputTokens int, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = $1, result = $2, cost_usd = $3, input_tokens = $4,
		 output_tokens = $5, completed_at = $6
		 WHERE task_id = $7 AND status = $8`,
		store.TaskCompleted, result, cost, inputTokens, outputTokens, at.UTC(),
		taskID, store.TaskRunning,
	)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, taskID)
}

func (s *TaskStore) MarkFailed(ctx context.Context, taskID string, taskErr string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = $1, error = $2, completed_at = $3
		 WHERE task_id = $4 AND status IN ($5, $6)`,
		store.TaskFailed, taskErr, at.UTC(),
		taskID, store.TaskRunning, store.TaskQueued,
	)
	if err != nil {
		return err
	}
	return s.checkTransition(ctx, res, taskID)
}

// checkTransition distinguishes "guarded update matched nothing" into the
// missing vs already-terminal cases.
func (s *TaskStore) checkTransition(ctx context.Context, res sql.Result, taskID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var status store.TaskStatus
	err = s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE task_id = $1`, taskID).Scan(&status)
	if err == sql.ErrNoRows {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	if status.Terminal() {
		return store.ErrTerminal
	}
	return fmt.Errorf("task %s in unexpected status %s", taskID, status)
}
