package queue

import (
	"context"
	"database/sql"
	"time"
)

// Dialect selects backend-specific SQL for the durable queue.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// pollInterval is how often a blocked Dequeue re-checks the table.
const pollInterval = 250 * time.Millisecond

// SQLQueue is a priority queue on a task_queue table. The dequeue is a
// single DELETE ... RETURNING of the lowest (priority, seq) row, which
// gives exactly-once removal without any in-process coordination; on
// Postgres SKIP LOCKED lets multiple worker processes share the table.
type SQLQueue struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLQueue creates a durable queue on db.
func NewSQLQueue(db *sql.DB, dialect Dialect) *SQLQueue {
	return &SQLQueue{db: db, dialect: dialect}
}

func (q *SQLQueue) Enqueue(ctx context.Context, taskID string, priority int) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO task_queue (task_id, priority, enqueued_at) VALUES ($1, $2, $3)`,
		taskID, priority, time.Now().UTC(),
	)
	return err
}

func (q *SQLQueue) Dequeue(ctx context.Context, timeout time.Duration) (Item, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		item, ok, err := q.tryDequeue(ctx)
		if err != nil || ok {
			return item, ok, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Item{}, false, nil
		}
		wait := pollInterval
		if remaining < wait {
			wait = remaining
		}
		select {
		case <-ctx.Done():
			return Item{}, false, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (q *SQLQueue) tryDequeue(ctx context.Context) (Item, bool, error) {
	lock := ""
	if q.dialect == DialectPostgres {
		lock = " FOR UPDATE SKIP LOCKED"
	}
	row := q.db.QueryRowContext(ctx,
		`DELETE FROM task_queue WHERE seq = (
		   SELECT seq FROM task_queue ORDER BY priority, seq LIMIT 1`+lock+`
		 ) RETURNING task_id, priority, enqueued_at`)

	var item Item
	err := row.Scan(&item.TaskID, &item.Priority, &item.EnqueuedAt)
	if err == sql.ErrNoRows {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, err
	}
	return item, true, nil
}

func (q *SQLQueue) Size(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_queue`).Scan(&n)
	return n, err
}
