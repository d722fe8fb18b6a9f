package sqlstore

import (
	"database/sql"
	"fmt"
)

// sqliteSchema mirrors migrations/000001_init.up.sql for the embedded
// backend. Standalone mode has no migration runner; the schema is applied
// on open and every statement is idempotent.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		task_id           TEXT PRIMARY KEY,
		flow_id           TEXT NOT NULL,
		initiated_task_id TEXT NOT NULL,
		conversation_id   TEXT NOT NULL,
		parent_task_id    TEXT,
		assigned_agent    TEXT NOT NULL DEFAULT '',
		status            TEXT NOT NULL,
		input_message     TEXT NOT NULL,
		source_metadata   TEXT NOT NULL DEFAULT '',
		output_stream     TEXT NOT NULL DEFAULT '',
		result            TEXT NOT NULL DEFAULT '',
		error             TEXT NOT NULL DEFAULT '',
		cost_usd          REAL NOT NULL DEFAULT 0,
		input_tokens      INTEGER NOT NULL DEFAULT 0,
		output_tokens     INTEGER NOT NULL DEFAULT 0,
		created_at        TIMESTAMP NOT NULL,
		started_at        TIMESTAMP,
		completed_at      TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_flow_id ON tasks (flow_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_conversation_id ON tasks (conversation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status)`,
	`CREATE TABLE IF NOT EXISTS conversations (
		conversation_id   TEXT NOT NULL,
		flow_id           TEXT NOT NULL UNIQUE,
		initiated_task_id TEXT NOT NULL,
		user_id           TEXT NOT NULL DEFAULT '',
		title             TEXT NOT NULL DEFAULT '',
		total_cost_usd    REAL NOT NULL DEFAULT 0,
		task_count        INTEGER NOT NULL DEFAULT 0,
		started_at        TIMESTAMP NOT NULL,
		completed_at      TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_id ON conversations (conversation_id)`,
	`CREATE TABLE IF NOT EXISTS task_queue (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id     TEXT NOT NULL,
		priority    INTEGER NOT NULL DEFAULT 5,
		enqueued_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_task_queue_order ON task_queue (priority, seq)`,
	`CREATE TABLE IF NOT EXISTS dedup_keys (
		provider   TEXT NOT NULL,
		message_id TEXT NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		PRIMARY KEY (provider, message_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_dedup_keys_expiry ON dedup_keys (expires_at)`,
}

// EnsureSQLiteSchema creates the standalone-mode tables if absent.
func EnsureSQLiteSchema(db *sql.DB) error {
	for _, stmt := range sqliteSchema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return nil
}
