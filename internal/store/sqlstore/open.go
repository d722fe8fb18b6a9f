// Package sqlstore implements the task/conversation stores, the durable
// priority queue and the dedup cache on database/sql. The same statements
// run on Postgres (managed mode, pgx stdlib driver) and SQLite
// (standalone mode, modernc.org/sqlite): both accept $N placeholders and
// || concatenation.
package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// OpenPostgres opens the managed-mode Postgres database.
// The DSN comes from the environment only, never from config files.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// OpenSQLite opens the standalone-mode SQLite database at path.
// WAL mode and a busy timeout keep the queue pollers from tripping on
// writer locks.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY
	// churn under concurrent enqueue/dequeue.
	db.SetMaxOpenConns(1)
	return db, nil
}

// isUniqueViolation reports whether err is a uniqueness-constraint error
// on either backend.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
