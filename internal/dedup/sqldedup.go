package dedup

import (
	"context"
	"database/sql"
	"time"
)

// SQLStore keeps dedup keys in a dedup_keys table with per-row expiry.
// Works on both Postgres and SQLite (upsert via ON CONFLICT).
type SQLStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewSQLStore creates a dedup store on db. ttl <= 0 uses DefaultTTL.
func NewSQLStore(db *sql.DB, ttl time.Duration) *SQLStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &SQLStore{db: db, ttl: ttl}
}

func (s *SQLStore) MarkPosted(ctx context.Context, provider, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dedup_keys (provider, message_id, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (provider, message_id) DO UPDATE SET expires_at = $3`,
		provider, messageID, time.Now().UTC().Add(s.ttl),
	)
	return err
}

func (s *SQLStore) Seen(ctx context.Context, provider, messageID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dedup_keys
		 WHERE provider = $1 AND message_id = $2 AND expires_at > $3`,
		provider, messageID, time.Now().UTC(),
	).Scan(&n)
	return n > 0, err
}

func (s *SQLStore) Sweep(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dedup_keys WHERE expires_at <= $1`, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
