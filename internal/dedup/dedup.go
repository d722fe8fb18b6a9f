// Package dedup tracks the message/comment IDs this system has posted so
// its own replies never re-trigger command matching. Keys carry a short
// TTL; the dispatcher writes them, the command matcher reads them.
package dedup

import (
	"context"
	"time"
)

// DefaultTTL bounds how long a posted-message key blocks re-triggering.
// Provider redeliveries arrive within minutes; an hour is ample.
const DefaultTTL = time.Hour

// Store is the dedup key-value cache.
type Store interface {
	// MarkPosted records a message this system posted. Idempotent;
	// re-marking extends the TTL.
	MarkPosted(ctx context.Context, provider, messageID string) error

	// Seen reports whether the message ID was posted by this system and
	// has not expired.
	Seen(ctx context.Context, provider, messageID string) (bool, error)

	// Sweep removes expired keys and returns how many were dropped.
	Sweep(ctx context.Context) (int, error)
}
