package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Policy controls retry behavior. Waits grow by Multiplier each attempt
// and are clamped to [MinWait, MaxWait].
type Policy struct {
	MaxAttempts int
	MinWait     time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultPolicy retries transient failures three times with 1s..30s
// exponential backoff.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, MinWait: time.Second, MaxWait: 30 * time.Second, Multiplier: 2}
}

func (p Policy) wait(attempt int) time.Duration {
	d := p.MinWait
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d >= p.MaxWait {
			return p.MaxWait
		}
	}
	if d > p.MaxWait {
		return p.MaxWait
	}
	return d
}

// Retry runs fn until it succeeds, fails permanently, or attempts are
// exhausted. Rate-limit errors honor the advisory wait instead of the
// backoff schedule. The last error is returned on exhaustion.
func Retry(ctx context.Context, log *slog.Logger, p Policy, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !Transient(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := p.wait(attempt)
		if rl, ok := asRateLimit(lastErr); ok && rl.RetryAfter > 0 {
			wait = rl.RetryAfter
		}
		log.Warn("retrying after transient failure",
			"operation", op, "attempt", attempt, "wait", wait, "error", lastErr)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s: attempts exhausted: %w", op, lastErr)
}

func asRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
