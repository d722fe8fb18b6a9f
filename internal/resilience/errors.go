// Package resilience wraps calls to external services with retry and
// circuit-breaker protection.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ExternalServiceError marks a failure talking to a named external
// service. Transient failures are eligible for retry; permanent ones
// (auth, bad request) surface immediately.
type ExternalServiceError struct {
	Service   string
	Operation string
	Transient bool
	Err       error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Service, e.Operation, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// RateLimitError signals the remote asked us to back off. RetryAfter is
// advisory; zero means the caller falls back to its normal backoff.
type RateLimitError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited (retry after %s)", e.Service, e.RetryAfter)
}

// Transient reports whether err is worth retrying: explicit transient
// service errors, rate limits, timeouts, and connectivity failures.
// Context cancellation is never transient.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *ExternalServiceError
	if errors.As(err, &se) {
		return se.Transient
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return false
}
