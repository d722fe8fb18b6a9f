package resilience

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

var discard = slog.New(slog.DiscardHandler)

func testBreaker(t *testing.T, cfg BreakerConfig) (*Breaker, *time.Time) {
	t.Helper()
	b := NewBreaker("test", cfg, discard)
	now := time.Unix(1_700_000_000, 0)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreaker_OpensAtFailureThreshold(t *testing.T) {
	b, _ := testBreaker(t, BreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute, HalfOpenMaxCalls: 1})
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		if err := b.Do(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("state after 2 failures = %s", got)
	}

	b.Do(func() error { return boom })
	if got := b.State(); got != StateOpen {
		t.Fatalf("state after threshold = %s", got)
	}
	if err := b.Do(func() error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("open breaker ran the call: %v", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := testBreaker(t, BreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute, HalfOpenMaxCalls: 1})
	boom := errors.New("boom")

	b.Do(func() error { return boom })
	b.Do(func() error { return boom })
	b.Do(func() error { return nil })
	b.Do(func() error { return boom })
	b.Do(func() error { return boom })

	// Counting is consecutive, so the interleaved success kept it closed.
	if got := b.State(); got != StateClosed {
		t.Fatalf("state = %s", got)
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	b, now := testBreaker(t, BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Minute, HalfOpenMaxCalls: 5})
	boom := errors.New("boom")

	b.Do(func() error { return boom })
	if got := b.State(); got != StateOpen {
		t.Fatalf("state = %s", got)
	}

	*now = now.Add(61 * time.Second)
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("state after timeout = %s", got)
	}

	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	if got := b.State(); got != StateHalfOpen {
		t.Fatalf("one probe success closed early: %s", got)
	}
	if err := b.Do(func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("state after success threshold = %s", got)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := testBreaker(t, BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Minute, HalfOpenMaxCalls: 5})
	boom := errors.New("boom")

	b.Do(func() error { return boom })
	*now = now.Add(61 * time.Second)
	b.Do(func() error { return nil }) // one success, still half-open
	b.Do(func() error { return boom })

	if got := b.State(); got != StateOpen {
		t.Fatalf("half-open failure did not reopen: %s", got)
	}
}

func TestBreaker_HalfOpenProbeLimit(t *testing.T) {
	b, now := testBreaker(t, BreakerConfig{FailureThreshold: 1, SuccessThreshold: 5, Timeout: time.Minute, HalfOpenMaxCalls: 2})

	b.Do(func() error { return errors.New("boom") })
	*now = now.Add(61 * time.Second)

	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}
	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}
	if err := b.Allow(); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("third probe admitted: %v", err)
	}
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	p := Policy{MaxAttempts: 3, MinWait: time.Millisecond, MaxWait: 5 * time.Millisecond, Multiplier: 2}
	calls := 0
	err := Retry(context.Background(), discard, p, "post", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &ExternalServiceError{Service: "chat", Operation: "post", Transient: true, Err: errors.New("503")}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestRetry_PermanentFailsImmediately(t *testing.T) {
	p := Policy{MaxAttempts: 5, MinWait: time.Millisecond, MaxWait: time.Millisecond, Multiplier: 2}
	calls := 0
	perm := &ExternalServiceError{Service: "chat", Operation: "post", Transient: false, Err: errors.New("401")}
	err := Retry(context.Background(), discard, p, "post", func(ctx context.Context) error {
		calls++
		return perm
	})
	if !errors.Is(err, perm) {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("permanent error retried: calls = %d", calls)
	}
}

func TestRetry_ExhaustionReturnsLastError(t *testing.T) {
	p := Policy{MaxAttempts: 2, MinWait: time.Millisecond, MaxWait: time.Millisecond, Multiplier: 2}
	boom := &ExternalServiceError{Service: "tracker", Operation: "comment", Transient: true, Err: errors.New("timeout")}
	calls := 0
	err := Retry(context.Background(), discard, p, "comment", func(ctx context.Context) error {
		calls++
		return boom
	})
	if calls != 2 {
		t.Fatalf("calls = %d", calls)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("last error not wrapped: %v", err)
	}
}

func TestRetry_ContextCancelStops(t *testing.T) {
	p := Policy{MaxAttempts: 10, MinWait: time.Hour, MaxWait: time.Hour, Multiplier: 2}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, discard, p, "post", func(ctx context.Context) error {
		return &ExternalServiceError{Service: "chat", Operation: "post", Transient: true, Err: errors.New("503")}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestRetry_RateLimitHonorsAdvisoryWait(t *testing.T) {
	p := Policy{MaxAttempts: 2, MinWait: time.Hour, MaxWait: time.Hour, Multiplier: 2}
	calls := 0
	start := time.Now()
	err := Retry(context.Background(), discard, p, "post", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &RateLimitError{Service: "chat", RetryAfter: 5 * time.Millisecond}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("advisory wait ignored, slept %s", elapsed)
	}
}

func TestPolicy_WaitClamped(t *testing.T) {
	p := Policy{MaxAttempts: 10, MinWait: time.Second, MaxWait: 4 * time.Second, Multiplier: 2}
	wants := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}
	for i, want := range wants {
		if got := p.wait(i + 1); got != want {
			t.Errorf("wait(%d) = %s, want %s", i+1, got, want)
		}
	}
}
