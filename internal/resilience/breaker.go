package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the circuit breaker's current mode.
type BreakerState string

const (
	// StateClosed passes calls through and counts consecutive failures.
	StateClosed BreakerState = "closed"
	// StateOpen rejects calls until the recovery timeout elapses.
	StateOpen BreakerState = "open"
	// StateHalfOpen lets a bounded number of probe calls through.
	StateHalfOpen BreakerState = "half_open"
)

// ErrBreakerOpen is returned when the breaker rejects a call outright.
var ErrBreakerOpen = errors.New("circuit breaker open")

// BreakerConfig tunes a single breaker.
type BreakerConfig struct {
	// FailureThreshold consecutive failures trip the breaker open.
	FailureThreshold int
	// SuccessThreshold consecutive half-open successes close it again.
	SuccessThreshold int
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// HalfOpenMaxCalls bounds concurrent probes while half-open.
	HalfOpenMaxCalls int
}

// DefaultBreakerConfig matches the tuning used for chat and tracker APIs.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// Breaker is a consecutive-failure circuit breaker. Closed it counts
// failures; at the threshold it opens and rejects everything until the
// timeout, then half-opens and admits a capped number of probes. Any
// probe failure reopens it; enough probe successes close it with all
// counters reset.
type Breaker struct {
	name string
	cfg  BreakerConfig
	log  *slog.Logger
	now  func() time.Time

	mu            sync.Mutex
	state         BreakerState
	failures      int
	successes     int
	halfOpenCalls int
	openedAt      time.Time
}

// NewBreaker creates a closed breaker named for its protected service.
func NewBreaker(name string, cfg BreakerConfig, log *slog.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}
	return &Breaker{name: name, cfg: cfg, log: log, now: time.Now, state: StateClosed}
}

// State returns the current state, applying the open->half-open
// transition if the timeout has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// Allow reports whether a call may proceed and reserves a probe slot
// when half-open. Callers must pair it with Record.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		return fmt.Errorf("%s: %w", b.name, ErrBreakerOpen)
	default: // half-open
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			return fmt.Errorf("%s: %w (probe limit)", b.name, ErrBreakerOpen)
		}
		b.halfOpenCalls++
		return nil
	}
}

// Record reports a call's outcome to the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.onFailure()
		return
	}
	b.onSuccess()
}

// Do runs fn under the breaker.
func (b *Breaker) Do(fn func() error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	b.Record(err)
	return err
}

func (b *Breaker) maybeHalfOpen() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Timeout {
		b.state = StateHalfOpen
		b.successes = 0
		b.halfOpenCalls = 0
		b.log.Info("circuit breaker half-open", "breaker", b.name)
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.cfg.SuccessThreshold {
			b.state = StateClosed
			b.failures = 0
			b.successes = 0
			b.halfOpenCalls = 0
			b.log.Info("circuit breaker closed", "breaker", b.name)
		}
	}
}

func (b *Breaker) onFailure() {
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.trip()
		}
	case StateHalfOpen:
		// A single probe failure reopens immediately.
		b.trip()
	}
}

func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.successes = 0
	b.halfOpenCalls = 0
	b.log.Warn("circuit breaker open", "breaker", b.name, "failures", b.failures)
}
