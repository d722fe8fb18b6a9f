package resilience

import (
	"log/slog"
	"sync"
)

// Registry hands out one breaker per external service name. The serve
// command owns a single registry so every caller hitting the same
// service shares failure state.
type Registry struct {
	cfg BreakerConfig
	log *slog.Logger

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry whose breakers use cfg.
func NewRegistry(cfg BreakerConfig, log *slog.Logger) *Registry {
	return &Registry{cfg: cfg, log: log, breakers: make(map[string]*Breaker)}
}

// Breaker returns the breaker for name, creating it on first use.
func (r *Registry) Breaker(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[name]
	if !ok {
		b = NewBreaker(name, r.cfg, r.log)
		r.breakers[name] = b
	}
	return b
}

// States snapshots every breaker's state for health reporting.
func (r *Registry) States() map[string]BreakerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]BreakerState, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.State()
	}
	return out
}
