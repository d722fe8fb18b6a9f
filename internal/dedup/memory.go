package dedup

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process dedup store for tests and `serve --dev`.
type MemoryStore struct {
	mu   sync.Mutex
	ttl  time.Duration
	keys map[string]time.Time // provider + "\x00" + messageID -> expiry
}

// NewMemoryStore creates an empty in-memory dedup store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, keys: make(map[string]time.Time)}
}

func key(provider, messageID string) string { return provider + "\x00" + messageID }

func (s *MemoryStore) MarkPosted(ctx context.Context, provider, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key(provider, messageID)] = time.Now().Add(s.ttl)
	return nil
}

func (s *MemoryStore) Seen(ctx context.Context, provider, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.keys[key(provider, messageID)]
	if !ok {
		return false, nil
	}
	if time.Now().After(exp) {
		delete(s.keys, key(provider, messageID))
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	n := 0
	for k, exp := range s.keys {
		if now.After(exp) {
			delete(s.keys, k)
			n++
		}
	}
	return n, nil
}
