package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/ports"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is an in-memory implementation of the NonceStore interface.
// Expiry is enforced when reading; expired entries are swept on writes.
type MemoryStore struct {
	entries map[string]entry
	mu      sync.Mutex
	now     func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

var _ ports.NonceStore = (*MemoryStore)(nil)

// Put stores a value, replacing any previous one under the same key
func (s *MemoryStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to store nonce: %w: %w", core.ErrUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	s.entries[key] = entry{value: value, expiresAt: now.Add(ttl)}
	return nil
}

// Take returns and removes the value under key
func (s *MemoryStore) Take(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, fmt.Errorf("failed to consume nonce: %w: %w", core.ErrUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return "", false, nil
	}
	delete(s.entries, key)

	if !s.now().Before(e.expiresAt) {
		return "", false, nil
	}
	return e.value, true, nil
}

// Len returns the number of stored entries, expired ones included
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
