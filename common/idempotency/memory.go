package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	stepID    uuid.UUID
	expiresAt time.Time
}

// MemoryStore is an in-process TTL map with a background sweep evicting
// expired entries
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	done    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates a store with the given entry TTL and sweep interval
func NewMemoryStore(ttl, sweepInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go s.sweep(sweepInterval)
	return s
}

// CheckAndSet stores (stepID, expiry) on first sight of the key and
// reports a duplicate with the existing step ID on a live entry
func (s *MemoryStore) CheckAndSet(_ context.Context, key string, stepID uuid.UUID) (Result, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		return Result{Duplicate: true, ExistingStepID: e.stepID}, nil
	}
	s.entries[key] = memoryEntry{stepID: stepID, expiresAt: now.Add(s.ttl)}
	return Result{}, nil
}

// Remove drops the key so a retry can republish
func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Size returns the number of live entries
func (s *MemoryStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close stops the background sweep
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *MemoryStore) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for k, e := range s.entries {
				if now.After(e.expiresAt) {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		}
	}
}
