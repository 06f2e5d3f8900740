package idempotency

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Result is the outcome of a dedup check
type Result struct {
	Duplicate      bool
	ExistingStepID uuid.UUID
}

// Store deduplicates job publication per (execution, node) within a TTL
// window. Remove allows retries to reuse the key.
type Store interface {
	CheckAndSet(ctx context.Context, key string, stepID uuid.UUID) (Result, error)
	Remove(ctx context.Context, key string) error
	Size() int
	Close() error
}

// Key builds the dedup key for a publication
func Key(executionID uuid.UUID, nodeID string) string {
	return fmt.Sprintf("%s:%s", executionID, nodeID)
}
