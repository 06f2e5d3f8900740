package queue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/flowsync/flowsync/common/models"
)

// Stats summarizes queue state. Depth is the live count of pending rows.
type Stats struct {
	Depth          int   `json:"depth"`
	TotalEnqueued  int64 `json:"total_enqueued"`
	TotalProcessed int64 `json:"total_processed"`
	TotalFailed    int64 `json:"total_failed"`
}

// Queue is the durable FIFO job queue. Insertion-time order is the
// consumption order; concurrent dequeue must be serialized per row
// (equivalent to SELECT ... FOR UPDATE SKIP LOCKED + UPDATE).
type Queue interface {
	// Enqueue inserts a pending row for the job and publishes an
	// in-process notification for opportunistic immediate pickup.
	// Enqueueing an id that already has a row resets that row to
	// pending with the new payload (the retry path).
	Enqueue(ctx context.Context, job models.WorkerJob) error

	// Dequeue atomically locks the oldest pending row, marks it
	// processing, increments attempts, and returns its payload.
	// A nil job means no eligible row, not an error.
	Dequeue(ctx context.Context, workerID string) (*models.WorkerJob, error)

	// MarkDone sets status=done with the handler result.
	MarkDone(ctx context.Context, id uuid.UUID, result map[string]any) error

	// MarkFailed sets status=failed with the error message.
	MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error

	// Stats reports depth and lifetime counters.
	Stats(ctx context.Context) (Stats, error)

	// Notifications signals enqueues within this process. Consumers still
	// poll; the channel only shortens pickup latency.
	Notifications() <-chan struct{}

	// ReclaimStale resets processing rows whose lock is older than the
	// threshold back to pending, failing rows that are out of attempts.
	// Returns the number of rows reset. Recovery hook for crashed workers.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error)

	Close() error
}
