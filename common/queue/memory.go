package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowsync/flowsync/common/logger"
	"github.com/flowsync/flowsync/common/models"
)

// MemoryQueue is an in-process queue with the same lock-and-dequeue
// semantics as the Postgres implementation. Used by tests and
// single-process deployments.
type MemoryQueue struct {
	mu             sync.Mutex
	rows           map[uuid.UUID]*models.JobRow
	order          []uuid.UUID
	totalEnqueued  int64
	totalProcessed int64
	totalFailed    int64
	notify         chan struct{}
	log            *logger.Logger
}

// NewMemoryQueue creates an empty in-memory queue
func NewMemoryQueue(log *logger.Logger) *MemoryQueue {
	return &MemoryQueue{
		rows:   make(map[uuid.UUID]*models.JobRow),
		notify: make(chan struct{}, 1),
		log:    log,
	}
}

// Enqueue inserts a pending row for the job. Re-enqueueing an existing
// id moves the row to the tail, matching the Postgres upsert which
// resets created_at.
func (q *MemoryQueue) Enqueue(_ context.Context, job models.WorkerJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.rows[job.ID]; exists {
		for i, id := range q.order {
			if id == job.ID {
				q.order = append(q.order[:i], q.order[i+1:]...)
				break
			}
		}
	}

	q.rows[job.ID] = &models.JobRow{
		ID:          job.ID,
		ExecutionID: job.ExecutionID,
		NodeID:      job.Node.ID,
		NodeLabel:   job.Node.Label,
		NodeType:    job.Node.Type,
		Payload:     job,
		Status:      models.JobPending,
		MaxAttempts: job.MaxRetries + 1,
		CreatedAt:   time.Now(),
	}
	q.order = append(q.order, job.ID)
	q.totalEnqueued++

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue returns the oldest pending job, marking it processing
func (q *MemoryQueue) Dequeue(_ context.Context, workerID string) (*models.WorkerJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range q.order {
		row := q.rows[id]
		if row == nil || row.Status != models.JobPending {
			continue
		}
		now := time.Now()
		row.Status = models.JobProcessing
		row.LockedAt = &now
		row.LockedBy = workerID
		row.Attempts++

		job := row.Payload
		return &job, nil
	}
	return nil, nil
}

// MarkDone sets status=done with the handler result
func (q *MemoryQueue) MarkDone(_ context.Context, id uuid.UUID, result map[string]any) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if row, ok := q.rows[id]; ok {
		row.Status = models.JobDone
		row.Result = result
		q.totalProcessed++
	}
	return nil
}

// MarkFailed sets status=failed with the error message
func (q *MemoryQueue) MarkFailed(_ context.Context, id uuid.UUID, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if row, ok := q.rows[id]; ok {
		row.Status = models.JobFailed
		row.Error = errMsg
		q.totalFailed++
	}
	return nil
}

// Stats reports depth and lifetime counters
func (q *MemoryQueue) Stats(_ context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	depth := 0
	for _, row := range q.rows {
		if row.Status == models.JobPending {
			depth++
		}
	}
	return Stats{
		Depth:          depth,
		TotalEnqueued:  q.totalEnqueued,
		TotalProcessed: q.totalProcessed,
		TotalFailed:    q.totalFailed,
	}, nil
}

// Notifications signals enqueues within this process
func (q *MemoryQueue) Notifications() <-chan struct{} {
	return q.notify
}

// ReclaimStale resets stuck processing rows back to pending
func (q *MemoryQueue) ReclaimStale(_ context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	q.mu.Lock()
	defer q.mu.Unlock()

	reclaimed := 0
	for _, row := range q.rows {
		if row.Status != models.JobProcessing || row.LockedAt == nil || row.LockedAt.After(cutoff) {
			continue
		}
		if row.Attempts >= row.MaxAttempts {
			row.Status = models.JobFailed
			row.Error = "lock reclaimed with no attempts remaining"
			q.totalFailed++
			continue
		}
		row.Status = models.JobPending
		row.LockedAt = nil
		row.LockedBy = ""
		reclaimed++
	}
	return reclaimed, nil
}

// Row returns a copy of the row for a job, for tests and inspection
func (q *MemoryQueue) Row(id uuid.UUID) (models.JobRow, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	row, ok := q.rows[id]
	if !ok {
		return models.JobRow{}, false
	}
	return *row, true
}

// Close releases queue resources
func (q *MemoryQueue) Close() error {
	return nil
}
