package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/flowsync/flowsync/common/db"
	"github.com/flowsync/flowsync/common/logger"
	"github.com/flowsync/flowsync/common/models"
)

// PostgresQueue is the durable queue. The job_queue table carries an
// index on (status, created_at) for FIFO selection, and dequeue uses
// FOR UPDATE SKIP LOCKED so concurrent workers never contend on a row.
type PostgresQueue struct {
	db     *db.DB
	notify chan struct{}
	log    *logger.Logger
}

// NewPostgresQueue creates a queue over an existing connection pool
func NewPostgresQueue(database *db.DB, log *logger.Logger) *PostgresQueue {
	return &PostgresQueue{
		db:     database,
		notify: make(chan struct{}, 1),
		log:    log,
	}
}

// Enqueue inserts a pending row for the job
func (q *PostgresQueue) Enqueue(ctx context.Context, job models.WorkerJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job payload: %w", err)
	}

	query := `
		INSERT INTO job_queue (id, execution_id, node_id, node_label, node_type, payload, status, attempts, max_attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'pending', 0, $7, now())
		ON CONFLICT (id) DO UPDATE
		SET payload = EXCLUDED.payload, status = 'pending',
		    locked_at = NULL, locked_by = '', error = '', created_at = now()
	`

	_, err = q.db.Exec(ctx, query,
		job.ID,
		job.ExecutionID,
		job.Node.ID,
		job.Node.Label,
		string(job.Node.Type),
		payload,
		job.MaxRetries+1,
	)
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}

	// Process-local wakeup; cross-process consumers rely on polling
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Dequeue locks and claims the oldest pending row
func (q *PostgresQueue) Dequeue(ctx context.Context, workerID string) (*models.WorkerJob, error) {
	tx, err := q.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin dequeue tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		SELECT id, payload
		FROM job_queue
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`

	var id uuid.UUID
	var payload []byte
	if err := tx.QueryRow(ctx, query).Scan(&id, &payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select pending job: %w", err)
	}

	update := `
		UPDATE job_queue
		SET status = 'processing', locked_at = now(), locked_by = $2, attempts = attempts + 1
		WHERE id = $1
	`
	if _, err := tx.Exec(ctx, update, id, workerID); err != nil {
		return nil, fmt.Errorf("lock job %s: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit dequeue tx: %w", err)
	}

	var job models.WorkerJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job %s payload: %w", id, err)
	}
	return &job, nil
}

// MarkDone sets status=done with the handler result
func (q *PostgresQueue) MarkDone(ctx context.Context, id uuid.UUID, result map[string]any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	_, err = q.db.Exec(ctx,
		`UPDATE job_queue SET status = 'done', result = $2 WHERE id = $1`,
		id, resultJSON,
	)
	if err != nil {
		return fmt.Errorf("mark job %s done: %w", id, err)
	}
	return nil
}

// MarkFailed sets status=failed with the error message
func (q *PostgresQueue) MarkFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := q.db.Exec(ctx,
		`UPDATE job_queue SET status = 'failed', error = $2 WHERE id = $1`,
		id, errMsg,
	)
	if err != nil {
		return fmt.Errorf("mark job %s failed: %w", id, err)
	}
	return nil
}

// Stats reports depth and lifetime counters from row counts
func (q *PostgresQueue) Stats(ctx context.Context) (Stats, error) {
	query := `
		SELECT
			count(*) FILTER (WHERE status = 'pending'),
			count(*),
			count(*) FILTER (WHERE status = 'done'),
			count(*) FILTER (WHERE status = 'failed')
		FROM job_queue
	`

	var st Stats
	err := q.db.QueryRow(ctx, query).Scan(
		&st.Depth, &st.TotalEnqueued, &st.TotalProcessed, &st.TotalFailed,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return st, nil
}

// Notifications signals enqueues within this process
func (q *PostgresQueue) Notifications() <-chan struct{} {
	return q.notify
}

// ReclaimStale resets stuck processing rows back to pending and fails
// rows that are out of attempts
func (q *PostgresQueue) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)

	failQuery := `
		UPDATE job_queue
		SET status = 'failed', error = 'lock reclaimed with no attempts remaining'
		WHERE status = 'processing' AND locked_at < $1 AND attempts >= max_attempts
	`
	if _, err := q.db.Exec(ctx, failQuery, cutoff); err != nil {
		return 0, fmt.Errorf("fail exhausted stale jobs: %w", err)
	}

	resetQuery := `
		UPDATE job_queue
		SET status = 'pending', locked_at = NULL, locked_by = NULL
		WHERE status = 'processing' AND locked_at < $1 AND attempts < max_attempts
	`
	tag, err := q.db.Exec(ctx, resetQuery, cutoff)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}

	reclaimed := int(tag.RowsAffected())
	if reclaimed > 0 {
		q.log.Warn("reclaimed stale job locks", "count", reclaimed, "older_than", olderThan)
	}
	return reclaimed, nil
}

// Close releases queue resources; the pool is owned by the bootstrap layer
func (q *PostgresQueue) Close() error {
	return nil
}
