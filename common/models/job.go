package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the status of a persistent queue row
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobDone       JobStatus = "done"
	JobFailed     JobStatus = "failed"
)

// RetryPolicy controls per-node retry behavior
type RetryPolicy struct {
	MaxRetries        int     `json:"max_retries"`
	BackoffMs         int     `json:"backoff_ms"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
}

// DefaultRetryPolicy is applied when a node config carries no retry block
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 0, BackoffMs: 1000, BackoffMultiplier: 2}
}

// RetryPolicyFromConfig extracts the retry block from a node config,
// falling back to defaults for absent fields
func RetryPolicyFromConfig(config map[string]any) RetryPolicy {
	policy := DefaultRetryPolicy()
	raw, ok := config["retry"].(map[string]any)
	if !ok {
		return policy
	}
	if v, ok := asFloat(raw["maxRetries"]); ok {
		policy.MaxRetries = int(v)
	}
	if v, ok := asFloat(raw["backoffMs"]); ok && v > 0 {
		policy.BackoffMs = int(v)
	}
	if v, ok := asFloat(raw["backoffMultiplier"]); ok && v > 0 {
		policy.BackoffMultiplier = v
	}
	return policy
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// WorkerJob is the queue payload: everything a worker needs to execute
// one node without further lookups
type WorkerJob struct {
	ID              uuid.UUID                 `json:"id"` // = StepExecution.ID
	ExecutionID     uuid.UUID                 `json:"execution_id"`
	Node            Node                      `json:"node"`
	Input           map[string]any            `json:"input,omitempty"`
	PreviousResults map[string]map[string]any `json:"previous_results,omitempty"`
	Upstream        []string                  `json:"upstream,omitempty"` // direct predecessor node IDs
	Attempt         int                       `json:"attempt"` // 1-based
	MaxRetries      int                       `json:"max_retries"`
	Retry           RetryPolicy               `json:"retry"`
}

// WorkerResult is the handler contract output: handler failures never
// escape the worker, they become one of these
type WorkerResult struct {
	JobID       uuid.UUID      `json:"job_id"`
	StepID      uuid.UUID      `json:"step_id"`
	ExecutionID uuid.UUID      `json:"execution_id"`
	NodeID      string         `json:"node_id"`
	NodeType    NodeType       `json:"node_type"`
	Status      string         `json:"status"` // completed|failed
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	DurationMs  int64          `json:"duration_ms"`
	Retryable   *bool          `json:"retryable,omitempty"`
}

// Failed reports whether the result is a failure
func (r *WorkerResult) Failed() bool {
	return r.Status == "failed"
}

// CanRetry reports whether the failure is eligible for another attempt.
// Absent Retryable means retryable.
func (r *WorkerResult) CanRetry() bool {
	return r.Retryable == nil || *r.Retryable
}

// JobRow is the durable queue contract.
// Maps to: job_queue table, index on (status, created_at)
type JobRow struct {
	ID          uuid.UUID      `db:"id" json:"id"`
	ExecutionID uuid.UUID      `db:"execution_id" json:"execution_id"`
	NodeID      string         `db:"node_id" json:"node_id"`
	NodeLabel   string         `db:"node_label" json:"node_label"`
	NodeType    NodeType       `db:"node_type" json:"node_type"`
	Payload     WorkerJob      `db:"payload" json:"payload"`
	Status      JobStatus      `db:"status" json:"status"`
	Attempts    int            `db:"attempts" json:"attempts"`
	MaxAttempts int            `db:"max_attempts" json:"max_attempts"`
	LockedAt    *time.Time     `db:"locked_at" json:"locked_at,omitempty"`
	LockedBy    string         `db:"locked_by" json:"locked_by,omitempty"`
	Result      map[string]any `db:"result" json:"result,omitempty"`
	Error       string         `db:"error" json:"error,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
}
