package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/flowsync/flowsync/common/models"
)

// WorkflowStore persists immutable workflow snapshots keyed by (id, version)
type WorkflowStore interface {
	// Create inserts a new snapshot (a new workflow or a new version
	// of an existing one).
	Create(ctx context.Context, wf *models.Workflow) error

	// Latest returns the highest version of a workflow.
	Latest(ctx context.Context, id uuid.UUID) (*models.Workflow, error)

	// Version returns one frozen snapshot.
	Version(ctx context.Context, id uuid.UUID, version int) (*models.Workflow, error)

	// SetStatus updates the status of every version of a workflow.
	SetStatus(ctx context.Context, id uuid.UUID, status models.WorkflowStatus) error
}

// ExecutionStore persists executions and their step rows
type ExecutionStore interface {
	CreateExecution(ctx context.Context, e *models.Execution) error
	GetExecution(ctx context.Context, id uuid.UUID) (*models.Execution, error)

	// SetExecutionStatus transitions an execution. Terminal states stick:
	// the update is a no-op when the execution is already terminal.
	SetExecutionStatus(ctx context.Context, id uuid.UUID, status models.ExecutionStatus, errMsg string) error

	// CompleteExecution marks the execution completed with its output map.
	CompleteExecution(ctx context.Context, id uuid.UUID, output map[string]any) error

	CreateStep(ctx context.Context, s *models.StepExecution) error
	GetStep(ctx context.Context, id uuid.UUID) (*models.StepExecution, error)

	// DeleteStep removes a step row; used when a publication loses the
	// idempotency race.
	DeleteStep(ctx context.Context, id uuid.UUID) error

	ListSteps(ctx context.Context, executionID uuid.UUID) ([]*models.StepExecution, error)

	// MarkStepRunning transitions pending -> running. Returns false when
	// the step is no longer pending (concurrently cancelled or skipped).
	MarkStepRunning(ctx context.Context, id uuid.UUID) (bool, error)

	// UpdateStepResult records the terminal outcome of a step.
	UpdateStepResult(ctx context.Context, id uuid.UUID, status models.StepStatus, result map[string]any, errMsg string) error

	// ResetStepForRetry returns a step to pending between attempts.
	ResetStepForRetry(ctx context.Context, id uuid.UUID, errMsg string, attempts int) error

	// SweepSteps moves every step of the execution whose status is in
	// `from` to `to`. Returns the number of rows moved.
	SweepSteps(ctx context.Context, executionID uuid.UUID, from []models.StepStatus, to models.StepStatus) (int, error)
}

// TriggerStore persists workflow triggers
type TriggerStore interface {
	CreateTrigger(ctx context.Context, t *models.Trigger) error
	GetTrigger(ctx context.Context, id uuid.UUID) (*models.Trigger, error)

	// ListEnabledCron returns enabled triggers of type cron.
	ListEnabledCron(ctx context.Context) ([]*models.Trigger, error)

	// MarkFired records a scheduler fire and the next expected run.
	MarkFired(ctx context.Context, id uuid.UUID, firedAt time.Time, nextRunAt *time.Time) error
}
