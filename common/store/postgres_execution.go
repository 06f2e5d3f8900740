package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/flowsync/flowsync/common/db"
	"github.com/flowsync/flowsync/common/models"
)

// ExecutionRepository is the Postgres ExecutionStore
type ExecutionRepository struct {
	db *db.DB
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(database *db.DB) *ExecutionRepository {
	return &ExecutionRepository{db: database}
}

// CreateExecution inserts a new execution row
func (r *ExecutionRepository) CreateExecution(ctx context.Context, e *models.Execution) error {
	input, err := json.Marshal(e.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}

	query := `
		INSERT INTO execution (id, workflow_id, workflow_version, status, input, user_id, started_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.Exec(ctx, query,
		e.ID, e.WorkflowID, e.WorkflowVersion, e.Status, input, e.UserID, e.StartedAt, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create execution: %w", err)
	}
	return nil
}

// GetExecution retrieves an execution by ID
func (r *ExecutionRepository) GetExecution(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	query := `
		SELECT id, workflow_id, workflow_version, status, input, output, error, user_id, started_at, completed_at, created_at
		FROM execution
		WHERE id = $1
	`

	e := &models.Execution{}
	var input, output []byte
	var errMsg *string

	err := r.db.QueryRow(ctx, query, id).Scan(
		&e.ID, &e.WorkflowID, &e.WorkflowVersion, &e.Status,
		&input, &output, &errMsg, &e.UserID,
		&e.StartedAt, &e.CompletedAt, &e.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get execution: %w", err)
	}

	if len(input) > 0 {
		if err := json.Unmarshal(input, &e.Input); err != nil {
			return nil, fmt.Errorf("unmarshal input: %w", err)
		}
	}
	if len(output) > 0 {
		if err := json.Unmarshal(output, &e.Output); err != nil {
			return nil, fmt.Errorf("unmarshal output: %w", err)
		}
	}
	if errMsg != nil {
		e.Error = *errMsg
	}
	return e, nil
}

// SetExecutionStatus transitions an execution. Terminal states stick.
func (r *ExecutionRepository) SetExecutionStatus(ctx context.Context, id uuid.UUID, status models.ExecutionStatus, errMsg string) error {
	query := `
		UPDATE execution
		SET status = $2,
		    error = NULLIF($3, ''),
		    completed_at = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') THEN now() ELSE completed_at END
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
	`

	_, err := r.db.Exec(ctx, query, id, status, errMsg)
	if err != nil {
		return fmt.Errorf("set execution status: %w", err)
	}
	return nil
}

// CompleteExecution marks the execution completed with its output map
func (r *ExecutionRepository) CompleteExecution(ctx context.Context, id uuid.UUID, output map[string]any) error {
	outputJSON, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}

	query := `
		UPDATE execution
		SET status = 'completed', output = $2, completed_at = now()
		WHERE id = $1 AND status NOT IN ('completed', 'failed', 'cancelled')
	`

	_, err = r.db.Exec(ctx, query, id, outputJSON)
	if err != nil {
		return fmt.Errorf("complete execution: %w", err)
	}
	return nil
}

// CreateStep inserts a new step row
func (r *ExecutionRepository) CreateStep(ctx context.Context, s *models.StepExecution) error {
	result, err := json.Marshal(s.Result)
	if err != nil {
		return fmt.Errorf("marshal step result: %w", err)
	}

	query := `
		INSERT INTO step_execution (id, execution_id, node_id, node_label, node_type, status, attempts, result, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)
	`

	_, err = r.db.Exec(ctx, query,
		s.ID, s.ExecutionID, s.NodeID, s.NodeLabel, s.NodeType,
		s.Status, s.Attempts, result, s.Error, s.StartedAt, s.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("create step: %w", err)
	}
	return nil
}

// GetStep retrieves a step by ID
func (r *ExecutionRepository) GetStep(ctx context.Context, id uuid.UUID) (*models.StepExecution, error) {
	row := r.db.QueryRow(ctx, stepSelect+` WHERE id = $1`, id)
	return scanStep(row)
}

// DeleteStep removes a step row
func (r *ExecutionRepository) DeleteStep(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM step_execution WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete step: %w", err)
	}
	return nil
}

// ListSteps returns all steps of an execution, oldest first
func (r *ExecutionRepository) ListSteps(ctx context.Context, executionID uuid.UUID) ([]*models.StepExecution, error) {
	rows, err := r.db.Query(ctx, stepSelect+` WHERE execution_id = $1 ORDER BY started_at`, executionID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var steps []*models.StepExecution
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate steps: %w", err)
	}
	return steps, nil
}

// MarkStepRunning transitions pending -> running
func (r *ExecutionRepository) MarkStepRunning(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE step_execution SET status = 'running' WHERE id = $1 AND status = 'pending'`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("mark step running: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateStepResult records the terminal outcome of a step. A step
// already swept to skipped keeps that status; the late result is
// recorded without resurrecting it.
func (r *ExecutionRepository) UpdateStepResult(ctx context.Context, id uuid.UUID, status models.StepStatus, result map[string]any, errMsg string) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal step result: %w", err)
	}

	query := `
		UPDATE step_execution
		SET status = CASE WHEN status = 'skipped' THEN status ELSE $2 END,
		    result = $3,
		    error = NULLIF($4, ''),
		    completed_at = CASE WHEN status = 'skipped' THEN completed_at ELSE now() END
		WHERE id = $1
	`

	_, err = r.db.Exec(ctx, query, id, status, resultJSON, errMsg)
	if err != nil {
		return fmt.Errorf("update step result: %w", err)
	}
	return nil
}

// ResetStepForRetry returns a step to pending between attempts
func (r *ExecutionRepository) ResetStepForRetry(ctx context.Context, id uuid.UUID, errMsg string, attempts int) error {
	query := `
		UPDATE step_execution
		SET status = 'pending', error = $2, attempts = $3, completed_at = NULL
		WHERE id = $1
	`

	_, err := r.db.Exec(ctx, query, id, errMsg, attempts)
	if err != nil {
		return fmt.Errorf("reset step for retry: %w", err)
	}
	return nil
}

// SweepSteps moves every step of the execution in one of the `from`
// statuses to `to`
func (r *ExecutionRepository) SweepSteps(ctx context.Context, executionID uuid.UUID, from []models.StepStatus, to models.StepStatus) (int, error) {
	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}

	query := `
		UPDATE step_execution
		SET status = $3, completed_at = now()
		WHERE execution_id = $1 AND status = ANY($2)
	`

	tag, err := r.db.Exec(ctx, query, executionID, statuses, to)
	if err != nil {
		return 0, fmt.Errorf("sweep steps: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

const stepSelect = `
	SELECT id, execution_id, node_id, node_label, node_type, status, attempts, result, error, started_at, completed_at
	FROM step_execution`

func scanStep(row pgx.Row) (*models.StepExecution, error) {
	s := &models.StepExecution{}
	var result []byte
	var errMsg *string

	err := row.Scan(
		&s.ID, &s.ExecutionID, &s.NodeID, &s.NodeLabel, &s.NodeType,
		&s.Status, &s.Attempts, &result, &errMsg, &s.StartedAt, &s.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan step: %w", err)
	}

	if len(result) > 0 {
		if err := json.Unmarshal(result, &s.Result); err != nil {
			return nil, fmt.Errorf("unmarshal step result: %w", err)
		}
	}
	if errMsg != nil {
		s.Error = *errMsg
	}
	return s, nil
}
