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

// WorkflowRepository is the Postgres WorkflowStore
type WorkflowRepository struct {
	db *db.DB
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(database *db.DB) *WorkflowRepository {
	return &WorkflowRepository{db: database}
}

// Create inserts a new workflow snapshot
func (r *WorkflowRepository) Create(ctx context.Context, wf *models.Workflow) error {
	definition, err := json.Marshal(wf.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}

	query := `
		INSERT INTO workflow (id, version, name, definition, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.Exec(ctx, query,
		wf.ID, wf.Version, wf.Name, definition, wf.Status, wf.CreatedAt, wf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}
	return nil
}

// Latest returns the highest version of a workflow
func (r *WorkflowRepository) Latest(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	query := `
		SELECT id, version, name, definition, status, created_at, updated_at
		FROM workflow
		WHERE id = $1
		ORDER BY version DESC
		LIMIT 1
	`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

// Version returns one frozen snapshot
func (r *WorkflowRepository) Version(ctx context.Context, id uuid.UUID, version int) (*models.Workflow, error) {
	query := `
		SELECT id, version, name, definition, status, created_at, updated_at
		FROM workflow
		WHERE id = $1 AND version = $2
	`
	return r.scanOne(r.db.QueryRow(ctx, query, id, version))
}

// SetStatus updates the status of every version of a workflow
func (r *WorkflowRepository) SetStatus(ctx context.Context, id uuid.UUID, status models.WorkflowStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE workflow SET status = $2, updated_at = now() WHERE id = $1`,
		id, status,
	)
	if err != nil {
		return fmt.Errorf("set workflow status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *WorkflowRepository) scanOne(row pgx.Row) (*models.Workflow, error) {
	wf := &models.Workflow{}
	var definition []byte

	err := row.Scan(
		&wf.ID, &wf.Version, &wf.Name, &definition, &wf.Status,
		&wf.CreatedAt, &wf.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan workflow: %w", err)
	}

	if err := json.Unmarshal(definition, &wf.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	return wf, nil
}
