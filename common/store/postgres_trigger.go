package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/flowsync/flowsync/common/db"
	"github.com/flowsync/flowsync/common/models"
)

// TriggerRepository is the Postgres TriggerStore
type TriggerRepository struct {
	db *db.DB
}

// NewTriggerRepository creates a new trigger repository
func NewTriggerRepository(database *db.DB) *TriggerRepository {
	return &TriggerRepository{db: database}
}

// CreateTrigger inserts a new trigger row
func (r *TriggerRepository) CreateTrigger(ctx context.Context, t *models.Trigger) error {
	config, err := json.Marshal(t.Config)
	if err != nil {
		return fmt.Errorf("marshal trigger config: %w", err)
	}

	query := `
		INSERT INTO trigger (id, workflow_id, type, config, enabled, last_fired_at, next_run_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err = r.db.Exec(ctx, query,
		t.ID, t.WorkflowID, t.Type, config, t.Enabled, t.LastFiredAt, t.NextRunAt, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create trigger: %w", err)
	}
	return nil
}

// GetTrigger retrieves a trigger by ID
func (r *TriggerRepository) GetTrigger(ctx context.Context, id uuid.UUID) (*models.Trigger, error) {
	row := r.db.QueryRow(ctx, triggerSelect+` WHERE id = $1`, id)
	return scanTrigger(row)
}

// ListEnabledCron returns enabled triggers of type cron
func (r *TriggerRepository) ListEnabledCron(ctx context.Context) ([]*models.Trigger, error) {
	rows, err := r.db.Query(ctx, triggerSelect+` WHERE type = 'cron' AND enabled ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list cron triggers: %w", err)
	}
	defer rows.Close()

	var triggers []*models.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate triggers: %w", err)
	}
	return triggers, nil
}

// MarkFired records a scheduler fire and the next expected run
func (r *TriggerRepository) MarkFired(ctx context.Context, id uuid.UUID, firedAt time.Time, nextRunAt *time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE trigger SET last_fired_at = $2, next_run_at = $3 WHERE id = $1`,
		id, firedAt, nextRunAt,
	)
	if err != nil {
		return fmt.Errorf("mark trigger fired: %w", err)
	}
	return nil
}

const triggerSelect = `
	SELECT id, workflow_id, type, config, enabled, last_fired_at, next_run_at, created_at
	FROM trigger`

func scanTrigger(row pgx.Row) (*models.Trigger, error) {
	t := &models.Trigger{}
	var config []byte

	err := row.Scan(
		&t.ID, &t.WorkflowID, &t.Type, &config, &t.Enabled,
		&t.LastFiredAt, &t.NextRunAt, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trigger: %w", err)
	}

	if len(config) > 0 {
		if err := json.Unmarshal(config, &t.Config); err != nil {
			return nil, fmt.Errorf("unmarshal trigger config: %w", err)
		}
	}
	return t, nil
}
