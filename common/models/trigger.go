package models

import (
	"time"

	"github.com/google/uuid"
)

// TriggerType enumerates how a workflow run can be initiated
type TriggerType string

const (
	TriggerManual  TriggerType = "manual"
	TriggerWebhook TriggerType = "webhook"
	TriggerCron    TriggerType = "cron"
)

// TriggerConfig holds per-type trigger settings. Expression is required
// for cron triggers; Input is passed to the fired execution.
type TriggerConfig struct {
	Expression string         `json:"expression,omitempty"`
	Input      map[string]any `json:"input,omitempty"`
}

// Trigger references (does not own) its workflow.
// Maps to: trigger table
type Trigger struct {
	ID          uuid.UUID     `db:"id" json:"id"`
	WorkflowID  uuid.UUID     `db:"workflow_id" json:"workflow_id"`
	Type        TriggerType   `db:"type" json:"type"`
	Config      TriggerConfig `db:"config" json:"config"`
	Enabled     bool          `db:"enabled" json:"enabled"`
	LastFiredAt *time.Time    `db:"last_fired_at" json:"last_fired_at,omitempty"`
	NextRunAt   *time.Time    `db:"next_run_at" json:"next_run_at,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
}
