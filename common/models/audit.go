package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditLog is an append-only record of an engine event. Audit writes are
// best-effort and never affect control flow.
// Maps to: audit_log table
type AuditLog struct {
	ID         uuid.UUID      `db:"id" json:"id"`
	Event      string         `db:"event" json:"event"`
	EntityType string         `db:"entity_type" json:"entity_type"`
	EntityID   string         `db:"entity_id" json:"entity_id"`
	Metadata   map[string]any `db:"metadata" json:"metadata,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
}
