package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowsync/flowsync/common/db"
	"github.com/flowsync/flowsync/common/logger"
	"github.com/flowsync/flowsync/common/models"
)

// Writer appends audit events. Writes are fire-and-forget: failures are
// logged and never propagate into control flow.
type Writer interface {
	Record(ctx context.Context, event, entityType, entityID string, metadata map[string]any)
}

// PostgresWriter appends audit rows to the audit_log table
type PostgresWriter struct {
	db  *db.DB
	log *logger.Logger
}

// NewPostgresWriter creates a database-backed audit writer
func NewPostgresWriter(database *db.DB, log *logger.Logger) *PostgresWriter {
	return &PostgresWriter{db: database, log: log}
}

// Record appends one audit row
func (w *PostgresWriter) Record(ctx context.Context, event, entityType, entityID string, metadata map[string]any) {
	meta, err := json.Marshal(metadata)
	if err != nil {
		w.log.Warn("audit metadata not serializable", "event", event, "error", err)
		meta = []byte("{}")
	}

	query := `
		INSERT INTO audit_log (id, event, entity_type, entity_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
	`

	if _, err := w.db.Exec(ctx, query, uuid.New(), event, entityType, entityID, meta); err != nil {
		w.log.Warn("audit write failed", "event", event, "entity_id", entityID, "error", err)
	}
}

// MemoryWriter buffers audit events in memory for tests and
// single-process deployments
type MemoryWriter struct {
	mu     sync.Mutex
	events []models.AuditLog
}

// NewMemoryWriter creates an empty buffer
func NewMemoryWriter() *MemoryWriter {
	return &MemoryWriter{}
}

// Record appends one audit event
func (w *MemoryWriter) Record(_ context.Context, event, entityType, entityID string, metadata map[string]any) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.events = append(w.events, models.AuditLog{
		ID:         uuid.New(),
		Event:      event,
		EntityType: entityType,
		EntityID:   entityID,
		Metadata:   metadata,
		CreatedAt:  time.Now(),
	})
}

// Events returns a copy of all recorded events
func (w *MemoryWriter) Events() []models.AuditLog {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]models.AuditLog, len(w.events))
	copy(out, w.events)
	return out
}

// ByEvent returns events matching the given event name
func (w *MemoryWriter) ByEvent(event string) []models.AuditLog {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []models.AuditLog
	for _, e := range w.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
