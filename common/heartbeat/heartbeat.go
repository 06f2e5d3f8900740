package heartbeat

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowsync/flowsync/common/logger"
)

// InFlight tracks one dispatched job
type InFlight struct {
	JobID         uuid.UUID `json:"job_id"`
	ExecutionID   uuid.UUID `json:"execution_id"`
	NodeLabel     string    `json:"node_label"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Status is a snapshot of monitor state. Stalled jobs are a surfaced
// condition, not an automatic action.
type Status struct {
	InFlight int        `json:"in_flight"`
	Stalled  []InFlight `json:"stalled,omitempty"`
}

// Monitor tracks in-flight jobs and detects stalls
type Monitor struct {
	mu             sync.Mutex
	jobs           map[uuid.UUID]*InFlight
	stallThreshold time.Duration
	log            *logger.Logger
}

// New creates a monitor with the given stall threshold
func New(stallThreshold time.Duration, log *logger.Logger) *Monitor {
	return &Monitor{
		jobs:           make(map[uuid.UUID]*InFlight),
		stallThreshold: stallThreshold,
		log:            log,
	}
}

// Register records a job at dispatch time
func (m *Monitor) Register(jobID, executionID uuid.UUID, nodeLabel string) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[jobID] = &InFlight{
		JobID:         jobID,
		ExecutionID:   executionID,
		NodeLabel:     nodeLabel,
		StartedAt:     now,
		LastHeartbeat: now,
	}
}

// Beat refreshes the last heartbeat of a job
func (m *Monitor) Beat(jobID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok {
		j.LastHeartbeat = time.Now()
	}
}

// Deregister removes a job on terminal state
func (m *Monitor) Deregister(jobID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
}

// Status reports in-flight count and the stalled subset
func (m *Monitor) Status() Status {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{InFlight: len(m.jobs)}
	for _, j := range m.jobs {
		if now.Sub(j.LastHeartbeat) > m.stallThreshold {
			st.Stalled = append(st.Stalled, *j)
		}
	}
	return st
}
