package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowsync/flowsync/common/models"
)

// Memory is an in-process implementation of all stores, with the same
// transition guards as the Postgres repositories. Used by tests and
// single-process deployments.
type Memory struct {
	mu         sync.Mutex
	workflows  map[uuid.UUID][]*models.Workflow // ordered by version
	executions map[uuid.UUID]*models.Execution
	steps      map[uuid.UUID]*models.StepExecution
	stepOrder  map[uuid.UUID][]uuid.UUID // executionID -> step IDs, insertion order
	triggers   map[uuid.UUID]*models.Trigger
}

// NewMemory creates an empty store
func NewMemory() *Memory {
	return &Memory{
		workflows:  make(map[uuid.UUID][]*models.Workflow),
		executions: make(map[uuid.UUID]*models.Execution),
		steps:      make(map[uuid.UUID]*models.StepExecution),
		stepOrder:  make(map[uuid.UUID][]uuid.UUID),
		triggers:   make(map[uuid.UUID]*models.Trigger),
	}
}

// --- WorkflowStore ---

// Create inserts a new workflow snapshot
func (m *Memory) Create(_ context.Context, wf *models.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *wf
	m.workflows[wf.ID] = append(m.workflows[wf.ID], &cp)
	return nil
}

// Latest returns the highest version of a workflow
func (m *Memory) Latest(_ context.Context, id uuid.UUID) (*models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.workflows[id]
	if len(versions) == 0 {
		return nil, models.ErrNotFound
	}
	latest := versions[0]
	for _, v := range versions[1:] {
		if v.Version > latest.Version {
			latest = v
		}
	}
	cp := *latest
	return &cp, nil
}

// Version returns one frozen snapshot
func (m *Memory) Version(_ context.Context, id uuid.UUID, version int) (*models.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range m.workflows[id] {
		if v.Version == version {
			cp := *v
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

// SetStatus updates the status of every version of a workflow
func (m *Memory) SetStatus(_ context.Context, id uuid.UUID, status models.WorkflowStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.workflows[id]
	if len(versions) == 0 {
		return models.ErrNotFound
	}
	for _, v := range versions {
		v.Status = status
		v.UpdatedAt = time.Now()
	}
	return nil
}

// --- ExecutionStore ---

// CreateExecution inserts a new execution row
func (m *Memory) CreateExecution(_ context.Context, e *models.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	m.executions[e.ID] = &cp
	return nil
}

// GetExecution retrieves an execution by ID
func (m *Memory) GetExecution(_ context.Context, id uuid.UUID) (*models.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.executions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

// SetExecutionStatus transitions an execution. Terminal states stick.
func (m *Memory) SetExecutionStatus(_ context.Context, id uuid.UUID, status models.ExecutionStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.executions[id]
	if !ok || e.Status.Terminal() {
		return nil
	}
	e.Status = status
	if errMsg != "" {
		e.Error = errMsg
	}
	if status.Terminal() {
		now := time.Now()
		e.CompletedAt = &now
	}
	return nil
}

// CompleteExecution marks the execution completed with its output map
func (m *Memory) CompleteExecution(_ context.Context, id uuid.UUID, output map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.executions[id]
	if !ok || e.Status.Terminal() {
		return nil
	}
	now := time.Now()
	e.Status = models.ExecutionCompleted
	e.Output = output
	e.CompletedAt = &now
	return nil
}

// CreateStep inserts a new step row
func (m *Memory) CreateStep(_ context.Context, s *models.StepExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *s
	m.steps[s.ID] = &cp
	m.stepOrder[s.ExecutionID] = append(m.stepOrder[s.ExecutionID], s.ID)
	return nil
}

// GetStep retrieves a step by ID
func (m *Memory) GetStep(_ context.Context, id uuid.UUID) (*models.StepExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.steps[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

// DeleteStep removes a step row
func (m *Memory) DeleteStep(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.steps[id]
	if !ok {
		return nil
	}
	delete(m.steps, id)

	order := m.stepOrder[s.ExecutionID]
	for i, sid := range order {
		if sid == id {
			m.stepOrder[s.ExecutionID] = append(order[:i], order[i+1:]...)
			break
		}
	}
	return nil
}

// ListSteps returns all steps of an execution, insertion order
func (m *Memory) ListSteps(_ context.Context, executionID uuid.UUID) ([]*models.StepExecution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.StepExecution
	for _, id := range m.stepOrder[executionID] {
		if s, ok := m.steps[id]; ok {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

// MarkStepRunning transitions pending -> running
func (m *Memory) MarkStepRunning(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.steps[id]
	if !ok || s.Status != models.StepPending {
		return false, nil
	}
	s.Status = models.StepRunning
	return true, nil
}

// UpdateStepResult records the terminal outcome of a step. A step
// already swept to skipped keeps that status; the late result is
// recorded without resurrecting it.
func (m *Memory) UpdateStepResult(_ context.Context, id uuid.UUID, status models.StepStatus, result map[string]any, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.steps[id]
	if !ok {
		return models.ErrNotFound
	}
	if s.Status == models.StepSkipped {
		s.Result = result
		s.Error = errMsg
		return nil
	}
	now := time.Now()
	s.Status = status
	s.Result = result
	s.Error = errMsg
	s.CompletedAt = &now
	return nil
}

// ResetStepForRetry returns a step to pending between attempts
func (m *Memory) ResetStepForRetry(_ context.Context, id uuid.UUID, errMsg string, attempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.steps[id]
	if !ok {
		return models.ErrNotFound
	}
	s.Status = models.StepPending
	s.Error = errMsg
	s.Attempts = attempts
	s.CompletedAt = nil
	return nil
}

// SweepSteps moves every step of the execution in one of the `from`
// statuses to `to`
func (m *Memory) SweepSteps(_ context.Context, executionID uuid.UUID, from []models.StepStatus, to models.StepStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	moved := 0
	for _, id := range m.stepOrder[executionID] {
		s, ok := m.steps[id]
		if !ok {
			continue
		}
		for _, f := range from {
			if s.Status == f {
				now := time.Now()
				s.Status = to
				s.CompletedAt = &now
				moved++
				break
			}
		}
	}
	return moved, nil
}

// --- TriggerStore ---

// CreateTrigger inserts a new trigger row
func (m *Memory) CreateTrigger(_ context.Context, t *models.Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *t
	m.triggers[t.ID] = &cp
	return nil
}

// GetTrigger retrieves a trigger by ID
func (m *Memory) GetTrigger(_ context.Context, id uuid.UUID) (*models.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.triggers[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// ListEnabledCron returns enabled triggers of type cron
func (m *Memory) ListEnabledCron(_ context.Context) ([]*models.Trigger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Trigger
	for _, t := range m.triggers {
		if t.Type == models.TriggerCron && t.Enabled {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

// MarkFired records a scheduler fire and the next expected run
func (m *Memory) MarkFired(_ context.Context, id uuid.UUID, firedAt time.Time, nextRunAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.triggers[id]
	if !ok {
		return models.ErrNotFound
	}
	fired := firedAt
	t.LastFiredAt = &fired
	t.NextRunAt = nextRunAt
	return nil
}
