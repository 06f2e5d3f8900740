package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsync/flowsync/common/models"
)

func workflowV(id uuid.UUID, version int) *models.Workflow {
	return &models.Workflow{
		ID:      id,
		Version: version,
		Name:    "test",
		Status:  models.WorkflowActive,
		Definition: models.WorkflowDefinition{
			Nodes: []models.Node{{ID: "start", Type: models.NodeStart}},
		},
	}
}

func TestMemory_WorkflowVersions(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, m.Create(ctx, workflowV(id, 1)))
	require.NoError(t, m.Create(ctx, workflowV(id, 2)))

	latest, err := m.Latest(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	v1, err := m.Version(ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Version)

	_, err = m.Version(ctx, id, 9)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = m.Latest(ctx, uuid.New())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemory_SetStatusCoversAllVersions(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, m.Create(ctx, workflowV(id, 1)))
	require.NoError(t, m.Create(ctx, workflowV(id, 2)))
	require.NoError(t, m.SetStatus(ctx, id, models.WorkflowArchived))

	v1, _ := m.Version(ctx, id, 1)
	v2, _ := m.Version(ctx, id, 2)
	assert.Equal(t, models.WorkflowArchived, v1.Status)
	assert.Equal(t, models.WorkflowArchived, v2.Status)
}

func TestMemory_TerminalExecutionStatusSticks(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	e := &models.Execution{ID: uuid.New(), Status: models.ExecutionRunning}
	require.NoError(t, m.CreateExecution(ctx, e))

	require.NoError(t, m.SetExecutionStatus(ctx, e.ID, models.ExecutionCancelled, "cancel requested"))
	got, _ := m.GetExecution(ctx, e.ID)
	assert.Equal(t, models.ExecutionCancelled, got.Status)
	assert.NotNil(t, got.CompletedAt)

	// A late failure result must not overwrite the cancellation
	require.NoError(t, m.SetExecutionStatus(ctx, e.ID, models.ExecutionFailed, "late failure"))
	require.NoError(t, m.CompleteExecution(ctx, e.ID, map[string]any{"x": 1}))

	got, _ = m.GetExecution(ctx, e.ID)
	assert.Equal(t, models.ExecutionCancelled, got.Status)
	assert.Nil(t, got.Output)
}

func TestMemory_CompleteExecution(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	e := &models.Execution{ID: uuid.New(), Status: models.ExecutionRunning}
	require.NoError(t, m.CreateExecution(ctx, e))
	require.NoError(t, m.CompleteExecution(ctx, e.ID, map[string]any{"end": "ok"}))

	got, _ := m.GetExecution(ctx, e.ID)
	assert.Equal(t, models.ExecutionCompleted, got.Status)
	assert.Equal(t, "ok", got.Output["end"])
}

func newStep(executionID uuid.UUID, nodeID string) *models.StepExecution {
	return &models.StepExecution{
		ID:          uuid.New(),
		ExecutionID: executionID,
		NodeID:      nodeID,
		NodeType:    models.NodeAction,
		Status:      models.StepPending,
		Attempts:    1,
	}
}

func TestMemory_MarkStepRunningGuard(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	execID := uuid.New()

	s := newStep(execID, "a")
	require.NoError(t, m.CreateStep(ctx, s))

	ok, err := m.MarkStepRunning(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second claim loses
	ok, err = m.MarkStepRunning(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	// Unknown step is not an error, just a refusal
	ok, err = m.MarkStepRunning(ctx, uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_StepLifecycle(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	execID := uuid.New()

	s := newStep(execID, "a")
	require.NoError(t, m.CreateStep(ctx, s))

	require.NoError(t, m.UpdateStepResult(ctx, s.ID, models.StepCompleted, map[string]any{"v": 1}, ""))
	got, err := m.GetStep(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	require.NoError(t, m.ResetStepForRetry(ctx, s.ID, "transient", 2))
	got, _ = m.GetStep(ctx, s.ID)
	assert.Equal(t, models.StepPending, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Nil(t, got.CompletedAt)
}

func TestMemory_ListStepsInsertionOrder(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	execID := uuid.New()

	for _, nodeID := range []string{"a", "b", "c"} {
		require.NoError(t, m.CreateStep(ctx, newStep(execID, nodeID)))
	}

	steps, err := m.ListSteps(ctx, execID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "a", steps[0].NodeID)
	assert.Equal(t, "c", steps[2].NodeID)
}

func TestMemory_DeleteStep(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	execID := uuid.New()

	s := newStep(execID, "a")
	require.NoError(t, m.CreateStep(ctx, s))
	require.NoError(t, m.DeleteStep(ctx, s.ID))

	_, err := m.GetStep(ctx, s.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	steps, _ := m.ListSteps(ctx, execID)
	assert.Empty(t, steps)
}

func TestMemory_SweepSteps(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	execID := uuid.New()

	pending := newStep(execID, "a")
	running := newStep(execID, "b")
	require.NoError(t, m.CreateStep(ctx, pending))
	require.NoError(t, m.CreateStep(ctx, running))
	_, err := m.MarkStepRunning(ctx, running.ID)
	require.NoError(t, err)

	moved, err := m.SweepSteps(ctx, execID, []models.StepStatus{models.StepPending}, models.StepSkipped)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	got, _ := m.GetStep(ctx, pending.ID)
	assert.Equal(t, models.StepSkipped, got.Status)
	got, _ = m.GetStep(ctx, running.ID)
	assert.Equal(t, models.StepRunning, got.Status)
}

// Sweeping pending and running steps covers cancellation: both settle
// as skipped, and a late result lands on the swept row without
// resurrecting its status
func TestMemory_SweptStepKeepsSkippedOnLateResult(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	execID := uuid.New()

	inflight := newStep(execID, "a")
	require.NoError(t, m.CreateStep(ctx, inflight))
	_, err := m.MarkStepRunning(ctx, inflight.ID)
	require.NoError(t, err)

	moved, err := m.SweepSteps(ctx, execID,
		[]models.StepStatus{models.StepPending, models.StepRunning}, models.StepSkipped)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	require.NoError(t, m.UpdateStepResult(ctx, inflight.ID, models.StepCompleted, map[string]any{"ok": true}, ""))

	got, err := m.GetStep(ctx, inflight.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepSkipped, got.Status)
	assert.Equal(t, true, got.Result["ok"])
}

func TestMemory_Triggers(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	cron := &models.Trigger{
		ID:         uuid.New(),
		WorkflowID: uuid.New(),
		Type:       models.TriggerCron,
		Config:     models.TriggerConfig{Expression: "* * * * *"},
		Enabled:    true,
	}
	disabled := &models.Trigger{ID: uuid.New(), Type: models.TriggerCron, Enabled: false}
	webhook := &models.Trigger{ID: uuid.New(), Type: models.TriggerWebhook, Enabled: true}

	for _, tr := range []*models.Trigger{cron, disabled, webhook} {
		require.NoError(t, m.CreateTrigger(ctx, tr))
	}

	listed, err := m.ListEnabledCron(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, cron.ID, listed[0].ID)

	fired := time.Now()
	next := fired.Add(time.Minute)
	require.NoError(t, m.MarkFired(ctx, cron.ID, fired, &next))

	got, err := m.GetTrigger(ctx, cron.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastFiredAt)
	assert.WithinDuration(t, fired, *got.LastFiredAt, time.Second)
	require.NotNil(t, got.NextRunAt)
}
