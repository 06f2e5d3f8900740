package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsync/flowsync/cmd/engine/consumer"
	"github.com/flowsync/flowsync/cmd/engine/handlers"
	"github.com/flowsync/flowsync/cmd/engine/orchestrator"
	"github.com/flowsync/flowsync/cmd/engine/publisher"
	"github.com/flowsync/flowsync/cmd/engine/resulthandler"
	"github.com/flowsync/flowsync/common/audit"
	"github.com/flowsync/flowsync/common/backpressure"
	"github.com/flowsync/flowsync/common/bus"
	"github.com/flowsync/flowsync/common/cache"
	"github.com/flowsync/flowsync/common/config"
	"github.com/flowsync/flowsync/common/dlq"
	"github.com/flowsync/flowsync/common/heartbeat"
	"github.com/flowsync/flowsync/common/idempotency"
	"github.com/flowsync/flowsync/common/logger"
	"github.com/flowsync/flowsync/common/metrics"
	"github.com/flowsync/flowsync/common/models"
	"github.com/flowsync/flowsync/common/queue"
	"github.com/flowsync/flowsync/common/store"
)

// testEnv wires the full engine against in-memory implementations: a
// real worker pool, publisher, result handler and orchestrator, with no
// Postgres or Redis behind them.
type testEnv struct {
	mem         *store.Memory
	queue       *queue.MemoryQueue
	registry    *handlers.Registry
	metrics     *metrics.Metrics
	deadLetters *dlq.DeadLetterSink
	idem        *idempotency.MemoryStore
	auditor     *audit.MemoryWriter
	orc         *orchestrator.Orchestrator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.New("error", "text")

	cfg := config.EngineConfig{
		MaxConcurrency:      4,
		PollInterval:        10 * time.Millisecond,
		IdempotencyTTL:      time.Minute,
		IdempotencySweep:    time.Hour,
		HeartbeatStall:      30 * time.Second,
		OrchestratorTimeout: 10 * time.Second,
		MaxDelay:            time.Minute,
		SchedulerTick:       time.Minute,
		DrainTimeout:        2 * time.Second,
		LockReclaimAfter:    time.Minute,
	}

	mem := store.NewMemory()
	q := queue.NewMemoryQueue(log)
	m := metrics.New()

	idem := idempotency.NewMemoryStore(cfg.IdempotencyTTL, cfg.IdempotencySweep)
	t.Cleanup(func() { idem.Close() })

	bp := backpressure.New(config.BackpressureConfig{LowWater: 200, HighWater: 800, MaxDepth: 1000}, log)
	signals := bus.New(log)
	deadLetters := dlq.New(log)
	hb := heartbeat.New(cfg.HeartbeatStall, log)
	auditor := audit.NewMemoryWriter()
	defCache := cache.NewMemoryCache(log)

	pub := publisher.New(mem, q, idem, bp, m, log)
	results := resulthandler.New(mem, mem, pub, signals, m, auditor, defCache, log)
	registry := handlers.NewDefaultRegistry(cfg.MaxDelay, log)

	workers := consumer.New("test-worker", q, mem, idem, registry, results, deadLetters, hb, m, auditor, cfg, log)
	orc := orchestrator.New(mem, mem, pub, signals, m, auditor, cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	workers.Start(ctx)
	t.Cleanup(func() {
		workers.Stop()
		cancel()
	})

	return &testEnv{
		mem:         mem,
		queue:       q,
		registry:    registry,
		metrics:     m,
		deadLetters: deadLetters,
		idem:        idem,
		auditor:     auditor,
		orc:         orc,
	}
}

func (env *testEnv) createWorkflow(t *testing.T, def models.WorkflowDefinition) *models.Workflow {
	t.Helper()
	wf := &models.Workflow{
		ID:         uuid.New(),
		Version:    1,
		Name:       "test-workflow",
		Status:     models.WorkflowActive,
		Definition: def,
	}
	require.NoError(t, env.mem.Create(context.Background(), wf))
	return wf
}

func (env *testEnv) stepsByNode(t *testing.T, executionID uuid.UUID) map[string]*models.StepExecution {
	t.Helper()
	steps, err := env.mem.ListSteps(context.Background(), executionID)
	require.NoError(t, err)
	byNode := make(map[string]*models.StepExecution, len(steps))
	for _, s := range steps {
		byNode[s.NodeID] = s
	}
	return byNode
}

func TestEngine_LinearWorkflow(t *testing.T) {
	env := newTestEnv(t)

	wf := env.createWorkflow(t, models.WorkflowDefinition{
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeStart},
			{ID: "greet", Type: models.NodeAction, Label: "greet"},
			{ID: "end", Type: models.NodeEnd},
		},
		Edges: []models.Edge{
			{ID: "e1", Source: "start", Target: "greet"},
			{ID: "e2", Source: "greet", Target: "end"},
		},
	})

	exec, err := env.orc.Execute(context.Background(), wf.ID, map[string]any{"name": "ada"}, nil)
	require.NoError(t, err)
	require.NotNil(t, exec)

	assert.Equal(t, models.ExecutionCompleted, exec.Status)
	require.NotNil(t, exec.CompletedAt)
	assert.Contains(t, exec.Output, "start")
	assert.Contains(t, exec.Output, "greet")
	assert.Contains(t, exec.Output, "end")

	steps := env.stepsByNode(t, exec.ID)
	require.Len(t, steps, 3)
	for nodeID, step := range steps {
		assert.Equal(t, models.StepCompleted, step.Status, nodeID)
	}
	assert.Equal(t, int64(1), env.metrics.Snapshot().ExecutionsCompleted)
}

func TestEngine_InactiveWorkflowRejected(t *testing.T) {
	env := newTestEnv(t)

	wf := env.createWorkflow(t, models.WorkflowDefinition{
		Nodes: []models.Node{{ID: "start", Type: models.NodeStart}},
	})
	require.NoError(t, env.mem.SetStatus(context.Background(), wf.ID, models.WorkflowDraft))

	_, err := env.orc.Execute(context.Background(), wf.ID, nil, nil)
	var notActive *models.NotActiveError
	require.ErrorAs(t, err, &notActive)
	assert.Equal(t, wf.ID, notActive.WorkflowID)
}

func conditionDefinition() models.WorkflowDefinition {
	return models.WorkflowDefinition{
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeStart},
			{ID: "check", Type: models.NodeCondition, Config: map[string]any{
				"expression": "$input.amount > 100",
			}},
			{ID: "approve", Type: models.NodeAction, Label: "approve"},
			{ID: "reject", Type: models.NodeAction, Label: "reject"},
			{ID: "done_approved", Type: models.NodeEnd},
			{ID: "done_rejected", Type: models.NodeEnd},
		},
		Edges: []models.Edge{
			{ID: "e1", Source: "start", Target: "check"},
			{ID: "e2", Source: "check", Target: "approve", ConditionBranch: "true"},
			{ID: "e3", Source: "check", Target: "reject", ConditionBranch: "false"},
			{ID: "e4", Source: "approve", Target: "done_approved"},
			{ID: "e5", Source: "reject", Target: "done_rejected"},
		},
	}
}

func TestEngine_ConditionTrueBranch(t *testing.T) {
	env := newTestEnv(t)
	wf := env.createWorkflow(t, conditionDefinition())

	exec, err := env.orc.Execute(context.Background(), wf.ID, map[string]any{"amount": float64(120)}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, exec.Status)

	steps := env.stepsByNode(t, exec.ID)
	assert.Equal(t, models.StepCompleted, steps["check"].Status)
	assert.Equal(t, true, steps["check"].Result["result"])
	assert.Equal(t, models.StepCompleted, steps["approve"].Status)
	assert.Equal(t, models.StepCompleted, steps["done_approved"].Status)
	assert.Equal(t, models.StepSkipped, steps["reject"].Status)
	assert.Equal(t, models.StepSkipped, steps["done_rejected"].Status)

	assert.Contains(t, exec.Output, "approve")
	assert.NotContains(t, exec.Output, "reject")
}

func TestEngine_ConditionFalseBranch(t *testing.T) {
	env := newTestEnv(t)
	wf := env.createWorkflow(t, conditionDefinition())

	exec, err := env.orc.Execute(context.Background(), wf.ID, map[string]any{"amount": float64(40)}, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, exec.Status)

	steps := env.stepsByNode(t, exec.ID)
	assert.Equal(t, false, steps["check"].Result["result"])
	assert.Equal(t, models.StepSkipped, steps["approve"].Status)
	assert.Equal(t, models.StepCompleted, steps["reject"].Status)
}

func TestEngine_ForkJoin(t *testing.T) {
	env := newTestEnv(t)

	wf := env.createWorkflow(t, models.WorkflowDefinition{
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeStart},
			{ID: "fork", Type: models.NodeFork},
			{ID: "a", Type: models.NodeAction, Label: "a"},
			{ID: "b", Type: models.NodeAction, Label: "b"},
			{ID: "join", Type: models.NodeJoin},
			{ID: "end", Type: models.NodeEnd},
		},
		Edges: []models.Edge{
			{ID: "e1", Source: "start", Target: "fork"},
			{ID: "e2", Source: "fork", Target: "a"},
			{ID: "e3", Source: "fork", Target: "b"},
			{ID: "e4", Source: "a", Target: "join"},
			{ID: "e5", Source: "b", Target: "join"},
			{ID: "e6", Source: "join", Target: "end"},
		},
	})

	exec, err := env.orc.Execute(context.Background(), wf.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, exec.Status)

	steps := env.stepsByNode(t, exec.ID)
	require.Len(t, steps, 6)

	// The join ran exactly once and saw both branch results
	merged, ok := steps["join"].Result["mergedResults"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, merged, "a")
	assert.Contains(t, merged, "b")
}

// flakyHandler replaces the action handler with one that fails a fixed
// number of times before succeeding
type flakyHandler struct {
	calls     int32
	failUntil int32
}

func (h *flakyHandler) Type() models.NodeType { return models.NodeAction }

func (h *flakyHandler) Execute(_ context.Context, _ *models.WorkerJob) (map[string]any, error) {
	if atomic.AddInt32(&h.calls, 1) <= h.failUntil {
		return nil, fmt.Errorf("transient failure")
	}
	return map[string]any{"ok": true}, nil
}

func retryDefinition() models.WorkflowDefinition {
	return models.WorkflowDefinition{
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeStart},
			{ID: "flaky", Type: models.NodeAction, Label: "flaky", Config: map[string]any{
				"retry": map[string]any{
					"maxRetries":        float64(2),
					"backoffMs":         float64(5),
					"backoffMultiplier": float64(1),
				},
			}},
			{ID: "end", Type: models.NodeEnd},
		},
		Edges: []models.Edge{
			{ID: "e1", Source: "start", Target: "flaky"},
			{ID: "e2", Source: "flaky", Target: "end"},
		},
	}
}

func TestEngine_RetryThenSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register(&flakyHandler{failUntil: 2})
	wf := env.createWorkflow(t, retryDefinition())

	exec, err := env.orc.Execute(context.Background(), wf.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCompleted, exec.Status)

	steps := env.stepsByNode(t, exec.ID)
	assert.Equal(t, models.StepCompleted, steps["flaky"].Status)
	assert.Equal(t, 3, steps["flaky"].Attempts)

	snap := env.metrics.Snapshot()
	assert.Equal(t, int64(2), snap.Retries)
	assert.Equal(t, int64(0), snap.DeadLettered)
}

func TestEngine_RetryExhaustionDeadLetters(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register(&flakyHandler{failUntil: 100})
	wf := env.createWorkflow(t, retryDefinition())

	exec, err := env.orc.Execute(context.Background(), wf.ID, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailed, exec.Status)
	assert.Contains(t, exec.Error, "transient failure")

	steps := env.stepsByNode(t, exec.ID)
	assert.Equal(t, models.StepFailed, steps["flaky"].Status)
	// The downstream end node never became ready
	assert.NotContains(t, steps, "end")

	entries := env.deadLetters.Items()
	require.Len(t, entries, 1)
	assert.Equal(t, "flaky", entries[0].Job.Node.ID)
	assert.Equal(t, 3, entries[0].Attempts)

	dlqEvents := env.auditor.ByEvent("dlq.entry")
	require.Len(t, dlqEvents, 1)
	assert.Equal(t, "flaky", dlqEvents[0].Metadata["node_id"])
	assert.Equal(t, 3, dlqEvents[0].Metadata["attempts"])
	assert.Contains(t, dlqEvents[0].Metadata["error"], "transient failure")

	snap := env.metrics.Snapshot()
	assert.Equal(t, int64(2), snap.Retries)
	assert.Equal(t, int64(1), snap.DeadLettered)
	assert.Equal(t, int64(1), snap.ExecutionsFailed)
}

// A retried node's idempotency key is removed before the re-enqueue, so
// the settled (execution, node) pair no longer occupies the dedup window
func TestEngine_RetryClearsIdempotencyKey(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Register(&flakyHandler{failUntil: 1})
	wf := env.createWorkflow(t, retryDefinition())

	exec, err := env.orc.Execute(context.Background(), wf.ID, nil, nil)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionCompleted, exec.Status)

	steps := env.stepsByNode(t, exec.ID)
	assert.Equal(t, 2, steps["flaky"].Attempts)

	// The first publish set the key; the retry cleared it and the direct
	// re-enqueue does not set it again
	res, err := env.idem.CheckAndSet(context.Background(), idempotency.Key(exec.ID, "flaky"), uuid.New())
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	// Nodes that never retried keep their live keys
	res, err = env.idem.CheckAndSet(context.Background(), idempotency.Key(exec.ID, "start"), uuid.New())
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}

// A job whose step settled between enqueue and pickup is dropped with a
// failed queue row, not counted as processed
func TestEngine_DroppedJobMarksQueueRowFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	now := time.Now()
	exec := &models.Execution{
		ID:         uuid.New(),
		WorkflowID: uuid.New(),
		Status:     models.ExecutionCancelled,
		StartedAt:  &now,
		CreatedAt:  now,
	}
	require.NoError(t, env.mem.CreateExecution(ctx, exec))

	stepID := uuid.New()
	require.NoError(t, env.mem.CreateStep(ctx, &models.StepExecution{
		ID:          stepID,
		ExecutionID: exec.ID,
		NodeID:      "late",
		NodeType:    models.NodeAction,
		Status:      models.StepSkipped,
		Attempts:    1,
	}))

	require.NoError(t, env.queue.Enqueue(ctx, models.WorkerJob{
		ID:          stepID,
		ExecutionID: exec.ID,
		Node:        models.Node{ID: "late", Type: models.NodeAction, Label: "late"},
		Attempt:     1,
	}))

	require.Eventually(t, func() bool {
		row, ok := env.queue.Row(stepID)
		return ok && row.Status == models.JobFailed
	}, 5*time.Second, 20*time.Millisecond)

	row, _ := env.queue.Row(stepID)
	assert.Contains(t, row.Error, "dropped")

	stats, err := env.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.TotalProcessed)
	assert.Equal(t, int64(1), stats.TotalFailed)

	// The handler never ran
	steps := env.stepsByNode(t, exec.ID)
	assert.Equal(t, models.StepSkipped, steps["late"].Status)
	assert.Nil(t, steps["late"].Result)
}

// blockingHandler parks the execution mid-flight so the test can cancel
// it deterministically
type blockingHandler struct {
	started chan uuid.UUID
	release chan struct{}
}

func (h *blockingHandler) Type() models.NodeType { return models.NodeAction }

func (h *blockingHandler) Execute(_ context.Context, job *models.WorkerJob) (map[string]any, error) {
	h.started <- job.ExecutionID
	<-h.release
	return map[string]any{"ok": true}, nil
}

func TestEngine_Cancellation(t *testing.T) {
	env := newTestEnv(t)
	hold := &blockingHandler{
		started: make(chan uuid.UUID, 1),
		release: make(chan struct{}),
	}
	env.registry.Register(hold)

	wf := env.createWorkflow(t, models.WorkflowDefinition{
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeStart},
			{ID: "hold", Type: models.NodeAction, Label: "hold"},
			{ID: "end", Type: models.NodeEnd},
		},
		Edges: []models.Edge{
			{ID: "e1", Source: "start", Target: "hold"},
			{ID: "e2", Source: "hold", Target: "end"},
		},
	})

	done := make(chan *models.Execution, 1)
	go func() {
		exec, _ := env.orc.Execute(context.Background(), wf.ID, nil, nil)
		done <- exec
	}()

	var execID uuid.UUID
	select {
	case execID = <-hold.started:
	case <-time.After(5 * time.Second):
		t.Fatal("execution never reached the blocking step")
	}

	require.NoError(t, env.orc.Cancel(context.Background(), execID))
	close(hold.release)

	select {
	case exec := <-done:
		require.NotNil(t, exec)
		assert.Equal(t, models.ExecutionCancelled, exec.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("execute did not return after cancellation")
	}

	// Cancelling a settled execution is rejected
	assert.Error(t, env.orc.Cancel(context.Background(), execID))

	// The in-flight step was swept to skipped; its late result is
	// recorded on the swept row without resurrecting the status, and the
	// DAG does not advance past it
	steps := env.stepsByNode(t, execID)
	require.Contains(t, steps, "hold")
	assert.Equal(t, models.StepSkipped, steps["hold"].Status)

	require.Eventually(t, func() bool {
		steps := env.stepsByNode(t, execID)
		s, ok := steps["hold"]
		return ok && s.Result != nil
	}, 5*time.Second, 20*time.Millisecond)

	steps = env.stepsByNode(t, execID)
	assert.Equal(t, models.StepSkipped, steps["hold"].Status)
	assert.Equal(t, true, steps["hold"].Result["ok"])
	assert.NotContains(t, steps, "end")

	exec, err := env.mem.GetExecution(context.Background(), execID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionCancelled, exec.Status)
}

func TestEngine_TransformPipeline(t *testing.T) {
	env := newTestEnv(t)

	wf := env.createWorkflow(t, models.WorkflowDefinition{
		Nodes: []models.Node{
			{ID: "start", Type: models.NodeStart},
			{ID: "shape", Type: models.NodeTransform, Config: map[string]any{
				"pick": []any{"name"},
				"mappings": map[string]any{
					"greeting": "hello {{$input.name}}",
				},
			}},
			{ID: "end", Type: models.NodeEnd},
		},
		Edges: []models.Edge{
			{ID: "e1", Source: "start", Target: "shape"},
			{ID: "e2", Source: "shape", Target: "end"},
		},
	})

	exec, err := env.orc.Execute(context.Background(), wf.ID, map[string]any{"name": "ada"}, nil)
	require.NoError(t, err)
	require.Equal(t, models.ExecutionCompleted, exec.Status)

	steps := env.stepsByNode(t, exec.ID)
	assert.Equal(t, "ada", steps["shape"].Result["name"])
	assert.Equal(t, "hello ada", steps["shape"].Result["greeting"])
}
