// Package orchestrator owns the execution lifecycle: it validates the
// target workflow, seeds the initial nodes into the queue, and awaits
// the completion signal under a hard deadline.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowsync/flowsync/cmd/engine/publisher"
	"github.com/flowsync/flowsync/common/audit"
	"github.com/flowsync/flowsync/common/bus"
	"github.com/flowsync/flowsync/common/config"
	"github.com/flowsync/flowsync/common/logger"
	"github.com/flowsync/flowsync/common/metrics"
	"github.com/flowsync/flowsync/common/models"
	"github.com/flowsync/flowsync/common/store"
)

// Orchestrator drives workflow executions end to end
type Orchestrator struct {
	workflows  store.WorkflowStore
	executions store.ExecutionStore
	pub        *publisher.Publisher
	signals    *bus.CompletionBus
	metrics    *metrics.Metrics
	audit      audit.Writer
	cfg        config.EngineConfig
	log        *logger.Logger
}

// New creates an orchestrator
func New(workflows store.WorkflowStore, executions store.ExecutionStore, pub *publisher.Publisher, signals *bus.CompletionBus, m *metrics.Metrics, auditor audit.Writer, cfg config.EngineConfig, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		workflows:  workflows,
		executions: executions,
		pub:        pub,
		signals:    signals,
		metrics:    m,
		audit:      auditor,
		cfg:        cfg,
		log:        log.WithFields(map[string]any{"component": "orchestrator"}),
	}
}

// Execute runs the latest active version of a workflow synchronously:
// it blocks until the execution settles or the orchestrator deadline
// elapses. On timeout the execution keeps running in the background and
// ErrExecutionTimeout is returned alongside the in-flight execution.
func (o *Orchestrator) Execute(ctx context.Context, workflowID uuid.UUID, input map[string]any, userID *string) (*models.Execution, error) {
	wf, err := o.workflows.Latest(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", workflowID, err)
	}
	if wf.Status != models.WorkflowActive {
		return nil, &models.NotActiveError{WorkflowID: workflowID, Status: wf.Status}
	}

	now := time.Now()
	execution := &models.Execution{
		ID:              uuid.New(),
		WorkflowID:      wf.ID,
		WorkflowVersion: wf.Version,
		Status:          models.ExecutionRunning,
		Input:           input,
		UserID:          userID,
		StartedAt:       &now,
		CreatedAt:       now,
	}
	if err := o.executions.CreateExecution(ctx, execution); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}

	log := o.log.WithExecutionID(execution.ID.String())
	log.Info("execution started",
		"workflow_id", wf.ID, "workflow_version", wf.Version, "workflow_name", wf.Name)

	o.metrics.ExecutionStarted()
	o.audit.Record(ctx, "execution.started", "execution", execution.ID.String(), map[string]any{
		"workflow_id":      wf.ID.String(),
		"workflow_version": wf.Version,
	})

	initial := wf.Definition.InitialNodes()
	if len(initial) == 0 {
		// A validated workflow always has a start node; a snapshot
		// without one completes vacuously.
		if err := o.executions.CompleteExecution(ctx, execution.ID, map[string]any{}); err != nil {
			return nil, fmt.Errorf("complete empty execution: %w", err)
		}
		o.metrics.ExecutionFinished(models.ExecutionCompleted)
		return o.executions.GetExecution(ctx, execution.ID)
	}

	// Register before the first publish: a fast worker could otherwise
	// finish the whole run before the waiter exists and drop the signal.
	ch := o.signals.Register(execution.ID)
	defer o.signals.Unregister(execution.ID)

	for _, node := range initial {
		if _, err := o.pub.Publish(ctx, publisher.Request{
			ExecutionID: execution.ID,
			Node:        node,
			Input:       input,
		}); err != nil {
			return nil, fmt.Errorf("publish initial node %s: %w", node.ID, err)
		}
	}

	select {
	case sig := <-ch:
		log.Info("execution settled", "status", sig.Status)
		return o.executions.GetExecution(ctx, execution.ID)
	case <-time.After(o.cfg.OrchestratorTimeout):
		log.Warn("await deadline elapsed, execution continues in background")
		current, gerr := o.executions.GetExecution(ctx, execution.ID)
		if gerr != nil {
			return nil, models.ErrExecutionTimeout
		}
		return current, models.ErrExecutionTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ExecuteAsync starts an execution without awaiting its completion.
// Triggers use it so a slow run never blocks the scheduler tick.
func (o *Orchestrator) ExecuteAsync(ctx context.Context, workflowID uuid.UUID, input map[string]any, userID *string) {
	go func() {
		detached := context.WithoutCancel(ctx)
		if _, err := o.Execute(detached, workflowID, input, userID); err != nil {
			o.log.Error("background execution failed",
				"workflow_id", workflowID, "error", err)
		}
	}()
}

// Cancel marks a running execution cancelled and sweeps its pending
// and running steps to skipped. In-flight handlers finish; their late
// results are recorded on the swept step but do not advance the DAG.
func (o *Orchestrator) Cancel(ctx context.Context, executionID uuid.UUID) error {
	execution, err := o.executions.GetExecution(ctx, executionID)
	if err != nil {
		return fmt.Errorf("load execution %s: %w", executionID, err)
	}
	if execution.Status.Terminal() {
		return fmt.Errorf("execution %s already %s", executionID, execution.Status)
	}

	if err := o.executions.SetExecutionStatus(ctx, executionID, models.ExecutionCancelled, models.ErrExecutionCancelled.Error()); err != nil {
		return fmt.Errorf("cancel execution: %w", err)
	}

	swept, err := o.executions.SweepSteps(ctx, executionID,
		[]models.StepStatus{models.StepPending, models.StepRunning}, models.StepSkipped)
	if err != nil {
		o.log.Error("failed to sweep steps on cancel",
			"execution_id", executionID, "error", err)
	}

	o.metrics.ExecutionFinished(models.ExecutionCancelled)
	o.audit.Record(ctx, "execution.cancelled", "execution", executionID.String(), map[string]any{
		"swept_steps": swept,
	})
	o.signals.Publish(executionID, bus.Signal{
		Status: models.ExecutionCancelled,
		Error:  models.ErrExecutionCancelled.Error(),
	})

	o.log.WithExecutionID(executionID.String()).Info("execution cancelled",
		"swept_steps", swept)
	return nil
}
