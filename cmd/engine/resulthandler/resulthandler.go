// Package resulthandler advances the DAG as worker results arrive: it
// persists step outcomes, skips deactivated branches, recomputes the
// ready set (including join barriers), and detects execution completion.
package resulthandler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flowsync/flowsync/cmd/engine/publisher"
	"github.com/flowsync/flowsync/common/audit"
	"github.com/flowsync/flowsync/common/bus"
	"github.com/flowsync/flowsync/common/cache"
	"github.com/flowsync/flowsync/common/logger"
	"github.com/flowsync/flowsync/common/metrics"
	"github.com/flowsync/flowsync/common/models"
	"github.com/flowsync/flowsync/common/store"
)

const definitionCacheTTL = 10 * time.Minute

// Handler processes terminal worker results
type Handler struct {
	executions store.ExecutionStore
	workflows  store.WorkflowStore
	pub        *publisher.Publisher
	signals    *bus.CompletionBus
	metrics    *metrics.Metrics
	audit      audit.Writer
	cache      cache.Cache
	log        *logger.Logger
}

// New creates a result handler
func New(executions store.ExecutionStore, workflows store.WorkflowStore, pub *publisher.Publisher, signals *bus.CompletionBus, m *metrics.Metrics, auditor audit.Writer, defCache cache.Cache, log *logger.Logger) *Handler {
	return &Handler{
		executions: executions,
		workflows:  workflows,
		pub:        pub,
		signals:    signals,
		metrics:    m,
		audit:      auditor,
		cache:      defCache,
		log:        log,
	}
}

// Handle persists the step outcome and re-plans the DAG. Failed results
// arriving here are post-retry: they fail the whole execution.
func (h *Handler) Handle(ctx context.Context, result *models.WorkerResult) error {
	log := h.log.WithExecutionID(result.ExecutionID.String()).WithNodeID(result.NodeID)

	status := models.StepCompleted
	if result.Failed() {
		status = models.StepFailed
	}
	if err := h.executions.UpdateStepResult(ctx, result.StepID, status, result.Result, result.Error); err != nil {
		return fmt.Errorf("update step result: %w", err)
	}
	h.metrics.StepObserved(result.NodeType, result.Status, result.DurationMs)

	if result.Failed() {
		return h.failExecution(ctx, result, log)
	}

	execution, err := h.executions.GetExecution(ctx, result.ExecutionID)
	if err != nil {
		return fmt.Errorf("load execution: %w", err)
	}
	// Cancellation does not preempt handlers: record the outcome but do
	// not advance a non-running execution.
	if execution.Status != models.ExecutionRunning {
		log.Info("result for non-running execution recorded, not advancing",
			"execution_status", execution.Status)
		return nil
	}

	def, err := h.loadDefinition(ctx, execution)
	if err != nil {
		return err
	}

	steps, err := h.executions.ListSteps(ctx, execution.ID)
	if err != nil {
		return fmt.Errorf("list steps: %w", err)
	}
	stepsByNode := latestStepByNode(steps)

	_, skipped := h.routeEdges(def, result)
	for _, edge := range skipped {
		h.skipBranch(ctx, def, edge.Target, stepsByNode, execution.ID, log)
	}

	ready := readyNodes(def, stepsByNode)
	if len(ready) > 0 {
		previous := previousResults(stepsByNode)
		for _, node := range ready {
			upstream := make([]string, 0, 2)
			for _, e := range def.InEdges(node.ID) {
				upstream = append(upstream, e.Source)
			}
			if _, err := h.pub.Publish(ctx, publisher.Request{
				ExecutionID:     execution.ID,
				Node:            node,
				Input:           execution.Input,
				PreviousResults: previous,
				Upstream:        upstream,
			}); err != nil {
				return fmt.Errorf("publish ready node %s: %w", node.ID, err)
			}
		}
		return nil
	}

	// No ready nodes: completed when nothing is pending or running
	if hasLiveSteps(stepsByNode) {
		return nil
	}
	return h.completeExecution(ctx, execution, stepsByNode, log)
}

func (h *Handler) failExecution(ctx context.Context, result *models.WorkerResult, log *logger.Logger) error {
	if err := h.executions.SetExecutionStatus(ctx, result.ExecutionID, models.ExecutionFailed, result.Error); err != nil {
		return fmt.Errorf("fail execution: %w", err)
	}

	swept, err := h.executions.SweepSteps(ctx, result.ExecutionID,
		[]models.StepStatus{models.StepPending}, models.StepSkipped)
	if err != nil {
		log.Error("failed to sweep pending steps", "error", err)
	} else if swept > 0 {
		log.Info("swept pending steps after failure", "count", swept)
	}

	h.metrics.ExecutionFinished(models.ExecutionFailed)
	h.audit.Record(ctx, "execution.failed", "execution", result.ExecutionID.String(), map[string]any{
		"node_id": result.NodeID,
		"error":   result.Error,
	})

	h.signals.Publish(result.ExecutionID, bus.Signal{
		Status: models.ExecutionFailed,
		Error:  result.Error,
	})

	log.Warn("execution failed", "error", result.Error)
	return nil
}

func (h *Handler) completeExecution(ctx context.Context, execution *models.Execution, stepsByNode map[string]*models.StepExecution, log *logger.Logger) error {
	output := make(map[string]any)
	for nodeID, step := range stepsByNode {
		if step.Status == models.StepCompleted {
			output[nodeID] = step.Result
		}
	}

	if err := h.executions.CompleteExecution(ctx, execution.ID, output); err != nil {
		return fmt.Errorf("complete execution: %w", err)
	}

	h.metrics.ExecutionFinished(models.ExecutionCompleted)
	h.audit.Record(ctx, "execution.completed", "execution", execution.ID.String(), map[string]any{
		"node_count": len(output),
	})

	h.signals.Publish(execution.ID, bus.Signal{
		Status: models.ExecutionCompleted,
		Output: output,
	})

	log.Info("execution completed", "nodes", len(output))
	return nil
}

// routeEdges applies conditional filtering to the completed node's
// outgoing edges. For condition nodes, the boolean result selects edges
// whose branch label matches or is unset; if no edge carries a label,
// all are followed. Non-condition nodes follow every outgoing edge.
func (h *Handler) routeEdges(def *models.WorkflowDefinition, result *models.WorkerResult) (selected, skipped []models.Edge) {
	out := def.OutEdges(result.NodeID)
	if result.NodeType != models.NodeCondition {
		return out, nil
	}

	branch := "false"
	if b, ok := result.Result["result"].(bool); ok && b {
		branch = "true"
	}

	labeled := false
	for _, e := range out {
		if e.ConditionBranch != "" {
			labeled = true
			break
		}
	}
	if !labeled {
		return out, nil
	}

	for _, e := range out {
		if e.ConditionBranch == "" || e.ConditionBranch == branch {
			selected = append(selected, e)
		} else {
			skipped = append(skipped, e)
		}
	}
	return selected, skipped
}

// skipBranch marks the downstream of a deselected edge as skipped.
// Recursion stops at join nodes (they observe the skip through their
// in-edge accounting) and at nodes that already hold a live or settled
// step.
func (h *Handler) skipBranch(ctx context.Context, def *models.WorkflowDefinition, nodeID string, stepsByNode map[string]*models.StepExecution, executionID uuid.UUID, log *logger.Logger) {
	node := def.NodeByID(nodeID)
	if node == nil {
		return
	}
	if node.Type == models.NodeJoin {
		return
	}
	if _, exists := stepsByNode[nodeID]; exists {
		return
	}

	now := time.Now()
	step := &models.StepExecution{
		ID:          uuid.New(),
		ExecutionID: executionID,
		NodeID:      node.ID,
		NodeLabel:   node.Label,
		NodeType:    node.Type,
		Status:      models.StepSkipped,
		StartedAt:   &now,
		CompletedAt: &now,
	}
	if err := h.executions.CreateStep(ctx, step); err != nil {
		log.Error("failed to create skipped step", "node_id", nodeID, "error", err)
		return
	}
	stepsByNode[nodeID] = step

	for _, e := range def.OutEdges(nodeID) {
		h.skipBranch(ctx, def, e.Target, stepsByNode, executionID, log)
	}
}

// readyNodes returns every unscheduled node with at least one in-edge
// whose predecessors have all settled. Join nodes follow the same rule:
// every in-edge must be from a completed or skipped source.
func readyNodes(def *models.WorkflowDefinition, stepsByNode map[string]*models.StepExecution) []models.Node {
	var ready []models.Node
	for _, node := range def.Nodes {
		if _, scheduled := stepsByNode[node.ID]; scheduled {
			continue
		}
		in := def.InEdges(node.ID)
		if len(in) == 0 {
			continue
		}

		settled := true
		for _, e := range in {
			src, ok := stepsByNode[e.Source]
			if !ok || !src.Status.Settled() {
				settled = false
				break
			}
		}
		if settled {
			ready = append(ready, node)
		}
	}
	return ready
}

func previousResults(stepsByNode map[string]*models.StepExecution) map[string]map[string]any {
	out := make(map[string]map[string]any)
	for nodeID, step := range stepsByNode {
		if step.Status == models.StepCompleted {
			out[nodeID] = step.Result
		}
	}
	return out
}

func hasLiveSteps(stepsByNode map[string]*models.StepExecution) bool {
	for _, step := range stepsByNode {
		if step.Status == models.StepPending || step.Status == models.StepRunning {
			return true
		}
	}
	return false
}

// latestStepByNode indexes steps by node, preferring the most recent row
// when a node was scheduled more than once
func latestStepByNode(steps []*models.StepExecution) map[string]*models.StepExecution {
	byNode := make(map[string]*models.StepExecution, len(steps))
	for _, s := range steps {
		byNode[s.NodeID] = s
	}
	return byNode
}

func (h *Handler) loadDefinition(ctx context.Context, execution *models.Execution) (*models.WorkflowDefinition, error) {
	key := fmt.Sprintf("def:%s:%d", execution.WorkflowID, execution.WorkflowVersion)

	if raw, ok, _ := h.cache.Get(ctx, key); ok {
		var def models.WorkflowDefinition
		if err := json.Unmarshal(raw, &def); err == nil {
			return &def, nil
		}
	}

	wf, err := h.workflows.Version(ctx, execution.WorkflowID, execution.WorkflowVersion)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s v%d: %w", execution.WorkflowID, execution.WorkflowVersion, err)
	}

	if raw, err := json.Marshal(wf.Definition); err == nil {
		// Snapshots are immutable per version, safe to cache
		_ = h.cache.Set(ctx, key, raw, definitionCacheTTL)
	}
	return &wf.Definition, nil
}
