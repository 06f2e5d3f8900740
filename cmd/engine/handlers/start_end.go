package handlers

import (
	"context"

	"github.com/flowsync/flowsync/common/models"
)

// StartHandler completes immediately and echoes the workflow input
type StartHandler struct{}

func (h *StartHandler) Type() models.NodeType { return models.NodeStart }

func (h *StartHandler) Execute(_ context.Context, job *models.WorkerJob) (map[string]any, error) {
	return map[string]any{
		"message": "workflow started",
		"input":   job.Input,
	}, nil
}

// EndHandler completes immediately, marking the lineage terminal for
// that branch
type EndHandler struct{}

func (h *EndHandler) Type() models.NodeType { return models.NodeEnd }

func (h *EndHandler) Execute(_ context.Context, _ *models.WorkerJob) (map[string]any, error) {
	return map[string]any{
		"message": "workflow branch completed",
	}, nil
}

// ForkHandler completes immediately and passes the input through; the
// outgoing edges carry the fan-out
type ForkHandler struct{}

func (h *ForkHandler) Type() models.NodeType { return models.NodeFork }

func (h *ForkHandler) Execute(_ context.Context, job *models.WorkerJob) (map[string]any, error) {
	return map[string]any{
		"forked": true,
		"input":  job.Input,
	}, nil
}

// JoinHandler merges the results of its direct upstream nodes. The join
// barrier itself (waiting for all in-edges to settle) is enforced by the
// result handler's ready-set computation, not here.
type JoinHandler struct{}

func (h *JoinHandler) Type() models.NodeType { return models.NodeJoin }

func (h *JoinHandler) Execute(_ context.Context, job *models.WorkerJob) (map[string]any, error) {
	merged := make(map[string]any, len(job.Upstream))
	for _, nodeID := range job.Upstream {
		if result, ok := job.PreviousResults[nodeID]; ok {
			merged[nodeID] = result
		}
	}
	return map[string]any{
		"mergedResults": merged,
	}, nil
}
