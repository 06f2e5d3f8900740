package handlers

import (
	"context"
	"fmt"

	"github.com/flowsync/flowsync/cmd/engine/condition"
	"github.com/flowsync/flowsync/common/models"
)

// ConditionHandler evaluates config.expression against previous-step
// results. The boolean result field drives edge routing downstream.
// Setting expressionLanguage to "cel" selects the CEL evaluator.
type ConditionHandler struct {
	cel *condition.CELEvaluator
}

// NewConditionHandler creates the handler with a shared CEL program cache
func NewConditionHandler() *ConditionHandler {
	return &ConditionHandler{cel: condition.NewCELEvaluator()}
}

func (h *ConditionHandler) Type() models.NodeType { return models.NodeCondition }

func (h *ConditionHandler) Execute(_ context.Context, job *models.WorkerJob) (map[string]any, error) {
	expr := configString(job.Node.Config, "expression", "")
	if expr == "" {
		return nil, NonRetryable(fmt.Errorf("condition node %s has no expression", job.Node.ID))
	}

	env := jobEnv(job)

	var result bool
	var err error
	switch configString(job.Node.Config, "expressionLanguage", "") {
	case "cel":
		result, err = h.cel.Evaluate(expr, env)
	default:
		result, err = condition.Evaluate(expr, env)
	}
	if err != nil {
		return nil, fmt.Errorf("evaluate condition: %w", err)
	}

	return map[string]any{
		"result":     result,
		"expression": expr,
	}, nil
}
