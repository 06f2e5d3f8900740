package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/flowsync/flowsync/common/models"
	"github.com/flowsync/flowsync/common/ratelimit"
)

// ExecutionHandler serves execution control requests
type ExecutionHandler struct {
	deps Deps
}

type executeRequest struct {
	Input map[string]any `json:"input"`
	Async bool           `json:"async,omitempty"`
}

// Execute runs the latest active version of a workflow. Synchronous by
// default; async returns 202 with the workflow id only.
// POST /api/v1/workflows/:id/execute
func (h *ExecutionHandler) Execute(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid workflow id"))
	}
	var req executeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid request body"))
	}

	var userID *string
	if uid := c.Request().Header.Get("X-User-ID"); uid != "" {
		userID = &uid
	}

	// Heavier workflows draw from smaller per-user allowances
	if h.deps.RateLimiter != nil && userID != nil {
		wf, err := h.deps.Orch.GetWorkflow(c.Request().Context(), id)
		if err == nil {
			profile := ratelimit.Inspect(&wf.Definition)
			result, err := h.deps.RateLimiter.CheckTier(c.Request().Context(), *userID, profile.Tier)
			if err == nil && !result.Allowed {
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"error": "execution_rate_limit_exceeded",
					"details": map[string]any{
						"tier":                profile.Tier,
						"limit":               result.Limit,
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}
		}
	}

	if req.Async {
		h.deps.Orch.ExecuteAsync(c.Request().Context(), id, req.Input, userID)
		return c.JSON(http.StatusAccepted, map[string]any{"workflow_id": id, "status": "accepted"})
	}

	execution, err := h.deps.Orch.Execute(c.Request().Context(), id, req.Input, userID)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, execution)
	case errors.Is(err, models.ErrExecutionTimeout):
		// The run continues in the background; hand back what we have
		return c.JSON(http.StatusAccepted, execution)
	case errors.Is(err, models.ErrNotFound):
		return c.JSON(http.StatusNotFound, errBody("workflow not found"))
	default:
		var notActive *models.NotActiveError
		if errors.As(err, &notActive) {
			return c.JSON(http.StatusConflict, errBody(notActive.Error()))
		}
		return c.JSON(http.StatusInternalServerError, errBody(err.Error()))
	}
}

// Get returns an execution with its current status and output
// GET /api/v1/executions/:id
func (h *ExecutionHandler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid execution id"))
	}

	execution, err := h.deps.Components.Executions.GetExecution(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errBody("execution not found"))
		}
		return c.JSON(http.StatusInternalServerError, errBody(err.Error()))
	}
	return c.JSON(http.StatusOK, execution)
}

// Steps returns all step rows of an execution
// GET /api/v1/executions/:id/steps
func (h *ExecutionHandler) Steps(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid execution id"))
	}

	steps, err := h.deps.Components.Executions.ListSteps(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]any{"execution_id": id, "steps": steps})
}

// Cancel stops a running execution
// POST /api/v1/executions/:id/cancel
func (h *ExecutionHandler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid execution id"))
	}

	if err := h.deps.Orch.Cancel(c.Request().Context(), id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errBody("execution not found"))
		}
		return c.JSON(http.StatusConflict, errBody(err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "status": models.ExecutionCancelled})
}
