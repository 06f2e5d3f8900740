package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/flowsync/flowsync/common/models"
)

// WorkflowHandler serves workflow lifecycle requests
type WorkflowHandler struct {
	deps Deps
}

type createWorkflowRequest struct {
	Name       string                    `json:"name"`
	Definition models.WorkflowDefinition `json:"definition"`
	Status     models.WorkflowStatus     `json:"status,omitempty"`
}

// Create validates and stores a new workflow
// POST /api/v1/workflows
func (h *WorkflowHandler) Create(c echo.Context) error {
	var req createWorkflowRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid request body"))
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, errBody("name is required"))
	}

	wf, err := h.deps.Orch.CreateWorkflow(c.Request().Context(), req.Name, req.Definition, req.Status)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			return c.JSON(http.StatusUnprocessableEntity, map[string]any{
				"error":  "invalid workflow definition",
				"issues": verr.Errors,
			})
		}
		return c.JSON(http.StatusInternalServerError, errBody(err.Error()))
	}
	return c.JSON(http.StatusCreated, wf)
}

// Get returns the latest version of a workflow
// GET /api/v1/workflows/:id
func (h *WorkflowHandler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid workflow id"))
	}

	wf, err := h.deps.Orch.GetWorkflow(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errBody("workflow not found"))
		}
		return c.JSON(http.StatusInternalServerError, errBody(err.Error()))
	}
	return c.JSON(http.StatusOK, wf)
}

// Patch applies an RFC 6902 patch to the definition, creating a new
// version
// PATCH /api/v1/workflows/:id
func (h *WorkflowHandler) Patch(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid workflow id"))
	}
	patch, err := io.ReadAll(c.Request().Body)
	if err != nil || len(patch) == 0 {
		return c.JSON(http.StatusBadRequest, errBody("patch body is required"))
	}

	wf, err := h.deps.Orch.PatchWorkflow(c.Request().Context(), id, patch)
	if err != nil {
		var verr *models.ValidationError
		switch {
		case errors.As(err, &verr):
			return c.JSON(http.StatusUnprocessableEntity, map[string]any{
				"error":  "patched definition is invalid",
				"issues": verr.Errors,
			})
		case errors.Is(err, models.ErrNotFound):
			return c.JSON(http.StatusNotFound, errBody("workflow not found"))
		default:
			return c.JSON(http.StatusBadRequest, errBody(err.Error()))
		}
	}
	return c.JSON(http.StatusOK, wf)
}

type setStatusRequest struct {
	Status models.WorkflowStatus `json:"status"`
}

// SetStatus moves a workflow through draft/active/archived
// PUT /api/v1/workflows/:id/status
func (h *WorkflowHandler) SetStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid workflow id"))
	}
	var req setStatusRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid request body"))
	}

	if err := h.deps.Orch.SetWorkflowStatus(c.Request().Context(), id, req.Status); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errBody("workflow not found"))
		}
		return c.JSON(http.StatusBadRequest, errBody(err.Error()))
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "status": req.Status})
}

func errBody(msg string) map[string]any {
	return map[string]any{"error": msg}
}
