package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/flowsync/flowsync/cmd/engine/scheduler"
	"github.com/flowsync/flowsync/common/models"
)

// TriggerHandler serves trigger registration and webhook fires
type TriggerHandler struct {
	deps Deps
}

type createTriggerRequest struct {
	WorkflowID uuid.UUID            `json:"workflow_id"`
	Type       models.TriggerType   `json:"type"`
	Config     models.TriggerConfig `json:"config"`
	Enabled    *bool                `json:"enabled,omitempty"`
}

// Create registers a trigger for a workflow. Cron triggers must carry a
// parseable five-field expression.
// POST /api/v1/triggers
func (h *TriggerHandler) Create(c echo.Context) error {
	var req createTriggerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid request body"))
	}
	if req.WorkflowID == uuid.Nil {
		return c.JSON(http.StatusBadRequest, errBody("workflow_id is required"))
	}

	ctx := c.Request().Context()
	if _, err := h.deps.Components.Workflows.Latest(ctx, req.WorkflowID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errBody("workflow not found"))
		}
		return c.JSON(http.StatusInternalServerError, errBody(err.Error()))
	}

	trigger := &models.Trigger{
		ID:         uuid.New(),
		WorkflowID: req.WorkflowID,
		Type:       req.Type,
		Config:     req.Config,
		Enabled:    req.Enabled == nil || *req.Enabled,
		CreatedAt:  time.Now(),
	}

	switch req.Type {
	case models.TriggerCron:
		schedule, err := scheduler.ParseCron(req.Config.Expression)
		if err != nil {
			return c.JSON(http.StatusUnprocessableEntity, errBody(err.Error()))
		}
		if next, ok := schedule.Next(time.Now()); ok {
			trigger.NextRunAt = &next
		}
	case models.TriggerWebhook, models.TriggerManual:
	default:
		return c.JSON(http.StatusBadRequest, errBody("unknown trigger type"))
	}

	if err := h.deps.Components.Triggers.CreateTrigger(ctx, trigger); err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(err.Error()))
	}
	return c.JSON(http.StatusCreated, trigger)
}

// Webhook fires a webhook trigger. The request body becomes the
// execution input, merged over the trigger's configured input.
// POST /webhooks/:triggerID
func (h *TriggerHandler) Webhook(c echo.Context) error {
	id, err := uuid.Parse(c.Param("triggerID"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, errBody("invalid trigger id"))
	}

	ctx := c.Request().Context()
	trigger, err := h.deps.Components.Triggers.GetTrigger(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errBody("trigger not found"))
		}
		return c.JSON(http.StatusInternalServerError, errBody(err.Error()))
	}
	if !trigger.Enabled || trigger.Type != models.TriggerWebhook {
		return c.JSON(http.StatusConflict, errBody("trigger is not an enabled webhook"))
	}

	var body map[string]any
	_ = c.Bind(&body) // empty body is a valid fire

	input := make(map[string]any, len(trigger.Config.Input)+len(body))
	for k, v := range trigger.Config.Input {
		input[k] = v
	}
	for k, v := range body {
		input[k] = v
	}

	h.deps.Orch.ExecuteAsync(ctx, trigger.WorkflowID, input, nil)
	return c.JSON(http.StatusAccepted, map[string]any{
		"trigger_id":  trigger.ID,
		"workflow_id": trigger.WorkflowID,
		"status":      "accepted",
	})
}
