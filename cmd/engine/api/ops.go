package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/flowsync/flowsync/common/ratelimit"
)

// OpsHandler serves the operational surface
type OpsHandler struct {
	deps Deps
}

// Health reports component health
// GET /healthz
func (h *OpsHandler) Health(c echo.Context) error {
	if err := h.deps.Components.Health(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"service": h.deps.Components.Config.Service.Name,
	})
}

// Stats reports a point-in-time snapshot of the engine internals
// GET /stats
func (h *OpsHandler) Stats(c echo.Context) error {
	ctx := c.Request().Context()

	queueStats, err := h.deps.Components.Queue.Stats(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errBody(err.Error()))
	}
	hb := h.deps.Heartbeat.Status()

	stats := map[string]any{
		"queue":        queueStats,
		"backpressure": h.deps.Backpressure.State(),
		"dead_letters": h.deps.DeadLetters.Stats(),
		"in_flight":    hb.InFlight,
		"stalled":      hb.Stalled,
		"idempotency":  h.deps.Components.Idempotency.Size(),
		"awaiting":     h.deps.Bus.Waiting(),
		"counters":     h.deps.Components.Metrics.Snapshot(),
	}
	if h.deps.RateLimiter != nil {
		stats["rate_limit_tiers"] = ratelimit.AllTiers()
	}
	return c.JSON(http.StatusOK, stats)
}
