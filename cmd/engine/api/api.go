// Package api exposes the engine over HTTP: workflow lifecycle,
// execution control, webhook triggers, and the ops surface.
package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/flowsync/flowsync/cmd/engine/orchestrator"
	"github.com/flowsync/flowsync/common/backpressure"
	"github.com/flowsync/flowsync/common/bootstrap"
	"github.com/flowsync/flowsync/common/bus"
	"github.com/flowsync/flowsync/common/dlq"
	"github.com/flowsync/flowsync/common/heartbeat"
	ratemw "github.com/flowsync/flowsync/common/middleware"
	"github.com/flowsync/flowsync/common/ratelimit"
)

// Deps carries everything the HTTP layer reports on or drives
type Deps struct {
	Components   *bootstrap.Components
	Orch         *orchestrator.Orchestrator
	Bus          *bus.CompletionBus
	Backpressure *backpressure.Controller
	DeadLetters  *dlq.DeadLetterSink
	Heartbeat    *heartbeat.Monitor
	RateLimiter  *ratelimit.Limiter // nil when Redis or rate limiting is disabled
}

// NewRouter builds the echo router with all routes registered
func NewRouter(deps Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())

	ops := &OpsHandler{deps: deps}
	e.GET("/healthz", ops.Health)
	e.GET("/stats", ops.Stats)
	e.GET("/metrics", echo.WrapHandler(deps.Components.Metrics.Handler()))

	api := e.Group("/api/v1")
	webhooks := e.Group("/webhooks")
	if deps.RateLimiter != nil {
		limits := deps.Components.Config.RateLimit
		api.Use(ratemw.GlobalRateLimit(deps.RateLimiter, limits.Global))
		api.Use(ratemw.UserRateLimit(deps.RateLimiter, limits.PerUser))
		webhooks.Use(ratemw.TriggerRateLimit(deps.RateLimiter, limits.PerTrigger))
	}

	workflows := &WorkflowHandler{deps: deps}
	api.POST("/workflows", workflows.Create)
	api.GET("/workflows/:id", workflows.Get)
	api.PATCH("/workflows/:id", workflows.Patch)
	api.PUT("/workflows/:id/status", workflows.SetStatus)

	executions := &ExecutionHandler{deps: deps}
	api.POST("/workflows/:id/execute", executions.Execute)
	api.GET("/executions/:id", executions.Get)
	api.GET("/executions/:id/steps", executions.Steps)
	api.POST("/executions/:id/cancel", executions.Cancel)

	triggers := &TriggerHandler{deps: deps}
	api.POST("/triggers", triggers.Create)
	webhooks.POST("/:triggerID", triggers.Webhook)

	return e
}
