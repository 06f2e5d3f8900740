package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/flowsync/flowsync/cmd/engine/api"
	"github.com/flowsync/flowsync/cmd/engine/consumer"
	"github.com/flowsync/flowsync/cmd/engine/handlers"
	"github.com/flowsync/flowsync/cmd/engine/orchestrator"
	"github.com/flowsync/flowsync/cmd/engine/publisher"
	"github.com/flowsync/flowsync/cmd/engine/resulthandler"
	"github.com/flowsync/flowsync/cmd/engine/scheduler"
	"github.com/flowsync/flowsync/common/backpressure"
	"github.com/flowsync/flowsync/common/bootstrap"
	"github.com/flowsync/flowsync/common/bus"
	"github.com/flowsync/flowsync/common/db"
	"github.com/flowsync/flowsync/common/dlq"
	"github.com/flowsync/flowsync/common/heartbeat"
	"github.com/flowsync/flowsync/common/ratelimit"
	"github.com/flowsync/flowsync/common/server"
	"github.com/flowsync/flowsync/common/telemetry"
)

func main() {
	ctx := context.Background()

	components, err := bootstrap.Setup(ctx, "engine",
		bootstrap.WithDBInitHook(func(database *db.DB) error {
			return database.Migrate(ctx)
		}),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap engine: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	cfg := components.Config
	log := components.Logger

	bp := backpressure.New(cfg.Backpressure, log)
	signals := bus.New(log)
	deadLetters := dlq.New(log)
	hb := heartbeat.New(cfg.Engine.HeartbeatStall, log)

	pub := publisher.New(components.Executions, components.Queue, components.Idempotency, bp, components.Metrics, log)
	results := resulthandler.New(components.Executions, components.Workflows, pub, signals, components.Metrics, components.Audit, components.Cache, log)
	registry := handlers.NewDefaultRegistry(cfg.Engine.MaxDelay, log)

	workerName := fmt.Sprintf("engine-%s", uuid.NewString()[:8])
	workers := consumer.New(workerName, components.Queue, components.Executions, components.Idempotency, registry, results, deadLetters, hb, components.Metrics, components.Audit, cfg.Engine, log)

	orc := orchestrator.New(components.Workflows, components.Executions, pub, signals, components.Metrics, components.Audit, cfg.Engine, log)
	sched := scheduler.New(components.Triggers, components.Workflows, orc, components.Metrics, components.Audit, cfg.Engine, log)

	workers.Start(ctx)
	sched.Start(ctx)

	if cfg.Service.PprofPort > 0 {
		telemetry.New(cfg.Service.PprofPort, log).Start(ctx)
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled && components.Redis != nil {
		limiter = ratelimit.New(components.Redis, log)
	}

	router := api.NewRouter(api.Deps{
		Components:   components,
		Orch:         orc,
		Bus:          signals,
		Backpressure: bp,
		DeadLetters:  deadLetters,
		Heartbeat:    hb,
		RateLimiter:  limiter,
	})

	srv := server.New("flowsync-engine", cfg.Service.Port, router, 30*time.Second, log)
	if err := srv.Start(); err != nil {
		log.Error("server stopped", "error", err)
	}

	sched.Stop()
	workers.Stop()
}
