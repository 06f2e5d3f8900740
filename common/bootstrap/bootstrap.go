// Package bootstrap wires the shared infrastructure every service
// starts from: config, logger, storage, queue, cache, idempotency.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowsync/flowsync/common/audit"
	"github.com/flowsync/flowsync/common/cache"
	"github.com/flowsync/flowsync/common/config"
	"github.com/flowsync/flowsync/common/db"
	"github.com/flowsync/flowsync/common/idempotency"
	"github.com/flowsync/flowsync/common/logger"
	"github.com/flowsync/flowsync/common/metrics"
	"github.com/flowsync/flowsync/common/queue"
	"github.com/flowsync/flowsync/common/store"
)

// Setup initializes all shared components for a service. Callers own
// the returned Components and must defer Shutdown.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	log := components.Logger
	log.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
		"storage", components.Config.Service.Storage,
	)

	usePostgres := components.Config.Service.Storage == "postgres" && !options.memoryOnly

	if usePostgres {
		log.Info("connecting to database")
		components.DB, err = db.New(ctx, components.Config, log)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		components.addCleanup(func() error {
			log.Info("closing database connection")
			components.DB.Close()
			return nil
		})

		if options.dbInitHook != nil {
			if err := options.dbInitHook(components.DB); err != nil {
				components.Shutdown(ctx)
				return nil, fmt.Errorf("database init hook: %w", err)
			}
		}

		components.Workflows = store.NewWorkflowRepository(components.DB)
		components.Executions = store.NewExecutionRepository(components.DB)
		components.Triggers = store.NewTriggerRepository(components.DB)
		components.Queue = queue.NewPostgresQueue(components.DB, log)
		components.Audit = audit.NewPostgresWriter(components.DB, log)
	} else {
		log.Info("using in-memory storage")
		mem := store.NewMemory()
		components.Workflows = mem
		components.Executions = mem
		components.Triggers = mem
		components.Queue = queue.NewMemoryQueue(log)
		components.Audit = audit.NewMemoryWriter()
	}
	components.addCleanup(func() error {
		return components.Queue.Close()
	})

	engine := components.Config.Engine
	if components.Config.Redis.Enabled {
		log.Info("connecting to redis", "addr", components.Config.Redis.Addr)
		client := redis.NewClient(&redis.Options{
			Addr:     components.Config.Redis.Addr,
			Password: components.Config.Redis.Password,
			DB:       components.Config.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		components.Redis = client
		components.Idempotency = idempotency.NewRedisStore(client, engine.IdempotencyTTL, log)
		components.addCleanup(func() error {
			log.Info("closing redis connection")
			return client.Close()
		})
	} else {
		components.Idempotency = idempotency.NewMemoryStore(engine.IdempotencyTTL, engine.IdempotencySweep)
	}
	components.addCleanup(func() error {
		return components.Idempotency.Close()
	})

	components.Cache = cache.NewMemoryCache(log)
	components.addCleanup(func() error {
		return components.Cache.Close()
	})

	components.Metrics = metrics.New()

	log.Info("service initialization complete",
		"service", serviceName,
		"db", components.DB != nil,
		"redis", components.Redis != nil,
	)
	return components, nil
}

// MustSetup is Setup that panics on error
func MustSetup(ctx context.Context, serviceName string, opts ...Option) *Components {
	components, err := Setup(ctx, serviceName, opts...)
	if err != nil {
		panic(fmt.Sprintf("setup service %s: %v", serviceName, err))
	}
	return components
}
