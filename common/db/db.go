// Package db owns the Postgres connection pool shared by the queue,
// stores and audit writer.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowsync/flowsync/common/config"
	"github.com/flowsync/flowsync/common/logger"
)

const (
	connectTimeout = 5 * time.Second
	healthTimeout  = 3 * time.Second
)

// DB is the pgx pool with FlowSync lifecycle hooks
type DB struct {
	*pgxpool.Pool
	log *logger.Logger
}

// New opens the pool with the configured sizing and verifies the
// database is reachable before the engine starts consuming
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info("database pool ready",
		"host", cfg.Database.Host, "db", cfg.Database.Database,
		"max_conns", cfg.Database.MaxConns)

	return &DB{
		Pool: pool,
		log:  log,
	}, nil
}

// Close drains the pool
func (db *DB) Close() {
	db.log.Info("closing database pool")
	db.Pool.Close()
}

// Health pings the database under a short deadline, for the /healthz
// endpoint
func (db *DB) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	return db.Pool.Ping(ctx)
}
