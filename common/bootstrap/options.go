package bootstrap

import (
	"github.com/flowsync/flowsync/common/config"
	"github.com/flowsync/flowsync/common/db"
	"github.com/flowsync/flowsync/common/logger"
)

// Option configures the bootstrap process
type Option func(*options)

type options struct {
	memoryOnly   bool
	customLogger *logger.Logger
	customConfig *config.Config
	dbInitHook   func(*db.DB) error
}

// WithMemoryStorage forces in-memory storage regardless of config.
// Used by tests and local development.
func WithMemoryStorage() Option {
	return func(o *options) {
		o.memoryOnly = true
	}
}

// WithCustomLogger uses a custom logger instead of creating one
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) {
		o.customLogger = log
	}
}

// WithCustomConfig uses a custom config instead of loading from env
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.customConfig = cfg
	}
}

// WithDBInitHook runs after the database pool is ready, before any
// repository is used. Migrations go here.
func WithDBInitHook(hook func(*db.DB) error) Option {
	return func(o *options) {
		o.dbInitHook = hook
	}
}

func defaultOptions() *options {
	return &options{}
}
