package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration
type Config struct {
	Service      ServiceConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Engine       EngineConfig
	Backpressure BackpressureConfig
	RateLimit    RateLimitConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	PprofPort   int // 0 disables the pprof sidecar
	Environment string
	LogLevel    string
	LogFormat   string
	Storage     string // postgres | memory
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings for the idempotency store
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// EngineConfig holds execution engine tunables
type EngineConfig struct {
	MaxConcurrency      int
	PollInterval        time.Duration
	IdempotencyTTL      time.Duration
	IdempotencySweep    time.Duration
	HeartbeatStall      time.Duration
	OrchestratorTimeout time.Duration
	MaxDelay            time.Duration
	SchedulerTick       time.Duration
	DrainTimeout        time.Duration
	LockReclaimAfter    time.Duration
	DefaultBackoff      time.Duration
	DefaultMultiplier   float64
}

// BackpressureConfig holds queue-depth admission thresholds
type BackpressureConfig struct {
	LowWater  int
	HighWater int
	MaxDepth  int
}

// RateLimitConfig holds Redis-backed request limits for the HTTP
// surface. Requires Redis; ignored when it is disabled.
type RateLimitConfig struct {
	Enabled    bool
	Global     int64 // requests/minute across all callers
	PerUser    int64 // requests/minute per X-User-ID
	PerTrigger int64 // webhook deliveries/minute per trigger
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			PprofPort:   getEnvInt("PPROF_PORT", 0),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
			Storage:     getEnv("STORAGE", "postgres"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "flowsync"),
			User:        getEnv("POSTGRES_USER", "flowsync"),
			Password:    getEnv("POSTGRES_PASSWORD", "flowsync"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 50),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 10),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Engine: EngineConfig{
			MaxConcurrency:      getEnvInt("MAX_CONCURRENCY", 5),
			PollInterval:        getEnvDuration("POLL_INTERVAL", 500*time.Millisecond),
			IdempotencyTTL:      getEnvDuration("IDEMPOTENCY_TTL", 5*time.Minute),
			IdempotencySweep:    getEnvDuration("IDEMPOTENCY_SWEEP", 60*time.Second),
			HeartbeatStall:      getEnvDuration("HEARTBEAT_STALL", 30*time.Second),
			OrchestratorTimeout: getEnvDuration("ORCHESTRATOR_TIMEOUT", 5*time.Minute),
			MaxDelay:            getEnvDuration("MAX_DELAY", 5*time.Minute),
			SchedulerTick:       getEnvDuration("SCHEDULER_TICK", 60*time.Second),
			DrainTimeout:        getEnvDuration("DRAIN_TIMEOUT", 30*time.Second),
			LockReclaimAfter:    getEnvDuration("LOCK_RECLAIM_AFTER", 5*time.Minute),
			DefaultBackoff:      getEnvDuration("RETRY_BACKOFF", 1*time.Second),
			DefaultMultiplier:   getEnvFloat("RETRY_MULTIPLIER", 2),
		},
		Backpressure: BackpressureConfig{
			LowWater:  getEnvInt("BACKPRESSURE_LOW_WATER", 200),
			HighWater: getEnvInt("BACKPRESSURE_HIGH_WATER", 800),
			MaxDepth:  getEnvInt("BACKPRESSURE_MAX_DEPTH", 1000),
		},
		RateLimit: RateLimitConfig{
			Enabled:    getEnvBool("RATE_LIMIT_ENABLED", false),
			Global:     int64(getEnvInt("RATE_LIMIT_GLOBAL", 600)),
			PerUser:    int64(getEnvInt("RATE_LIMIT_PER_USER", 120)),
			PerTrigger: int64(getEnvInt("RATE_LIMIT_PER_TRIGGER", 60)),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if c.Service.Storage != "postgres" && c.Service.Storage != "memory" {
		return fmt.Errorf("unknown storage mode: %s", c.Service.Storage)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	if c.Engine.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be >= 1")
	}

	bp := c.Backpressure
	if !(bp.LowWater <= bp.HighWater && bp.HighWater <= bp.MaxDepth) {
		return fmt.Errorf("backpressure thresholds must satisfy low <= high <= max, got %d/%d/%d",
			bp.LowWater, bp.HighWater, bp.MaxDepth)
	}

	return nil
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
