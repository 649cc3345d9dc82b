package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env  string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	Port string `env:"PORT" envDefault:"8080" validate:"required"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`
	RedisURL    string `env:"REDIS_URL" envDefault:""`

	// Scheduler tick and lookahead. The tick is the correctness floor;
	// wake signals only shave latency off it.
	SchedulerTickSec      int `env:"SCHEDULER_TICK_SEC" envDefault:"10" validate:"min=1,max=60"`
	SchedulerLookaheadSec int `env:"SCHEDULER_LOOKAHEAD_SEC" envDefault:"10" validate:"min=1,max=120"`

	// Worker pool. Each worker is a single sequential claim-and-run
	// process; WorkerMaxCount is the sole concurrency control.
	WorkerMinCount int `env:"WORKER_MIN_COUNT" envDefault:"2" validate:"min=1,max=200"`
	WorkerMaxCount int `env:"WORKER_MAX_COUNT" envDefault:"20" validate:"min=1,max=500"`

	// Cleanup sweeper. Retention purge runs once daily at 03:00 UTC
	// (not configurable); stale-execution recovery runs on its own,
	// faster cadence.
	CleanupStaleRecoverySec int `env:"CLEANUP_STALE_RECOVERY_SEC" envDefault:"300" validate:"min=30,max=3600"`

	// Monitor checker.
	MonitorCheckIntervalSec int `env:"MONITOR_CHECK_INTERVAL_SEC" envDefault:"10" validate:"min=1,max=300"`

	// Execution counter flush cadence.
	ExecCounterFlushSec int `env:"EXEC_COUNTER_FLUSH_SEC" envDefault:"5" validate:"min=1,max=60"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	// JWKSURL is the JWKS endpoint for RS256 API token verification.
	// When set, it takes precedence over JWTSecret.
	JWKSURL string `env:"JWKS_URL"`

	// JWTSecret is the HMAC fallback, used for local dev and for
	// service-to-service tokens that never cross a JWKS boundary.
	JWTSecret string `env:"JWT_SECRET"`

	ResendAPIKey string `env:"RESEND_API_KEY" validate:"required_if=Env production,required_if=Env staging"`
	ResendFrom   string `env:"RESEND_FROM" validate:"required_if=Env production,required_if=Env staging"`

	// PublicBaseURL is used to build inbound/ping receiver URLs surfaced
	// back to tenants in API responses.
	PublicBaseURL string `env:"PUBLIC_BASE_URL" envDefault:"http://localhost:8080"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
