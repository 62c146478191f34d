package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv string
	Port   int

	// Postgres (pgxpool DSN)
	PostgresURL string

	// Redis / broker (asynq)
	RedisURL string

	// JWT verification, gates approve/reject/host-block endpoints.
	JWTSecret string
	JWTIssuer string

	// Runner retry policy
	ExecMaxRetries        int
	ExecBaseBackoff       time.Duration
	ExecMaxBackoff        time.Duration
	ExecLockRetryCeiling  int

	// Outbox publisher
	OutboxBatchSize       int
	OutboxInterval        time.Duration
	OutboxStuckSweepAfter time.Duration

	// Planner
	PlannerBatchSize int

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.AppEnv = getEnv("APP_ENV", "dev")
	cfg.Port = getInt("PORT", 8080)

	cfg.PostgresURL = getEnv("POSTGRES_URL", "")
	cfg.RedisURL = getEnv("REDIS_URL", "redis://127.0.0.1:6379/0")

	cfg.JWTSecret = getEnv("JWT_SECRET", "")
	cfg.JWTIssuer = getEnv("JWT_ISSUER", "fleetops-orchestrator")

	cfg.ExecMaxRetries = getInt("EXEC_MAX_RETRIES", 3)
	cfg.ExecBaseBackoff = time.Duration(getFloatSeconds("EXEC_BASE_BACKOFF_SEC", 2))
	cfg.ExecMaxBackoff = time.Duration(getFloatSeconds("EXEC_MAX_BACKOFF_SEC", 30))
	cfg.ExecLockRetryCeiling = getInt("EXEC_LOCK_RETRY_CEILING", 50)

	cfg.OutboxBatchSize = getInt("OUTBOX_BATCH_SIZE", 200)
	cfg.OutboxInterval = getDuration("OUTBOX_INTERVAL", 2*time.Second)
	cfg.OutboxStuckSweepAfter = getDuration("OUTBOX_STUCK_SWEEP_AFTER", 5*time.Minute)

	cfg.PlannerBatchSize = getInt("PLANNER_BATCH_SIZE", 200)

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.LogFormat = getEnv("LOG_FORMAT", "console")

	if cfg.PostgresURL == "" {
		return nil, fmt.Errorf("missing POSTGRES_URL")
	}
	if cfg.AppEnv != "dev" && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("missing JWT_SECRET (required when APP_ENV != dev)")
	}

	return cfg, nil
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

// getFloatSeconds parses a fractional-seconds env var (as the spec's
// EXEC_*_BACKOFF_SEC knobs are) and returns it as a time.Duration.
func getFloatSeconds(k string, def float64) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return time.Duration(def * float64(time.Second))
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return time.Duration(def * float64(time.Second))
	}
	return time.Duration(f * float64(time.Second))
}

func getDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
