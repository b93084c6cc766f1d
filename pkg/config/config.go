// Package config loads backend configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all tunables for the streaming backend. Values come from
// PAGEGEN_* environment variables with the defaults below; no semantics
// depend on specific values beyond the Validate constraints.
type Config struct {
	// HTTP
	HTTPPort string

	// Generator
	GeneratorAddr    string
	GeneratorTimeout time.Duration // per-attempt budget
	DefaultModel     string

	// Processor
	MaxBatchSize int

	// Registry
	IdleTTL       time.Duration
	SweepInterval time.Duration

	// Retry stream
	MaxAttempts int

	// Event bus
	SubscriberBuffer int

	// Retention
	EventRetention  time.Duration
	CleanupSchedule string // 5-field cron expression

	// Sandbox tool execution (empty disables tool forwarding)
	SandboxAddr string
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:        getEnv("PAGEGEN_HTTP_PORT", "8080"),
		GeneratorAddr:   getEnv("PAGEGEN_GENERATOR_ADDR", "http://localhost:9090"),
		DefaultModel:    getEnv("PAGEGEN_DEFAULT_MODEL", "ui-gen-1"),
		CleanupSchedule: getEnv("PAGEGEN_CLEANUP_SCHEDULE", "13 3 * * *"),
		SandboxAddr:     os.Getenv("PAGEGEN_SANDBOX_ADDR"),
	}

	var err error
	if cfg.GeneratorTimeout, err = getDuration("PAGEGEN_GENERATOR_TIMEOUT", 120*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxBatchSize, err = getInt("PAGEGEN_MAX_BATCH_SIZE", 8); err != nil {
		return nil, err
	}
	if cfg.IdleTTL, err = getDuration("PAGEGEN_IDLE_TTL", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = getDuration("PAGEGEN_SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts, err = getInt("PAGEGEN_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.SubscriberBuffer, err = getInt("PAGEGEN_SUBSCRIBER_BUFFER", 256); err != nil {
		return nil, err
	}
	if cfg.EventRetention, err = getDuration("PAGEGEN_EVENT_RETENTION", 7*24*time.Hour); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the constraints the processing semantics rely on.
func (c *Config) Validate() error {
	if c.MaxBatchSize < 1 {
		return fmt.Errorf("PAGEGEN_MAX_BATCH_SIZE must be >= 1, got %d", c.MaxBatchSize)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("PAGEGEN_MAX_ATTEMPTS must be >= 1, got %d", c.MaxAttempts)
	}
	if c.SubscriberBuffer < 1 {
		return fmt.Errorf("PAGEGEN_SUBSCRIBER_BUFFER must be >= 1, got %d", c.SubscriberBuffer)
	}
	if c.IdleTTL <= 0 {
		return fmt.Errorf("PAGEGEN_IDLE_TTL must be positive, got %v", c.IdleTTL)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("PAGEGEN_SWEEP_INTERVAL must be positive, got %v", c.SweepInterval)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
