// Package config loads and validates service configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the root configuration, assembled by Load.
type Config struct {
	HTTPPort string

	Database  DatabaseConfig
	Redis     RedisConfig
	Runner    RunnerConfig
	Retention RetentionConfig
	Plans     PlanTable
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// RedisConfig holds the cache backend settings for the event store and the
// content cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// RunnerConfig holds job-runner execution settings.
type RunnerConfig struct {
	// AgentTimeout bounds one LLM/agent invocation (CREWAI_TIMEOUT).
	AgentTimeout time.Duration
	// ProgressInterval is the cadence of agent_progress events.
	ProgressInterval time.Duration
	// ModerationEnabled gates the background output-moderation pass.
	ModerationEnabled bool
	// ModerationVersion participates in the content cache key.
	ModerationVersion string
	// PromptVersion participates in the content cache key.
	PromptVersion string
	// ContentCacheTTL bounds cached generation results.
	ContentCacheTTL time.Duration
}

// RetentionConfig holds scheduler settings for retention enforcement,
// notifications, session GC and the GDPR hard-delete sweep.
type RetentionConfig struct {
	DryRun           bool
	NotifyEnabled    bool
	NotifyDaysBefore int
	NotifyBatchSize  int
	SessionMaxAge    time.Duration
	DeletionGraceDays int
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Runner: RunnerConfig{
			AgentTimeout:      getEnvDuration("CREWAI_TIMEOUT", 300*time.Second),
			ProgressInterval:  getEnvDuration("AGENT_PROGRESS_INTERVAL", 3*time.Second),
			ModerationEnabled: getEnvBool("ENABLE_CONTENT_MODERATION", true),
			ModerationVersion: getEnv("MODERATION_VERSION", "v1"),
			PromptVersion:     getEnv("PROMPT_VERSION", "v1"),
			ContentCacheTTL:   getEnvDuration("CONTENT_CACHE_TTL", 24*time.Hour),
		},
		Retention: RetentionConfig{
			DryRun:            getEnvBool("RETENTION_DRY_RUN", false),
			NotifyEnabled:     getEnvBool("RETENTION_NOTIFY_ENABLED", true),
			NotifyDaysBefore:  getEnvInt("RETENTION_NOTIFY_DAYS_BEFORE", 7),
			NotifyBatchSize:   getEnvInt("RETENTION_NOTIFY_BATCH_SIZE", 100),
			SessionMaxAge:     getEnvDuration("SESSION_MAX_AGE", 7*24*time.Hour),
			DeletionGraceDays: getEnvInt("GDPR_DELETION_GRACE_DAYS", 30),
		},
		Plans: DefaultPlanTable(),
	}

	applyRetentionOverrides(cfg.Plans)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Runner.AgentTimeout <= 0 {
		return fmt.Errorf("CREWAI_TIMEOUT must be positive")
	}
	if c.Retention.NotifyDaysBefore < 0 {
		return fmt.Errorf("RETENTION_NOTIFY_DAYS_BEFORE must not be negative")
	}
	if c.Retention.DeletionGraceDays < 0 {
		return fmt.Errorf("GDPR_DELETION_GRACE_DAYS must not be negative")
	}
	return c.Plans.Validate()
}

// applyRetentionOverrides lets operators tune per-tier retention windows
// without redefining the whole plan table.
func applyRetentionOverrides(plans PlanTable) {
	for env, plan := range map[string]string{
		"RETENTION_DAYS_FREE":       "free",
		"RETENTION_DAYS_BASIC":      "basic",
		"RETENTION_DAYS_PRO":        "pro",
		"RETENTION_DAYS_ENTERPRISE": "enterprise",
	} {
		if v := os.Getenv(env); v != "" {
			if days, err := strconv.Atoi(v); err == nil {
				if p, ok := plans[plan]; ok {
					p.RetentionDays = days
				}
			}
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts either a Go duration string ("300s") or a bare
// number of seconds ("300"), matching how the timeout variables are set in
// existing deployments.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
