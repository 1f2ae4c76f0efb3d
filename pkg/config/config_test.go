package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/contentforge")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 300*time.Second, cfg.Runner.AgentTimeout)
	assert.Equal(t, "v1", cfg.Runner.PromptVersion)
	assert.True(t, cfg.Retention.NotifyEnabled)
	assert.Equal(t, 7, cfg.Retention.NotifyDaysBefore)
	assert.Equal(t, 30, cfg.Retention.DeletionGraceDays)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadDurationAcceptsBareSeconds(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/contentforge")
	t.Setenv("CREWAI_TIMEOUT", "600")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 600*time.Second, cfg.Runner.AgentTimeout)
}

func TestLoadDurationAcceptsGoSyntax(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/contentforge")
	t.Setenv("CREWAI_TIMEOUT", "10m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, cfg.Runner.AgentTimeout)
}

func TestLoadRetentionOverride(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/contentforge")
	t.Setenv("RETENTION_DAYS_FREE", "14")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 14, cfg.Plans["free"].RetentionDays)
	assert.Equal(t, 90, cfg.Plans["basic"].RetentionDays, "other tiers keep their defaults")
}

func TestGetEnvDurationMalformedFallsBack(t *testing.T) {
	t.Setenv("SOME_DURATION", "not-a-duration")
	assert.Equal(t, time.Minute, getEnvDuration("SOME_DURATION", time.Minute))
}
