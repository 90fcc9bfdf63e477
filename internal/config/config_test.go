package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DevelopmentDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("SERVER_KEY_SEED", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 120, cfg.RateLimitPerMinute)
}

func TestLoad_ProductionRequiresDependencies(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SQLITE_PATH", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("SERVER_KEY_SEED", "seed")

	_, err := Load()
	assert.ErrorContains(t, err, "DATABASE_URL or SQLITE_PATH")

	t.Setenv("SQLITE_PATH", "/tmp/groupbank.db")
	t.Setenv("SERVER_KEY_SEED", "")
	_, err = Load()
	assert.ErrorContains(t, err, "SERVER_KEY_SEED")

	t.Setenv("SERVER_KEY_SEED", "seed")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoad_Durations(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("STORE_TIMEOUT_SECONDS", "2")
	t.Setenv("SHUTDOWN_TIMEOUT", "1500ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.StoreTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.ShutdownPeriod)

	t.Setenv("IDEMPOTENCY_TTL", "soon")
	_, err = Load()
	assert.ErrorContains(t, err, "IDEMPOTENCY_TTL")
}

func TestLoad_RateLimit(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "-3")
	_, err := Load()
	assert.Error(t, err)
}
