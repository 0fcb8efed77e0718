package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calehall/taskwell/internal/config"
)

func TestLoad(t *testing.T) {
	t.Run("defaults with database URL from env", func(t *testing.T) {
		t.Setenv("TASKWELL_DATABASE_URL", "postgres://localhost:5432/taskwell")

		cfg, err := config.Load()
		require.NoError(t, err)

		assert.Equal(t, "postgres://localhost:5432/taskwell", cfg.Database.URL)
		assert.Equal(t, "info", cfg.Logger.Level)
		assert.Equal(t, 10, cfg.Worker.MaxConcurrentTasks)
		assert.Equal(t, 50, cfg.Worker.BatchSize)
		assert.Equal(t, time.Second, cfg.Worker.PollInterval)
		assert.Equal(t, 60*time.Second, cfg.Worker.TaskTimeout)
		assert.Equal(t, 5*time.Minute, cfg.Worker.StuckTaskAge)
		assert.Equal(t, time.Second, cfg.Worker.Retry.BaseDelay)
		assert.Equal(t, 5*time.Minute, cfg.Worker.Retry.MaxDelay)
		assert.InDelta(t, 0.25, cfg.Worker.Retry.Jitter, 0.0001)
		assert.Equal(t, 5, cfg.Worker.Breaker.FailureThreshold)
		assert.Equal(t, 60*time.Second, cfg.Worker.Breaker.FailureWindow)
		assert.Equal(t, 30*time.Second, cfg.Worker.Breaker.RecoveryTimeout)
	})

	t.Run("environment overrides defaults", func(t *testing.T) {
		t.Setenv("TASKWELL_DATABASE_URL", "postgres://localhost:5432/taskwell")
		t.Setenv("TASKWELL_LOGGER_LEVEL", "debug")
		t.Setenv("TASKWELL_WORKER_MAX_CONCURRENT_TASKS", "32")
		t.Setenv("TASKWELL_WORKER_POLL_INTERVAL", "250ms")
		t.Setenv("TASKWELL_WORKER_BREAKER_FAILURE_THRESHOLD", "8")

		cfg, err := config.Load()
		require.NoError(t, err)

		assert.Equal(t, "debug", cfg.Logger.Level)
		assert.Equal(t, 32, cfg.Worker.MaxConcurrentTasks)
		assert.Equal(t, 250*time.Millisecond, cfg.Worker.PollInterval)
		assert.Equal(t, 8, cfg.Worker.Breaker.FailureThreshold)
	})

	t.Run("missing database URL fails validation", func(t *testing.T) {
		t.Setenv("TASKWELL_DATABASE_URL", "")

		_, err := config.Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validation")
	})

	t.Run("invalid log level fails validation", func(t *testing.T) {
		t.Setenv("TASKWELL_DATABASE_URL", "postgres://localhost:5432/taskwell")
		t.Setenv("TASKWELL_LOGGER_LEVEL", "verbose")

		_, err := config.Load()
		assert.Error(t, err)
	})

	t.Run("invalid jitter fails validation", func(t *testing.T) {
		t.Setenv("TASKWELL_DATABASE_URL", "postgres://localhost:5432/taskwell")
		t.Setenv("TASKWELL_WORKER_RETRY_JITTER", "1.5")

		_, err := config.Load()
		assert.Error(t, err)
	})
}
