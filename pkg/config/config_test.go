package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.MaxBatchSize)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 256, cfg.SubscriberBuffer)
	assert.Equal(t, 30*time.Minute, cfg.IdleTTL)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PAGEGEN_MAX_BATCH_SIZE", "2")
	t.Setenv("PAGEGEN_IDLE_TTL", "45s")
	t.Setenv("PAGEGEN_DEFAULT_MODEL", "ui-gen-2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxBatchSize)
	assert.Equal(t, 45*time.Second, cfg.IdleTTL)
	assert.Equal(t, "ui-gen-2", cfg.DefaultModel)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Run("non-numeric batch size", func(t *testing.T) {
		t.Setenv("PAGEGEN_MAX_BATCH_SIZE", "lots")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("zero attempts", func(t *testing.T) {
		t.Setenv("PAGEGEN_MAX_ATTEMPTS", "0")
		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("PAGEGEN_SWEEP_INTERVAL", "soon")
		_, err := Load()
		assert.Error(t, err)
	})
}
