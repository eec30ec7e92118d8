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

	assert.Equal(t, "dev", cfg.AppEnv)
	assert.True(t, cfg.IsDev())
	assert.False(t, cfg.IsProd())
	assert.Equal(t, 64, cfg.GenerateQueueSize)
	assert.Equal(t, 256, cfg.PollQueueSize)
	assert.Equal(t, 32, cfg.DownloadQueueSize)
	assert.Equal(t, 20, cfg.GeneratorWorkers)
	assert.Equal(t, 5, cfg.DownloaderWorkers)
	assert.Equal(t, 5, cfg.MaxRetryCount)
	assert.Equal(t, 3, cfg.MaxTransientRetries)
	assert.Equal(t, 60, cfg.MaxPollCount)
	assert.Equal(t, 30*time.Second, cfg.PollWaitTimeout)
	assert.Equal(t, 15*time.Minute, cfg.StaleJobCutoff)
	assert.Equal(t, int64(10000), cfg.MinDownloadBytes)
	assert.Equal(t, "data/db/pipeline.db", cfg.DBPath)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("GENERATOR_WORKERS", "2")
	t.Setenv("POLL_SLEEP_MIN", "10ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsTest())
	assert.Equal(t, 2, cfg.GeneratorWorkers)
	assert.Equal(t, 10*time.Millisecond, cfg.PollSleepMin)
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv("GENERATE_QUEUE_SIZE", "not-a-number")
	_, err := Load()
	require.Error(t, err)
}
