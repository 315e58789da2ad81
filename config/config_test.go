package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "REQUEST_TIMEOUT", "PREFETCH_LIMIT", "PREFETCH_SOFT_TIMEOUT", "DEVICE_CORES"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "", cfg.DatabaseURL)
	assert.Equal(t, 30, cfg.RequestTimeout)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeoutDuration())
	assert.Equal(t, 10, cfg.PredictionLimit)
	assert.Equal(t, 10*time.Second, cfg.SoftTimeout)
	assert.Equal(t, 0, cfg.DeviceCores)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REQUEST_TIMEOUT", "5")
	t.Setenv("PREFETCH_LIMIT", "4")
	t.Setenv("PREFETCH_SOFT_TIMEOUT", "3s")
	t.Setenv("DEVICE_MEMORY_GB", "8")
	t.Setenv("NETWORK_TYPE", "4g")

	cfg := Load()
	assert.Equal(t, 5, cfg.RequestTimeout)
	assert.Equal(t, 4, cfg.PredictionLimit)
	assert.Equal(t, 3*time.Second, cfg.SoftTimeout)
	assert.Equal(t, 8.0, cfg.DeviceMemoryGB)
	assert.Equal(t, "4g", cfg.NetworkType)
}

func TestLoadBadValuesFallBack(t *testing.T) {
	t.Setenv("REQUEST_TIMEOUT", "thirty")
	t.Setenv("PREFETCH_IDLE_THRESHOLD", "-1s")
	t.Setenv("VIEWPORT_HEIGHT", "tall")

	cfg := Load()
	assert.Equal(t, 30, cfg.RequestTimeout)
	assert.Equal(t, 2*time.Second, cfg.IdleThreshold)
	assert.Equal(t, 800.0, cfg.ViewportHeight)
}
