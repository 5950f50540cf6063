package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, ":8081", cfg.Signal.Address)
	assert.Equal(t, 30*time.Second, cfg.Session.HeartbeatInterval)
	assert.Equal(t, 90*time.Second, cfg.Session.EvictionWindow)
	assert.Equal(t, 3*time.Second, cfg.Reconnect.RetryDelay)
	assert.Equal(t, 5, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Viewer.ScreenWaitWindow)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Redis.Enabled)

	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Session.EvictionWindow, cfg.Session.EvictionWindow)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
server:
  address: ":9090"
session:
  heartbeat_interval: 10s
  eviction_window: 30s
reconnect:
  max_attempts: 3
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 10*time.Second, cfg.Session.HeartbeatInterval)
	assert.Equal(t, 30*time.Second, cfg.Session.EvictionWindow)
	assert.Equal(t, 3, cfg.Reconnect.MaxAttempts)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched sections keep defaults
	assert.Equal(t, 3*time.Second, cfg.Reconnect.RetryDelay)
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
session:
  heartbeat_interval: 60s
  eviction_window: 30s
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "eviction_window")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CAMLINK_SERVER_ADDRESS", ":7070")
	t.Setenv("CAMLINK_LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidate_RateLimiting(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	assert.Error(t, cfg.Validate())

	cfg.RateLimiting.HTTP.RequestsPerSecond = 25
	assert.NoError(t, cfg.Validate())
}

func TestValidate_PortRange(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WebRTC.PortRange.Min = 50000
	cfg.WebRTC.PortRange.Max = 40000
	assert.Error(t, cfg.Validate())

	cfg.WebRTC.PortRange.Max = 60000
	assert.NoError(t, cfg.Validate())
}
