package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	require.NoError(t, cfg.Validate())
	assert.InDelta(t, 300.0, cfg.RiskLimits.DailyLossLimit, 1e-9)
	assert.Equal(t, 100, cfg.RiskLimits.MaxTradesPerDay)
	assert.InDelta(t, 1000.0, cfg.RiskLimits.MaxPositionSize, 1e-9)
	assert.Equal(t, 5, cfg.RiskLimits.MaxConcurrentPositions)
	assert.InDelta(t, 0.10, cfg.RiskLimits.DrawdownThreshold, 1e-9)
	assert.Equal(t, 60, cfg.Recovery.SnapshotIntervalSeconds)
	assert.Equal(t, 24, cfg.Recovery.MaxSnapshots)
	assert.Equal(t, 300, cfg.Recovery.RecoveryTimeoutSeconds)
}

func TestLoadConfigAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
session_start_balance: 25000
risk_limits:
  daily_loss_limit: 500
  max_trades_per_day: 20
  max_position_size: 2000
  max_concurrent_positions: 3
  drawdown_threshold: 0.15
recovery:
  snapshot_interval_seconds: 30
  max_snapshots: 10
  recovery_timeout_seconds: 120
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.InDelta(t, 25000.0, cfg.SessionStartBalance, 1e-9)
	assert.InDelta(t, 500.0, cfg.RiskLimits.DailyLossLimit, 1e-9)
	assert.Equal(t, 20, cfg.RiskLimits.MaxTradesPerDay)
	assert.Equal(t, 30, cfg.Recovery.SnapshotIntervalSeconds)
	// Blocks left out of the file keep the defaults.
	assert.Equal(t, "data", cfg.Storage.DataDirectory)
	assert.Equal(t, "info", cfg.Logs.LogLevel)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadOrDefaultFallsBack(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.InDelta(t, 300.0, cfg.RiskLimits.DailyLossLimit, 1e-9)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero loss limit", func(c *Config) { c.RiskLimits.DailyLossLimit = 0 }},
		{"negative trades", func(c *Config) { c.RiskLimits.MaxTradesPerDay = -1 }},
		{"drawdown above one", func(c *Config) { c.RiskLimits.DrawdownThreshold = 1.5 }},
		{"missing risk block", func(c *Config) { c.RiskLimits = nil }},
		{"missing recovery block", func(c *Config) { c.Recovery = nil }},
		{"zero snapshot interval", func(c *Config) { c.Recovery.SnapshotIntervalSeconds = 0 }},
		{"empty data directory", func(c *Config) { c.Storage.DataDirectory = "" }},
		{"missing logs block", func(c *Config) { c.Logs = nil }},
		{"zero start balance", func(c *Config) { c.SessionStartBalance = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfigRejectsInvalidOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("risk_limits:\n  daily_loss_limit: -5\n"), 0644))

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daily_loss_limit")
}

func TestLoadEnvConfig(t *testing.T) {
	t.Setenv("TRADEGUARD_RESET_CODE", "SECRET-1")
	t.Setenv("TRADEGUARD_DATA_DIR", "/tmp/td")

	env := LoadEnvConfig()
	assert.Equal(t, "SECRET-1", env.ResetCode)
	assert.Equal(t, "/tmp/td", env.DataDir)
}
