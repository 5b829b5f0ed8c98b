// config/config.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// RiskLimitsConfig holds the hard limits enforced by the risk limiter.
// Immutable for the lifetime of a session once loaded.
type RiskLimitsConfig struct {
	DailyLossLimit         float64 `yaml:"daily_loss_limit"`
	MaxTradesPerDay        int     `yaml:"max_trades_per_day"`
	MaxPositionSize        float64 `yaml:"max_position_size"`
	MaxConcurrentPositions int     `yaml:"max_concurrent_positions"`
	DrawdownThreshold      float64 `yaml:"drawdown_threshold"`
}

// RecoveryConfig holds snapshot and crash-recovery settings.
type RecoveryConfig struct {
	SnapshotIntervalSeconds int `yaml:"snapshot_interval_seconds"`
	MaxSnapshots            int `yaml:"max_snapshots"`
	RecoveryTimeoutSeconds  int `yaml:"recovery_timeout_seconds"`
}

// LogConfig holds the configuration for logging.
type LogConfig struct {
	LogLevel   string `yaml:"log_level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// StorageConfig holds the directories used for persisted state.
// Risk state lives under <data_directory>/safety, snapshots and session
// bookkeeping under <data_directory>/recovery.
type StorageConfig struct {
	DataDirectory string `yaml:"data_directory"`
	LogDirectory  string `yaml:"log_directory"`
}

// Config is the top-level configuration structure.
type Config struct {
	SessionStartBalance float64           `yaml:"session_start_balance"`
	RiskLimits          *RiskLimitsConfig `yaml:"risk_limits"`
	Recovery            *RecoveryConfig   `yaml:"recovery"`
	Storage             *StorageConfig    `yaml:"storage"`
	Logs                *LogConfig        `yaml:"logs"`
}

// NewConfig returns a Config with the documented default limits. Every
// default can be overridden from the YAML file; Validate keeps overrides
// inside sane ranges.
func NewConfig() *Config {
	return &Config{
		SessionStartBalance: 10000.0,
		RiskLimits: &RiskLimitsConfig{
			DailyLossLimit:         300.0,
			MaxTradesPerDay:        100,
			MaxPositionSize:        1000.0,
			MaxConcurrentPositions: 5,
			DrawdownThreshold:      0.10,
		},
		Recovery: &RecoveryConfig{
			SnapshotIntervalSeconds: 60,
			MaxSnapshots:            24,
			RecoveryTimeoutSeconds:  300,
		},
		Storage: &StorageConfig{
			DataDirectory: "data",
			LogDirectory:  "logs",
		},
		Logs: &LogConfig{
			LogLevel:   "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   false,
		},
	}
}

// LoadConfig loads configuration from a given path, applies defaults for
// anything the file leaves out, and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found at %s", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault behaves like LoadConfig but falls back to the built-in
// defaults when the file does not exist. Used by the CLI, which must keep
// working on a fresh checkout without a config file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return NewConfig(), nil
	}
	return LoadConfig(path)
}

// Validate checks the logical consistency of the entire configuration.
func (c *Config) Validate() error {
	if c.SessionStartBalance <= 0 {
		return fmt.Errorf("config error: 'session_start_balance' must be positive")
	}

	if c.RiskLimits == nil {
		return fmt.Errorf("critical config missing: 'risk_limits' block must be provided")
	}
	if c.RiskLimits.DailyLossLimit <= 0 {
		return fmt.Errorf("config error: 'risk_limits.daily_loss_limit' must be positive")
	}
	if c.RiskLimits.MaxTradesPerDay <= 0 {
		return fmt.Errorf("config error: 'risk_limits.max_trades_per_day' must be positive")
	}
	if c.RiskLimits.MaxPositionSize <= 0 {
		return fmt.Errorf("config error: 'risk_limits.max_position_size' must be positive")
	}
	if c.RiskLimits.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("config error: 'risk_limits.max_concurrent_positions' must be positive")
	}
	if c.RiskLimits.DrawdownThreshold <= 0 || c.RiskLimits.DrawdownThreshold >= 1 {
		return fmt.Errorf("config error: 'risk_limits.drawdown_threshold' must be a fraction between 0 and 1")
	}

	if c.Recovery == nil {
		return fmt.Errorf("critical config missing: 'recovery' block must be provided")
	}
	if c.Recovery.SnapshotIntervalSeconds <= 0 {
		return fmt.Errorf("config error: 'recovery.snapshot_interval_seconds' must be positive")
	}
	if c.Recovery.MaxSnapshots <= 0 {
		return fmt.Errorf("config error: 'recovery.max_snapshots' must be positive")
	}
	if c.Recovery.RecoveryTimeoutSeconds <= 0 {
		return fmt.Errorf("config error: 'recovery.recovery_timeout_seconds' must be positive")
	}

	if c.Storage == nil || c.Storage.DataDirectory == "" {
		return fmt.Errorf("critical config missing: 'storage.data_directory' must be specified")
	}
	if c.Storage.LogDirectory == "" {
		return fmt.Errorf("critical config missing: 'storage.log_directory' must be specified")
	}

	if c.Logs == nil {
		return fmt.Errorf("critical config missing: 'logs' configuration block must be provided")
	}
	if c.Logs.LogLevel == "" {
		return fmt.Errorf("critical config missing: 'logs.log_level' must be specified (e.g., 'info', 'debug', 'warn', 'error')")
	}
	if c.Logs.MaxSizeMB <= 0 {
		return fmt.Errorf("config error: 'logs.max_size_mb' must be positive")
	}
	if c.Logs.MaxBackups <= 0 {
		return fmt.Errorf("config error: 'logs.max_backups' must be positive")
	}
	if c.Logs.MaxAgeDays <= 0 {
		return fmt.Errorf("config error: 'logs.max_age_days' must be positive")
	}

	return nil
}

// EnvConfig carries secrets sourced from the environment, never from the
// YAML file. The halt-reset authorization code is deliberately not a config
// field so it cannot end up committed alongside the limits.
type EnvConfig struct {
	ResetCode string
	DataDir   string
}

func LoadEnvConfig() *EnvConfig {
	return &EnvConfig{
		ResetCode: os.Getenv("TRADEGUARD_RESET_CODE"),
		DataDir:   os.Getenv("TRADEGUARD_DATA_DIR"),
	}
}
