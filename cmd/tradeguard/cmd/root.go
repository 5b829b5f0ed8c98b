package cmd

import (
	"fmt"
	"path/filepath"

	"tradeguard/config"
	"tradeguard/logs"
	"tradeguard/recovery"
	"tradeguard/risk"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgPath string

	cfg    *config.Config
	envCfg *config.EnvConfig
)

var rootCmd = &cobra.Command{
	Use:   "tradeguard",
	Short: "Trading safety and crash-recovery control plane",
	Long: `Tradeguard enforces hard risk limits on an automated trading engine and
persists component state across crashes.

Command groups:
  risk      - inspect risk status and reset a tripped auto-halt
  recovery  - snapshots, session recovery and recovery status`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initRuntime)
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to the config.yaml file")
}

func initRuntime() {
	// Missing .env is fine; system environment variables still apply.
	_ = godotenv.Load()

	var err error
	cfg, err = config.LoadOrDefault(cfgPath)
	if err != nil {
		fmt.Printf("Fatal error: unable to load config file '%s': %v\n", cfgPath, err)
		cfg = config.NewConfig()
	}
	envCfg = config.LoadEnvConfig()

	logFile := filepath.Join(cfg.Storage.LogDirectory, "tradeguard.log")
	if err := logs.Init(cfg.Logs, logFile); err != nil {
		fmt.Printf("Warning: failed to initialize logging system: %v\n", err)
	}
}

func dataDir() string {
	if envCfg.DataDir != "" {
		return envCfg.DataDir
	}
	return cfg.Storage.DataDirectory
}

func buildLimiter() (*risk.Limiter, error) {
	store, err := risk.NewStore(dataDir(), cfg.Storage.LogDirectory)
	if err != nil {
		return nil, fmt.Errorf("open risk store: %w", err)
	}
	return risk.NewLimiter(*cfg.RiskLimits, store, envCfg.ResetCode, cfg.SessionStartBalance), nil
}

func buildCoordinator() (*recovery.Coordinator, error) {
	coordinator, err := recovery.NewCoordinator(*cfg.Recovery, dataDir())
	if err != nil {
		return nil, fmt.Errorf("open recovery coordinator: %w", err)
	}
	return coordinator, nil
}
