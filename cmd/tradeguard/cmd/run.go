package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tradeguard/supervisor"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the safety control plane until interrupted",
	Long: `Starts the supervisor: restores state from the latest snapshot on a cold
start, takes scheduled snapshots, and writes an emergency snapshot on
SIGINT/SIGTERM before exiting.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	sup, err := supervisor.Build(cfg, envCfg)
	if err != nil {
		return fmt.Errorf("build supervisor: %w", err)
	}

	ctx := context.Background()
	sup.Run(ctx)
	fmt.Println("Safety control plane running, press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	sup.Stop()
	return nil
}
