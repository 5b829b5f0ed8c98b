package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var riskCmd = &cobra.Command{
	Use:   "risk",
	Short: "Inspect risk status and manage the auto-halt",
}

var riskStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print current risk status and warnings",
	Args:  cobra.NoArgs,
	RunE:  runRiskStatus,
}

var riskResetHaltCmd = &cobra.Command{
	Use:   "reset_halt <auth_code>",
	Short: "Clear a tripped auto-halt with the authorization code",
	Args:  cobra.ExactArgs(1),
	RunE:  runRiskResetHalt,
}

func init() {
	rootCmd.AddCommand(riskCmd)
	riskCmd.AddCommand(riskStatusCmd)
	riskCmd.AddCommand(riskResetHaltCmd)
}

func runRiskStatus(cmd *cobra.Command, args []string) error {
	limiter, err := buildLimiter()
	if err != nil {
		return err
	}

	status := limiter.GetRiskStatus()
	warnings := limiter.GetRiskWarnings()

	fmt.Println("\nRISK GUARD STATUS")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("Risk Guard Active: %s\n", yesNo(status.GuardActive))
	fmt.Printf("Auto-Halt Triggered: %s\n", yesNo(status.AutoHaltTriggered))
	fmt.Printf("Daily P&L: %.2f\n", status.DailyPNL)
	fmt.Printf("Daily Trades: %d/%d\n", status.DailyTrades, status.MaxTradesPerDay)
	fmt.Printf("Current Balance: %.2f\n", status.CurrentBalance)
	fmt.Printf("Loss Limit Remaining: %.2f\n", status.LossLimitRemaining)
	fmt.Printf("Current Drawdown: %.1f%%\n", status.CurrentDrawdownPct)
	fmt.Printf("Active Positions: %d/%d\n", status.ActivePositions, status.MaxConcurrentPositions)

	if len(warnings) > 0 {
		fmt.Println("\nRISK WARNINGS:")
		for _, w := range warnings {
			fmt.Printf("  %s: %s\n", w.Severity, w.Message)
		}
	}
	fmt.Println(strings.Repeat("=", 50))
	return nil
}

func runRiskResetHalt(cmd *cobra.Command, args []string) error {
	limiter, err := buildLimiter()
	if err != nil {
		return err
	}

	if !limiter.ResetAutoHalt(args[0]) {
		return fmt.Errorf("failed to reset auto-halt: authorization denied")
	}
	fmt.Println("Auto-halt reset successfully")
	return nil
}

func yesNo(b bool) string {
	if b {
		return "YES"
	}
	return "NO"
}
