package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var recoveryCmd = &cobra.Command{
	Use:   "recovery",
	Short: "Snapshot and crash-recovery operations",
}

var recoveryStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print recovery system status",
	Args:  cobra.NoArgs,
	RunE:  runRecoveryStatus,
}

var recoverySnapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List available snapshots",
	Args:  cobra.NoArgs,
	RunE:  runRecoverySnapshots,
}

var recoveryCreateSnapshotCmd = &cobra.Command{
	Use:   "create_snapshot [reason]",
	Short: "Create a manual snapshot",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRecoveryCreateSnapshot,
}

var recoveryRecoverCmd = &cobra.Command{
	Use:   "recover [session_id]",
	Short: "Recover from the latest snapshot",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRecoveryRecover,
}

func init() {
	rootCmd.AddCommand(recoveryCmd)
	recoveryCmd.AddCommand(recoveryStatusCmd)
	recoveryCmd.AddCommand(recoverySnapshotsCmd)
	recoveryCmd.AddCommand(recoveryCreateSnapshotCmd)
	recoveryCmd.AddCommand(recoveryRecoverCmd)
}

func runRecoveryStatus(cmd *cobra.Command, args []string) error {
	coordinator, err := buildCoordinator()
	if err != nil {
		return err
	}

	status := coordinator.Status()

	fmt.Println("\nRECOVERY SYSTEM STATUS")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("System Active: %s\n", yesNo(status.Active))
	fmt.Printf("Registered Components: %d\n", status.RegisteredComponents)
	fmt.Printf("Active Sessions: %d\n", status.ActiveSessions)
	if status.LastSnapshotTime != nil {
		fmt.Printf("Last Snapshot: %s\n", status.LastSnapshotTime.Format("2006-01-02 15:04:05"))
	} else {
		fmt.Println("Last Snapshot: Never")
	}
	fmt.Printf("Available Snapshots: %d\n", status.SnapshotsAvailable)
	fmt.Printf("Snapshot Interval: %ds\n", status.SnapshotIntervalSeconds)
	fmt.Println(strings.Repeat("=", 50))
	return nil
}

func runRecoverySnapshots(cmd *cobra.Command, args []string) error {
	coordinator, err := buildCoordinator()
	if err != nil {
		return err
	}

	snapshots := coordinator.ListAvailableSnapshots()

	fmt.Println("\nAVAILABLE SNAPSHOTS")
	fmt.Println(strings.Repeat("=", 70))
	if len(snapshots) == 0 {
		fmt.Println("No snapshots available")
	}
	for _, snap := range snapshots {
		fmt.Printf("[%s] %s\n", snap.Timestamp, snap.Filename)
		fmt.Printf("  Reason: %s\n", snap.Reason)
		fmt.Printf("  Size: %d bytes\n", snap.SizeBytes)
		fmt.Printf("  Components: %d, Sessions: %d\n", snap.ComponentCount, snap.SessionCount)
		fmt.Println()
	}
	fmt.Println(strings.Repeat("=", 70))
	return nil
}

func runRecoveryCreateSnapshot(cmd *cobra.Command, args []string) error {
	coordinator, err := buildCoordinator()
	if err != nil {
		return err
	}

	reason := "Manual CLI snapshot"
	if len(args) > 0 {
		reason = args[0]
	}

	res := coordinator.CreateSnapshot(reason)
	if !res.Success {
		return fmt.Errorf("failed to create snapshot: %s", res.Error)
	}
	fmt.Printf("Snapshot created successfully: %s\n", res.SnapshotID)
	return nil
}

func runRecoveryRecover(cmd *cobra.Command, args []string) error {
	coordinator, err := buildCoordinator()
	if err != nil {
		return err
	}

	sessionID := ""
	if len(args) > 0 {
		sessionID = args[0]
	}

	fmt.Println("Starting crash recovery...")
	if !coordinator.RecoverFromCrash(sessionID) {
		return fmt.Errorf("recovery failed")
	}
	fmt.Println("Recovery completed successfully")
	return nil
}
