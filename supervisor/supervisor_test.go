package supervisor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"tradeguard/config"
	"tradeguard/recovery"
	"tradeguard/risk"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(dataDir string) *config.Config {
	cfg := config.NewConfig()
	cfg.Storage.DataDirectory = dataDir
	cfg.Storage.LogDirectory = dataDir + "/logs"
	return cfg
}

func buildTestSupervisor(t *testing.T, dataDir string, opts ...SupervisorOption) *Supervisor {
	t.Helper()

	cfg := testConfig(dataDir)
	env := &config.EnvConfig{ResetCode: "RESET-OK"}
	sup, err := Build(cfg, env, opts...)
	require.NoError(t, err)
	return sup
}

func TestBuildRegistersRiskComponent(t *testing.T) {
	sup := buildTestSupervisor(t, t.TempDir())

	assert.Equal(t, []string{RiskComponentName}, sup.Coordinator().Registry().Names())
}

func TestRiskStateFlowsIntoSnapshots(t *testing.T) {
	sup := buildTestSupervisor(t, t.TempDir())

	sup.Limiter().RecordTradeResult(risk.TradeResult{
		TradeID: "t1", Symbol: "BTCUSDT", Action: risk.ActionClose, PNL: -120,
	})

	res := sup.Coordinator().CreateSnapshot("checkpoint")
	require.True(t, res.Success)

	snap, err := sup.Coordinator().GetLatestSnapshot()
	require.NoError(t, err)
	require.Contains(t, snap.Components, RiskComponentName)

	var st risk.State
	require.NoError(t, json.Unmarshal(snap.Components[RiskComponentName], &st))
	assert.InDelta(t, -120.0, st.DailyPNL, 1e-9)
	assert.Equal(t, 1, st.DailyTrades)
}

func TestSnapshotAfterRecoveryCarriesRestoredState(t *testing.T) {
	sup := buildTestSupervisor(t, t.TempDir(), WithCrashRecovery(false))

	sup.Limiter().RecordTradeResult(risk.TradeResult{
		TradeID: "t1", Action: risk.ActionClose, PNL: -120,
	})
	checkpoint := sup.Coordinator().CreateSnapshot("checkpoint")
	require.True(t, checkpoint.Success)

	sup.Limiter().RecordTradeResult(risk.TradeResult{
		TradeID: "t2", Action: risk.ActionClose, PNL: -80,
	})
	require.True(t, sup.Coordinator().RecoverFromSnapshot(checkpoint.SnapshotID))
	require.InDelta(t, -120.0, sup.Limiter().GetRiskStatus().DailyPNL, 1e-9)

	// A snapshot taken after the rollback must carry the rolled-back state,
	// not resurrect the undone one.
	after := sup.Coordinator().CreateSnapshot("after_recovery")
	require.True(t, after.Success)
	require.NotEqual(t, checkpoint.SnapshotID, after.SnapshotID)

	snap, err := sup.Coordinator().GetLatestSnapshot()
	require.NoError(t, err)
	require.Equal(t, "after_recovery", snap.Reason)

	var st risk.State
	require.NoError(t, json.Unmarshal(snap.Components[RiskComponentName], &st))
	assert.InDelta(t, -120.0, st.DailyPNL, 1e-9)
	assert.Equal(t, 1, st.DailyTrades)
}

func TestColdStartRestoresRiskState(t *testing.T) {
	dataDir := t.TempDir()

	first := buildTestSupervisor(t, dataDir)
	first.Limiter().RecordTradeResult(risk.TradeResult{
		TradeID: "t1", Action: risk.ActionClose, PNL: -120,
	})
	require.True(t, first.Coordinator().CreateSnapshot("checkpoint").Success)

	// A fresh process with an empty risk store must pick the counters back
	// up from the snapshot.
	freshData := t.TempDir()
	cfg := testConfig(freshData)
	coordinator, err := recovery.NewCoordinator(*cfg.Recovery, dataDir)
	require.NoError(t, err)
	store, err := risk.NewStore(freshData, cfg.Storage.LogDirectory)
	require.NoError(t, err)
	limiter := risk.NewLimiter(*cfg.RiskLimits, store, "RESET-OK", cfg.SessionStartBalance)

	sup := New(cfg, limiter, coordinator)
	sup.Run(context.Background())
	defer sup.Stop()

	status := limiter.GetRiskStatus()
	assert.Equal(t, 1, status.DailyTrades)
	assert.InDelta(t, -120.0, status.DailyPNL, 1e-9)
}

func TestColdStartWithoutSnapshots(t *testing.T) {
	sup := buildTestSupervisor(t, t.TempDir())

	sup.Run(context.Background())
	defer sup.Stop()

	status := sup.Limiter().GetRiskStatus()
	assert.Zero(t, status.DailyTrades)
	assert.Equal(t, StateNormal, sup.State())
}

func TestStopWritesEmergencySnapshot(t *testing.T) {
	sup := buildTestSupervisor(t, t.TempDir(), WithCrashRecovery(false))

	sup.Run(context.Background())
	sup.Limiter().RecordTradeResult(risk.TradeResult{
		TradeID: "t1", Action: risk.ActionClose, PNL: 25,
	})
	sup.Stop()

	snap, err := sup.Coordinator().GetLatestSnapshot()
	require.NoError(t, err)
	assert.Equal(t, "emergency_shutdown", snap.Reason)

	var st risk.State
	require.NoError(t, json.Unmarshal(snap.Components[RiskComponentName], &st))
	assert.InDelta(t, 25.0, st.DailyPNL, 1e-9)
}

func TestRunTracksSessionUntilStop(t *testing.T) {
	sup := buildTestSupervisor(t, t.TempDir(), WithCrashRecovery(false))

	sup.Run(context.Background())
	require.NotEmpty(t, sup.SessionID())

	sessions := sup.Coordinator().ActiveSessions()
	require.Contains(t, sessions, sup.SessionID())
	assert.Equal(t, "supervisor_run", sessions[sup.SessionID()].Data["kind"])

	sup.Stop()
	assert.Empty(t, sup.Coordinator().ActiveSessions())
}

func TestStopIsIdempotent(t *testing.T) {
	sup := buildTestSupervisor(t, t.TempDir(), WithCrashRecovery(false))

	sup.Run(context.Background())
	sup.Stop()
	assert.NotPanics(t, func() { sup.Stop() })
}

func TestExitTimeoutDerivedFromConfig(t *testing.T) {
	cfg := config.NewConfig()

	cfg.Recovery.RecoveryTimeoutSeconds = 5
	assert.Equal(t, 5*time.Second, exitTimeoutFor(cfg))

	cfg.Recovery.RecoveryTimeoutSeconds = 300
	assert.Equal(t, maxExitTimeout, exitTimeoutFor(cfg))
}

func TestRestoredHaltSurvivesRestart(t *testing.T) {
	dataDir := t.TempDir()

	first := buildTestSupervisor(t, dataDir, WithCrashRecovery(false))
	first.Limiter().RecordTradeResult(risk.TradeResult{
		TradeID: "t1", Action: risk.ActionClose, PNL: -400,
	})
	require.True(t, first.Limiter().GetRiskStatus().AutoHaltTriggered)
	require.True(t, first.Coordinator().CreateSnapshot("checkpoint").Success)

	freshData := t.TempDir()
	cfg := testConfig(freshData)
	coordinator, err := recovery.NewCoordinator(*cfg.Recovery, dataDir)
	require.NoError(t, err)
	store, err := risk.NewStore(freshData, cfg.Storage.LogDirectory)
	require.NoError(t, err)
	limiter := risk.NewLimiter(*cfg.RiskLimits, store, "RESET-OK", cfg.SessionStartBalance)

	sup := New(cfg, limiter, coordinator)
	sup.Run(context.Background())
	defer sup.Stop()

	assert.True(t, limiter.GetRiskStatus().AutoHaltTriggered, "the halt is part of the snapshot, not cleared by restart")
	dec := limiter.ValidateTrade(risk.TradeRequest{TradeID: "t2", Symbol: "BTCUSDT", PositionSize: 10})
	assert.False(t, dec.Approved)
}
