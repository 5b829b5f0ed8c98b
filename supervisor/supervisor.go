// supervisor/supervisor.go
package supervisor

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"tradeguard/config"
	"tradeguard/fault"
	"tradeguard/logs"
	"tradeguard/recovery"
	"tradeguard/risk"

	"github.com/google/uuid"
)

// RiskComponentName is the registry key under which the risk limiter's
// state participates in snapshots.
const RiskComponentName = "risk_limiter"

// Lifecycle states, for display only.
const (
	StateNormal int32 = iota
	StateSnapshotting
	StateRestoring
)

// Supervisor wires the risk limiter and the recovery coordinator together:
// it pushes risk state into the registry on every change, takes scheduled
// snapshots on a timer, and turns termination signals into a bounded
// emergency snapshot before exit.
//
// The signal handler itself only forwards to the supervising goroutine; the
// snapshot write happens there, under a hard timeout after which shutdown
// proceeds regardless.
type Supervisor struct {
	cfg         *config.Config
	limiter     *risk.Limiter
	coordinator *recovery.Coordinator

	cancel context.CancelFunc
	wg     sync.WaitGroup

	state             atomic.Int32
	shutdownRequested atomic.Bool
	stopOnce          sync.Once
	sessionID         string

	recoverOnStart bool
	exitTimeout    time.Duration
}

// SupervisorOption customizes a Supervisor.
type SupervisorOption func(*Supervisor)

// WithCrashRecovery controls whether Run attempts a restore from the latest
// snapshot on a cold start. Enabled by default.
func WithCrashRecovery(enabled bool) SupervisorOption {
	return func(s *Supervisor) { s.recoverOnStart = enabled }
}

// WithExitTimeout bounds how long the emergency snapshot may delay process
// exit.
func WithExitTimeout(d time.Duration) SupervisorOption {
	return func(s *Supervisor) { s.exitTimeout = d }
}

// Build constructs the full safety subsystem from configuration: store,
// limiter, coordinator and the supervisor wiring them. The limiter is
// registered as a recovery component and its state is pushed to the
// registry after every mutation.
func Build(cfg *config.Config, env *config.EnvConfig, opts ...SupervisorOption) (*Supervisor, error) {
	dataDir := cfg.Storage.DataDirectory
	if env.DataDir != "" {
		dataDir = env.DataDir
	}

	coordinator, err := recovery.NewCoordinator(*cfg.Recovery, dataDir)
	if err != nil {
		return nil, err
	}

	store, err := risk.NewStore(dataDir, cfg.Storage.LogDirectory)
	if err != nil {
		return nil, err
	}

	limiter := risk.NewLimiter(*cfg.RiskLimits, store, env.ResetCode, cfg.SessionStartBalance,
		risk.WithOnChange(func(st risk.State) {
			if err := coordinator.UpdateState(RiskComponentName, st); err != nil {
				logs.Errorf("Failed to push risk state to recovery registry: %v", err)
			}
		}),
	)

	return New(cfg, limiter, coordinator, opts...), nil
}

// maxExitTimeout caps how long the emergency snapshot may hold up process
// exit, regardless of the configured recovery timeout.
const maxExitTimeout = 30 * time.Second

// New wires an existing limiter and coordinator. Used directly by tests
// that construct the pieces with injected clocks and paths.
func New(cfg *config.Config, limiter *risk.Limiter, coordinator *recovery.Coordinator, opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		cfg:            cfg,
		limiter:        limiter,
		coordinator:    coordinator,
		recoverOnStart: true,
		exitTimeout:    exitTimeoutFor(cfg),
	}
	for _, opt := range opts {
		opt(s)
	}

	coordinator.RegisterComponent(RiskComponentName, limiter.GetState(), func(blob json.RawMessage) error {
		var st risk.State
		if err := json.Unmarshal(blob, &st); err != nil {
			return err
		}
		limiter.Restore(st)
		return nil
	})

	return s
}

func exitTimeoutFor(cfg *config.Config) time.Duration {
	d := maxExitTimeout
	if cfg.Recovery != nil && cfg.Recovery.RecoveryTimeoutSeconds > 0 {
		if configured := time.Duration(cfg.Recovery.RecoveryTimeoutSeconds) * time.Second; configured < d {
			d = configured
		}
	}
	return d
}

// Limiter returns the wired risk limiter.
func (s *Supervisor) Limiter() *risk.Limiter { return s.limiter }

// Coordinator returns the wired recovery coordinator.
func (s *Supervisor) Coordinator() *recovery.Coordinator { return s.coordinator }

// ShutdownRequested reports whether a termination signal has been observed.
func (s *Supervisor) ShutdownRequested() bool { return s.shutdownRequested.Load() }

// SessionID returns the id of the session tracking this supervisor run.
func (s *Supervisor) SessionID() string { return s.sessionID }

// State returns the current lifecycle state.
func (s *Supervisor) State() int32 { return s.state.Load() }

// Run starts the supervising loop: cold-start restore, scheduled snapshots
// and signal handling. It returns immediately; use Stop for a graceful
// shutdown.
func (s *Supervisor) Run(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	if s.recoverOnStart {
		s.restoreOnColdStart()
	}

	s.sessionID = uuid.NewString()
	s.coordinator.StartSession(s.sessionID, map[string]interface{}{
		"kind": "supervisor_run",
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	s.wg.Add(1)
	go s.loop(ctx, sigCh)

	logs.Infof("Supervisor started - snapshot interval %ds", s.cfg.Recovery.SnapshotIntervalSeconds)
}

func (s *Supervisor) restoreOnColdStart() {
	_, err := s.coordinator.GetLatestSnapshot()
	switch {
	case err == nil:
		s.state.Store(StateRestoring)
		logs.Infof("Cold start: snapshot found, restoring previous state")
		s.coordinator.RecoverFromCrash("")
		s.state.Store(StateNormal)
	case fault.Is(err, fault.SnapshotNotFound):
		logs.Infof("Cold start: no snapshot found, continuing with defaults")
	default:
		logs.Errorf("Cold start: failed to inspect latest snapshot: %v", err)
	}
}

func (s *Supervisor) loop(ctx context.Context, sigCh chan os.Signal) {
	defer s.wg.Done()
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(time.Duration(s.cfg.Recovery.SnapshotIntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.snapshot("scheduled")
		case sig := <-sigCh:
			s.shutdownRequested.Store(true)
			logs.Warnf("Received signal %v - taking emergency snapshot before exit", sig)
			s.emergencySnapshot("signal_shutdown")
			s.cancel()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) snapshot(reason string) {
	s.state.Store(StateSnapshotting)
	defer s.state.Store(StateNormal)

	if res := s.coordinator.CreateSnapshot(reason); !res.Success {
		logs.Errorf("Scheduled snapshot failed: %s", res.Error)
	}
}

// emergencySnapshot performs the bounded snapshot write on the supervising
// goroutine. The process may be killed right after the handler returns, so
// the write races a hard timeout; on expiry shutdown proceeds anyway.
func (s *Supervisor) emergencySnapshot(reason string) {
	s.state.Store(StateSnapshotting)
	defer s.state.Store(StateNormal)

	done := make(chan recovery.SnapshotResult, 1)
	go func() {
		done <- s.coordinator.CreateEmergencySnapshot(reason)
	}()

	select {
	case res := <-done:
		if !res.Success {
			logs.Criticalf("Emergency snapshot failed: %s", res.Error)
		}
	case <-time.After(s.exitTimeout):
		logs.Criticalf("Emergency snapshot timed out after %s, exiting anyway", s.exitTimeout)
	}
}

// Stop performs a graceful shutdown: final risk state push, emergency
// snapshot, then waits for the supervising loop to exit.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		logs.Infof("Supervisor stopping - saving final state")

		if err := s.coordinator.UpdateState(RiskComponentName, s.limiter.GetState()); err != nil {
			logs.Errorf("Failed to push final risk state: %v", err)
		}
		// A graceful stop completes this run's session; it is deliberately
		// absent from the final snapshot. A signal-triggered emergency
		// snapshot still carries it for crash recovery.
		if s.sessionID != "" {
			s.coordinator.EndSession(s.sessionID)
		}
		s.emergencySnapshot("shutdown")

		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
		logs.Infof("Supervisor stopped")
	})
}
