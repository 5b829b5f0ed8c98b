// recovery/coordinator.go
package recovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"tradeguard/config"
	"tradeguard/fault"
	"tradeguard/logs"

	"github.com/oklog/ulid/v2"
)

// Coordinator orchestrates snapshot creation and crash recovery, and owns
// session lifecycle tracking. Construct one per process with
// NewCoordinator; all file paths derive from the injected data directory.
type Coordinator struct {
	mu       sync.Mutex // guards sessions and lastSnapshotTime
	snapMu   sync.Mutex // serializes snapshot creation
	cfg      config.RecoveryConfig
	registry *Registry
	store    *SnapshotStore

	statePath  string
	reportsDir string

	sessions         map[string]*Session
	lastSnapshotTime time.Time

	now func() time.Time
}

// CoordinatorOption customizes a Coordinator at construction time.
type CoordinatorOption func(*Coordinator)

// WithCoordinatorClock injects a clock for deterministic snapshot ids in
// tests.
func WithCoordinatorClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator builds the recovery subsystem rooted at
// <dataDir>/recovery. Existing session bookkeeping is reloaded and old
// snapshots beyond the retention limit are pruned at startup.
func NewCoordinator(cfg config.RecoveryConfig, dataDir string, opts ...CoordinatorOption) (*Coordinator, error) {
	recoveryDir := filepath.Join(dataDir, "recovery")
	reportsDir := filepath.Join(recoveryDir, "crash_reports")
	for _, dir := range []string{recoveryDir, reportsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create recovery directory: %w", err)
		}
	}

	store, err := NewSnapshotStore(filepath.Join(recoveryDir, "snapshots"), cfg.MaxSnapshots)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:        cfg,
		registry:   NewRegistry(),
		store:      store,
		statePath:  filepath.Join(recoveryDir, "system_state.json"),
		reportsDir: reportsDir,
		sessions:   make(map[string]*Session),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.loadSystemState()
	c.store.prune()

	logs.Infof("Recovery coordinator initialized - %d active sessions, retention %d snapshots",
		len(c.sessions), cfg.MaxSnapshots)
	return c, nil
}

// Registry exposes the component registry so owners can register and push
// state.
func (c *Coordinator) Registry() *Registry { return c.registry }

// RegisterComponent registers a component with its initial state and
// restore setter. The registry captures only pushed values; owners must
// call UpdateState on every change.
func (c *Coordinator) RegisterComponent(name string, initialState interface{}, setter Setter) RegistrationResult {
	return c.registry.Register(name, initialState, setter)
}

// UpdateState pushes a component's current state into the registry.
func (c *Coordinator) UpdateState(name string, state interface{}) error {
	return c.registry.UpdateState(name, state)
}

// SnapshotResult reports the outcome of a snapshot attempt.
type SnapshotResult struct {
	Success    bool   `json:"success"`
	SnapshotID string `json:"snapshot_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CreateSnapshot captures every registered component's pushed state plus
// the session table and persists it. Concurrent calls are serialized; a
// component capture failure is recorded with an error marker, never aborts
// the snapshot.
func (c *Coordinator) CreateSnapshot(reason string) SnapshotResult {
	c.snapMu.Lock()
	defer c.snapMu.Unlock()

	timestamp := c.now()
	id := c.store.uniqueID(timestamp.Format("20060102_150405"))

	c.mu.Lock()
	sessions := cloneSessions(c.sessions)
	c.mu.Unlock()

	snap := &Snapshot{
		Timestamp:  timestamp,
		Reason:     reason,
		Components: c.registry.capture(),
		Sessions:   sessions,
	}

	if err := c.store.Write(id, snap); err != nil {
		logs.Errorf("Error creating snapshot: %v", err)
		return SnapshotResult{Success: false, Error: err.Error()}
	}

	c.mu.Lock()
	c.lastSnapshotTime = timestamp
	for _, sess := range c.sessions {
		t := timestamp
		sess.LastSnapshot = &t
	}
	c.mu.Unlock()

	logs.Infof("Created snapshot: %s (%s)", id, reason)
	return SnapshotResult{Success: true, SnapshotID: id}
}

// CreateEmergencySnapshot is CreateSnapshot invoked from the shutdown path.
// Logged at critical severity; a failure here must never prevent process
// exit.
func (c *Coordinator) CreateEmergencySnapshot(reason string) SnapshotResult {
	logs.Criticalf("Creating emergency snapshot: %s", reason)
	res := c.CreateSnapshot("emergency_" + reason)
	if !res.Success {
		logs.Criticalf("Failed to create emergency snapshot: %s", res.Error)
	}
	return res
}

// RecoverFromCrash restores from the most recent snapshot. With a session
// id, only that session is restored (bumping its recovery count); with an
// empty id, every session in the snapshot is restored. Returns false when
// any component or session restore fails, but restoration proceeds for the
// rest. A recovery report is always written.
func (c *Coordinator) RecoverFromCrash(sessionID string) bool {
	logs.Infof("Starting crash recovery...")

	id, err := c.store.LatestID()
	if err != nil {
		logs.Errorf("No snapshots found for recovery: %v", err)
		return false
	}
	return c.recoverFrom(id, sessionID)
}

// RecoverFromSnapshot restores from an explicitly named snapshot instead of
// the latest one.
func (c *Coordinator) RecoverFromSnapshot(snapshotID string) bool {
	logs.Infof("Recovering from snapshot: %s", snapshotID)
	return c.recoverFrom(snapshotID, "")
}

func (c *Coordinator) recoverFrom(snapshotID, sessionID string) bool {
	snap, err := c.store.Read(snapshotID)
	if err != nil {
		logs.Errorf("Error loading snapshot %s: %v", snapshotID, err)
		return false
	}
	logs.Infof("Loading snapshot from %s", snap.Timestamp.Format(time.RFC3339))

	success := true
	restored := 0
	skipped := 0

	for name, setter := range c.registry.restoreTargets() {
		blob, ok := snap.Components[name]
		if !ok {
			logs.Warnf("No state found in snapshot for component: %s", name)
			skipped++
			continue
		}
		if msg, errored := markerOf(blob); errored {
			logs.Warnf("Skipped component with capture error: %s (%s)", name, msg)
			skipped++
			continue
		}
		if err := setter(blob); err != nil {
			logs.Errorf("Error restoring component %s: %v", name, err)
			success = false
			continue
		}
		restored++
		logs.Infof("Restored component: %s", name)
	}

	sessionsRestored := c.restoreSessions(snap, sessionID, &success)

	c.mu.Lock()
	c.saveSystemStateLocked()
	c.mu.Unlock()

	c.writeRecoveryReport(snapshotID, snap, success, restored, skipped, sessionsRestored)

	if success {
		logs.Infof("Crash recovery completed successfully")
	} else {
		logs.Warnf("Crash recovery completed with errors")
	}
	return success
}

func (c *Coordinator) restoreSessions(snap *Snapshot, sessionID string, success *bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	restored := 0

	if sessionID != "" {
		sess, ok := snap.Sessions[sessionID]
		if !ok {
			logs.Errorf("Session %s not found in snapshot", sessionID)
			*success = false
			return 0
		}
		recovered := sess.clone()
		recovered.RecoveryCount++
		recovered.LastRecovery = &now
		c.sessions[sessionID] = recovered
		logs.Infof("Restored session: %s", sessionID)
		return 1
	}

	for id, sess := range snap.Sessions {
		recovered := sess.clone()
		recovered.RecoveryCount++
		recovered.LastRecovery = &now
		c.sessions[id] = recovered
		restored++
	}
	return restored
}

// StartSession begins tracking a new session. Persisted immediately.
func (c *Coordinator) StartSession(sessionID string, data map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessions[sessionID] = &Session{
		ID:        sessionID,
		StartTime: c.now(),
		Data:      data,
		Status:    SessionActive,
	}
	c.saveSystemStateLocked()

	logs.Infof("Started session tracking: %s", sessionID)
}

// EndSession marks a session completed and removes it from tracking.
func (c *Coordinator) EndSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[sessionID]
	if !ok {
		return
	}
	now := c.now()
	sess.Status = SessionCompleted
	sess.EndTime = &now
	delete(c.sessions, sessionID)
	c.saveSystemStateLocked()

	logs.Infof("Ended session tracking: %s", sessionID)
}

// ActiveSessions returns a copy of the tracked session table.
func (c *Coordinator) ActiveSessions() map[string]*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneSessions(c.sessions)
}

// ListAvailableSnapshots lists snapshots on disk, tolerating missing
// summary metadata.
func (c *Coordinator) ListAvailableSnapshots() []SnapshotInfo {
	infos, err := c.store.List()
	if err != nil {
		logs.Errorf("Error listing snapshots: %v", err)
		return []SnapshotInfo{}
	}
	return infos
}

// GetLatestSnapshot loads the most recent snapshot, or an error of kind
// SnapshotNotFound when none exists.
func (c *Coordinator) GetLatestSnapshot() (*Snapshot, error) {
	id, err := c.store.LatestID()
	if err != nil {
		return nil, err
	}
	return c.store.Read(id)
}

// RecoveryStatus is the read-only projection of the recovery subsystem.
type RecoveryStatus struct {
	Active                  bool       `json:"recovery_system_active"`
	RegisteredComponents    int        `json:"registered_components"`
	ActiveSessions          int        `json:"active_sessions"`
	LastSnapshotTime        *time.Time `json:"last_snapshot_time,omitempty"`
	SnapshotsAvailable      int        `json:"snapshots_available"`
	SnapshotIntervalSeconds int        `json:"snapshot_interval_seconds"`
}

// Status reports the coordinator's current state for display.
func (c *Coordinator) Status() RecoveryStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := RecoveryStatus{
		Active:                  true,
		RegisteredComponents:    c.registry.Count(),
		ActiveSessions:          len(c.sessions),
		SnapshotsAvailable:      c.store.Count(),
		SnapshotIntervalSeconds: c.cfg.SnapshotIntervalSeconds,
	}
	if !c.lastSnapshotTime.IsZero() {
		t := c.lastSnapshotTime
		status.LastSnapshotTime = &t
	}
	return status
}

// systemState is the small bookkeeping file rewritten on every session or
// recovery mutation.
type systemState struct {
	ActiveSessions map[string]*Session `json:"active_sessions"`
	LastUpdated    time.Time           `json:"last_updated"`
	ComponentCount int                 `json:"component_count"`
}

func (c *Coordinator) loadSystemState() {
	data, err := os.ReadFile(c.statePath)
	if err != nil {
		if !os.IsNotExist(err) {
			logs.Errorf("Error loading recovery state: %v", err)
		}
		return
	}

	var st systemState
	if err := json.Unmarshal(data, &st); err != nil {
		logs.Errorf("Error decoding recovery state: %v", err)
		return
	}
	if st.ActiveSessions != nil {
		c.sessions = st.ActiveSessions
	}
	logs.Infof("Loaded recovery state - %d active sessions", len(c.sessions))
}

func (c *Coordinator) saveSystemStateLocked() {
	st := systemState{
		ActiveSessions: c.sessions,
		LastUpdated:    c.now(),
		ComponentCount: c.registry.Count(),
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err == nil {
		err = os.WriteFile(c.statePath, data, 0644)
	}
	if err != nil {
		logs.Errorf("Error saving recovery state: %v", err)
	}
}

// RecoveryReport documents one recovery attempt, written regardless of
// overall success.
type RecoveryReport struct {
	ReportID             string    `json:"report_id"`
	RecoveryTimestamp    time.Time `json:"recovery_timestamp"`
	SnapshotID           string    `json:"snapshot_id"`
	SnapshotTimestamp    time.Time `json:"snapshot_timestamp"`
	SnapshotReason       string    `json:"snapshot_reason"`
	Success              bool      `json:"recovery_success"`
	ComponentsRestored   int       `json:"components_restored"`
	ComponentsSkipped    int       `json:"components_skipped"`
	SessionsRestored     int       `json:"sessions_restored"`
	RegisteredComponents []string  `json:"registered_components"`
}

func (c *Coordinator) writeRecoveryReport(snapshotID string, snap *Snapshot, success bool, restored, skipped, sessions int) {
	report := RecoveryReport{
		ReportID:             ulid.Make().String(),
		RecoveryTimestamp:    c.now(),
		SnapshotID:           snapshotID,
		SnapshotTimestamp:    snap.Timestamp,
		SnapshotReason:       snap.Reason,
		Success:              success,
		ComponentsRestored:   restored,
		ComponentsSkipped:    skipped,
		SessionsRestored:     sessions,
		RegisteredComponents: c.registry.Names(),
	}

	path := filepath.Join(c.reportsDir, fmt.Sprintf("recovery_report_%s.json", report.ReportID))
	data, err := json.MarshalIndent(report, "", "  ")
	if err == nil {
		err = os.WriteFile(path, data, 0644)
	}
	if err != nil {
		logs.Errorf("Error creating recovery report: %v", fault.New(fault.PersistenceFailure, "recovery.writeRecoveryReport", err))
		return
	}
	logs.Infof("Recovery report created: %s", filepath.Base(path))
}
