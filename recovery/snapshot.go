// recovery/snapshot.go
package recovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"tradeguard/fault"
	"tradeguard/logs"
)

// snapshotVersion tags the on-disk encoding. Readers reject versions they
// do not understand instead of guessing at stale layouts.
const snapshotVersion = 1

const (
	snapshotPrefix     = "snapshot_"
	snapshotExt        = ".state"
	snapshotSummaryExt = ".json"
)

// Snapshot is a point-in-time capture of every registered component's
// pushed state plus the active session table. Immutable once written.
type Snapshot struct {
	Version    int                        `json:"version"`
	Timestamp  time.Time                  `json:"timestamp"`
	Reason     string                     `json:"reason"`
	Components map[string]json.RawMessage `json:"components"`
	Sessions   map[string]*Session        `json:"sessions"`
}

// SnapshotSummary is the small companion file written next to each blob so
// listings never have to decode the full snapshot.
type SnapshotSummary struct {
	Timestamp      string `json:"timestamp"`
	Reason         string `json:"reason"`
	SessionCount   int    `json:"session_count"`
	ComponentCount int    `json:"component_count"`
}

// SnapshotInfo is one listing entry.
type SnapshotInfo struct {
	ID             string `json:"id"`
	Filename       string `json:"filename"`
	Filepath       string `json:"filepath"`
	SizeBytes      int64  `json:"size_bytes"`
	Timestamp      string `json:"timestamp"`
	Reason         string `json:"reason"`
	SessionCount   int    `json:"session_count"`
	ComponentCount int    `json:"component_count"`
}

// SnapshotStore persists snapshots to a directory and enforces the
// retention limit after every write.
type SnapshotStore struct {
	dir          string
	maxSnapshots int
}

func NewSnapshotStore(dir string, maxSnapshots int) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshots directory: %w", err)
	}
	return &SnapshotStore{dir: dir, maxSnapshots: maxSnapshots}, nil
}

func (s *SnapshotStore) blobPath(id string) string {
	return filepath.Join(s.dir, snapshotPrefix+id+snapshotExt)
}

func (s *SnapshotStore) summaryPath(id string) string {
	return filepath.Join(s.dir, snapshotPrefix+id+snapshotSummaryExt)
}

// uniqueID appends a numeric suffix when a blob with this id already exists.
// Timestamps have second resolution, so back-to-back snapshots (an emergency
// right after a scheduled one) would otherwise overwrite each other.
func (s *SnapshotStore) uniqueID(id string) string {
	candidate := id
	for n := 2; ; n++ {
		if _, err := os.Stat(s.blobPath(candidate)); os.IsNotExist(err) {
			return candidate
		}
		candidate = fmt.Sprintf("%s_%d", id, n)
	}
}

// Write persists the snapshot blob and its summary, then prunes entries
// beyond the retention limit (oldest first, both files per entry).
func (s *SnapshotStore) Write(id string, snap *Snapshot) error {
	snap.Version = snapshotVersion

	blob, err := json.Marshal(snap)
	if err != nil {
		return fault.New(fault.PersistenceFailure, "recovery.SnapshotStore.Write", err)
	}
	if err := os.WriteFile(s.blobPath(id), blob, 0644); err != nil {
		return fault.New(fault.PersistenceFailure, "recovery.SnapshotStore.Write", err)
	}

	summary := SnapshotSummary{
		Timestamp:      snap.Timestamp.Format(time.RFC3339),
		Reason:         snap.Reason,
		SessionCount:   len(snap.Sessions),
		ComponentCount: len(snap.Components),
	}
	summaryData, err := json.MarshalIndent(summary, "", "  ")
	if err == nil {
		err = os.WriteFile(s.summaryPath(id), summaryData, 0644)
	}
	if err != nil {
		// The blob is the source of truth; a missing summary only degrades
		// listings, which fall back to "unknown" fields.
		logs.Errorf("Failed to write snapshot summary for %s: %v", id, err)
	}

	s.prune()
	return nil
}

// Read loads and validates one snapshot by id.
func (s *SnapshotStore) Read(id string) (*Snapshot, error) {
	data, err := os.ReadFile(s.blobPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fault.New(fault.SnapshotNotFound, "recovery.SnapshotStore.Read", fmt.Errorf("snapshot %s", id))
		}
		return nil, fault.New(fault.PersistenceFailure, "recovery.SnapshotStore.Read", err)
	}
	return decodeSnapshot(data)
}

func decodeSnapshot(data []byte) (*Snapshot, error) {
	snap := &Snapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fault.New(fault.CorruptSnapshot, "recovery.decodeSnapshot", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fault.New(fault.CorruptSnapshot, "recovery.decodeSnapshot",
			fmt.Errorf("unsupported snapshot version %d", snap.Version))
	}
	if snap.Components == nil {
		snap.Components = map[string]json.RawMessage{}
	}
	if snap.Sessions == nil {
		snap.Sessions = map[string]*Session{}
	}
	return snap, nil
}

// LatestID returns the id of the most recent snapshot by file modification
// time, or SnapshotNotFound when the directory holds none.
func (s *SnapshotStore) LatestID() (string, error) {
	entries, err := s.blobFiles()
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", fault.New(fault.SnapshotNotFound, "recovery.SnapshotStore.LatestID", fmt.Errorf("no snapshots in %s", s.dir))
	}

	latest := entries[0]
	latestInfo, err := os.Stat(latest)
	if err != nil {
		return "", fault.New(fault.PersistenceFailure, "recovery.SnapshotStore.LatestID", err)
	}
	for _, path := range entries[1:] {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().After(latestInfo.ModTime()) {
			latest = path
			latestInfo = info
		}
	}
	return idFromPath(latest), nil
}

// List returns one entry per snapshot on disk, oldest first. A missing or
// unreadable summary degrades to "unknown" metadata rather than an error.
func (s *SnapshotStore) List() ([]SnapshotInfo, error) {
	paths, err := s.blobFiles()
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	infos := make([]SnapshotInfo, 0, len(paths))
	for _, path := range paths {
		id := idFromPath(path)

		summary := SnapshotSummary{Timestamp: "unknown", Reason: "unknown"}
		if data, err := os.ReadFile(s.summaryPath(id)); err == nil {
			if err := json.Unmarshal(data, &summary); err != nil {
				summary = SnapshotSummary{Timestamp: "unknown", Reason: "unknown"}
			}
		}

		var size int64
		if st, err := os.Stat(path); err == nil {
			size = st.Size()
		}

		infos = append(infos, SnapshotInfo{
			ID:             id,
			Filename:       filepath.Base(path),
			Filepath:       path,
			SizeBytes:      size,
			Timestamp:      summary.Timestamp,
			Reason:         summary.Reason,
			SessionCount:   summary.SessionCount,
			ComponentCount: summary.ComponentCount,
		})
	}
	return infos, nil
}

// Count returns the number of snapshot blobs on disk.
func (s *SnapshotStore) Count() int {
	paths, err := s.blobFiles()
	if err != nil {
		return 0
	}
	return len(paths)
}

// prune removes the oldest snapshots beyond the retention limit, deleting
// the summary alongside each blob.
func (s *SnapshotStore) prune() {
	paths, err := s.blobFiles()
	if err != nil {
		logs.Errorf("Failed to list snapshots for pruning: %v", err)
		return
	}
	if len(paths) <= s.maxSnapshots {
		return
	}

	type entry struct {
		path string
		mod  time.Time
	}
	entries := make([]entry, 0, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		entries = append(entries, entry{path: path, mod: info.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].mod.Equal(entries[j].mod) {
			return entries[i].path < entries[j].path
		}
		return entries[i].mod.Before(entries[j].mod)
	})

	excess := len(entries) - s.maxSnapshots
	for _, e := range entries[:excess] {
		id := idFromPath(e.path)
		if err := os.Remove(e.path); err != nil {
			logs.Errorf("Failed to remove old snapshot %s: %v", e.path, err)
			continue
		}
		if err := os.Remove(s.summaryPath(id)); err != nil && !os.IsNotExist(err) {
			logs.Errorf("Failed to remove snapshot summary for %s: %v", id, err)
		}
		logs.Debugf("Removed old snapshot: %s", filepath.Base(e.path))
	}
}

func (s *SnapshotStore) blobFiles() ([]string, error) {
	pattern := filepath.Join(s.dir, snapshotPrefix+"*"+snapshotExt)
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fault.New(fault.PersistenceFailure, "recovery.SnapshotStore.blobFiles", err)
	}
	return paths, nil
}

func idFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimPrefix(base, snapshotPrefix)
	return strings.TrimSuffix(base, snapshotExt)
}
