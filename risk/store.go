// risk/store.go
package risk

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"tradeguard/fault"
)

// Store persists the daily risk state and the append-only violation log.
// The state file is overwritten atomically on every mutation; violations are
// one JSON object per line.
type Store struct {
	mu             sync.Mutex
	statePath      string
	violationsPath string
}

// NewStore creates the safety and log directories and returns a store
// writing to <dataDir>/safety/risk_state.json and
// <logDir>/risk_violations.log.
func NewStore(dataDir, logDir string) (*Store, error) {
	safetyDir := filepath.Join(dataDir, "safety")
	if err := os.MkdirAll(safetyDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create safety directory: %w", err)
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &Store{
		statePath:      filepath.Join(safetyDir, "risk_state.json"),
		violationsPath: filepath.Join(logDir, "risk_violations.log"),
	}, nil
}

// Save writes the state atomically: marshal, write to a temp file, rename.
// A crash mid-write never leaves a truncated state file behind.
func (s *Store) Save(st *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fault.New(fault.PersistenceFailure, "risk.Store.Save", err)
	}

	tmpPath := s.statePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fault.New(fault.PersistenceFailure, "risk.Store.Save", err)
	}
	if err := os.Rename(tmpPath, s.statePath); err != nil {
		return fault.New(fault.PersistenceFailure, "risk.Store.Save", err)
	}
	return nil
}

// Load reads the persisted daily state. Returns (nil, nil) when no state
// file exists yet; that is a normal cold start, not an error.
func (s *Store) Load() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fault.New(fault.PersistenceFailure, "risk.Store.Load", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	st := &State{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fault.New(fault.PersistenceFailure, "risk.Store.Load", err)
	}
	return st, nil
}

// AppendViolation appends one JSON line describing a halt trigger to the
// violation log.
func (s *Store) AppendViolation(v Violation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(v)
	if err != nil {
		return fault.New(fault.PersistenceFailure, "risk.Store.AppendViolation", err)
	}

	f, err := os.OpenFile(s.violationsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fault.New(fault.PersistenceFailure, "risk.Store.AppendViolation", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fault.New(fault.PersistenceFailure, "risk.Store.AppendViolation", err)
	}
	return nil
}
