// recovery/registry.go
package recovery

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"tradeguard/logs"
)

// Setter restores a previously captured state blob into the owning
// component. Owners unmarshal the blob into their own type.
type Setter func(state json.RawMessage) error

// Registration tracks one component participating in snapshotting. The
// stored state is the last value the owner pushed via UpdateState, not a
// live read; CreateSnapshot captures only what has been pushed.
type Registration struct {
	Name         string
	RegisteredAt time.Time

	setter    Setter
	lastState json.RawMessage
	stateErr  string // set when the pushed value could not be encoded
}

// RegistrationResult reports the outcome of RegisterComponent.
type RegistrationResult struct {
	Success       bool      `json:"success"`
	ComponentName string    `json:"component_name"`
	RegisteredAt  time.Time `json:"registered_at"`
	Error         string    `json:"error,omitempty"`
}

// Registry maps component names to their registrations. Safe for concurrent
// use; snapshotting and state pushes may interleave freely.
type Registry struct {
	mu         sync.RWMutex
	components map[string]*Registration
	now        func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		components: make(map[string]*Registration),
		now:        time.Now,
	}
}

// Register adds a component with its initial state and restore setter.
// Registering an existing name replaces the previous registration.
func (r *Registry) Register(name string, initialState interface{}, setter Setter) RegistrationResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg := &Registration{
		Name:         name,
		RegisteredAt: r.now(),
		setter:       setter,
	}

	blob, err := json.Marshal(initialState)
	if err != nil {
		reg.stateErr = err.Error()
		logs.Errorf("Failed to encode initial state for component %s: %v", name, err)
	} else {
		reg.lastState = blob
	}

	r.components[name] = reg
	logs.Infof("Registered component for recovery: %s", name)

	return RegistrationResult{
		Success:       true,
		ComponentName: name,
		RegisteredAt:  reg.RegisteredAt,
	}
}

// UpdateState pushes a component's current state into the registry. Owners
// must call this whenever their live state changes; a snapshot taken before
// the next push captures the previous value.
func (r *Registry) UpdateState(name string, state interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.components[name]
	if !ok {
		return fmt.Errorf("component %s is not registered", name)
	}

	blob, err := json.Marshal(state)
	if err != nil {
		reg.stateErr = err.Error()
		reg.lastState = nil
		return fmt.Errorf("failed to encode state for component %s: %w", name, err)
	}

	reg.lastState = blob
	reg.stateErr = ""
	return nil
}

// Count returns the number of registered components.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.components)
}

// Names returns the registered component names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.components))
	for name := range r.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// errorMarker is how a failed component capture is recorded inside a
// snapshot, so restore can skip it instead of aborting.
type errorMarker struct {
	Error string `json:"error"`
}

// capture collects the last pushed blob of every registration. A component
// whose state could not be encoded is recorded with an error marker and
// will be skipped on restore.
func (r *Registry) capture() map[string]json.RawMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]json.RawMessage, len(r.components))
	for name, reg := range r.components {
		if reg.stateErr != "" || reg.lastState == nil {
			marker, _ := json.Marshal(errorMarker{Error: reg.stateErr})
			out[name] = marker
			logs.Errorf("Capturing component %s with error marker: %s", name, reg.stateErr)
			continue
		}
		blob := make(json.RawMessage, len(reg.lastState))
		copy(blob, reg.lastState)
		out[name] = blob
	}
	return out
}

// restoreTargets returns name -> setter for every registration, for the
// coordinator to drive restoration.
func (r *Registry) restoreTargets() map[string]Setter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Setter, len(r.components))
	for name, reg := range r.components {
		out[name] = reg.setter
	}
	return out
}

// markerOf reports whether blob is an error marker and, if so, its message.
func markerOf(blob json.RawMessage) (string, bool) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(blob, &m); err != nil {
		return "", false
	}
	raw, ok := m["error"]
	if !ok || len(m) != 1 {
		return "", false
	}
	var msg string
	if err := json.Unmarshal(raw, &msg); err != nil {
		return "", false
	}
	return msg, true
}
