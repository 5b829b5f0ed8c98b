// Package fault defines the closed set of failure kinds shared by the risk
// and recovery subsystems. Callers branch on Kind instead of matching error
// strings; a trade rejection is a normal result and is deliberately not a
// Kind here.
package fault

import (
	"errors"
	"fmt"
)

type Kind string

const (
	// PersistenceFailure marks an I/O error writing state, a snapshot or a
	// log file. The in-memory value stays authoritative until the next
	// successful write.
	PersistenceFailure Kind = "persistence_failure"

	// SnapshotNotFound marks a missing requested or latest snapshot.
	SnapshotNotFound Kind = "snapshot_not_found"

	// CorruptSnapshot marks a snapshot, or a single component blob inside
	// one, that failed to decode.
	CorruptSnapshot Kind = "corrupt_snapshot"

	// AuthorizationDenied marks a halt reset attempted with a wrong code.
	AuthorizationDenied Kind = "authorization_denied"
)

// Error pairs a Kind with the operation that failed and its cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err (which may be nil) as a fault of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind carried by err, or "" if err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// Is reports whether err is a fault of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
