package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := New(PersistenceFailure, "risk.Store.Save", errors.New("disk full"))
	assert.Equal(t, "risk.Store.Save: persistence_failure: disk full", err.Error())

	bare := New(SnapshotNotFound, "recovery.SnapshotStore.Read", nil)
	assert.Equal(t, "recovery.SnapshotStore.Read: snapshot_not_found", bare.Error())
}

func TestKindOfUnwrapsWrappedFaults(t *testing.T) {
	inner := New(CorruptSnapshot, "recovery.decodeSnapshot", errors.New("bad version"))
	wrapped := fmt.Errorf("recover: %w", inner)

	assert.Equal(t, CorruptSnapshot, KindOf(wrapped))
	assert.True(t, Is(wrapped, CorruptSnapshot))
	assert.False(t, Is(wrapped, SnapshotNotFound))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("permission denied")
	err := New(AuthorizationDenied, "risk.ResetAutoHalt", cause)

	assert.ErrorIs(t, err, cause)
}
