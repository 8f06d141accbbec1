package syncerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuilderDefaultsRecoverableFromKind(t *testing.T) {
	err := New(KindNetworkError, "Op.Do", "boom").Build()
	assert.True(t, err.Recoverable)

	err = New(KindWorkspaceInvalid, "Op.Do", "boom").Build()
	assert.False(t, err.Recoverable)
}

func TestWithRecoverableOverridesKindDefault(t *testing.T) {
	err := New(KindCorruptedData, "Op.Do", "boom").WithRecoverable(false).Build()
	assert.False(t, err.Recoverable)
}

func TestErrorStringIncludesPathAndCause(t *testing.T) {
	cause := errors.New("disk exploded")
	err := New(KindDiskFull, "AtomicStore.Write", "write failed").
		WithPath("/tmp/x.json").
		WithCause(cause).
		Build()

	s := err.Error()
	assert.Contains(t, s, "AtomicStore.Write")
	assert.Contains(t, s, "write failed")
	assert.Contains(t, s, "/tmp/x.json")
	assert.Contains(t, s, "disk exploded")
}

func TestErrorStringOmitsPathWhenEmpty(t *testing.T) {
	err := New(KindInvalidOperation, "Queue.Enqueue", "bad op").Build()
	assert.Equal(t, "Queue.Enqueue: bad op", err.Error())
}

func TestUnwrapReturnsCause(t *testing.T) {
	cause := errors.New("root cause")
	err := New(KindJSONParseError, "Op", "parse failed").WithCause(cause).Build()
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestIsMatchesOnKindAlone(t *testing.T) {
	target := New(KindLockTimeout, "other.Op", "different message").Build()
	err := LockTimeout("FileLock.Acquire", "/tmp/a.lock")
	assert.True(t, errors.Is(err, target))

	other := New(KindQueueFull, "other.Op", "different kind").Build()
	assert.False(t, errors.Is(err, other))
}

func TestIsKindIgnoresStringifiedCopyAndMatchesDirectError(t *testing.T) {
	wrapped := errors.New("context: " + QueueFull("Queue.Enqueue", 10).Error())
	assert.False(t, IsKind(wrapped, KindQueueFull))

	direct := QueueFull("Queue.Enqueue", 10)
	assert.True(t, IsKind(direct, KindQueueFull))
	assert.Equal(t, 10, direct.Metadata["size"])
}

func TestRecoverableDefaultsTrueForNonSyncErrors(t *testing.T) {
	assert.True(t, Recoverable(errors.New("plain error")))
}

func TestRecoverableReflectsSyncErrorKind(t *testing.T) {
	assert.False(t, Recoverable(WorkspaceInvalid("Svc.Init", "/tmp", "missing")))
	assert.True(t, Recoverable(FileNotFound("Store.Read", "/tmp/x.json")))
}

func TestWithMetadataAccumulatesKeys(t *testing.T) {
	err := New(KindUnresolvedConflict, "Queue.Next", "blocked").
		WithMetadata("operation_id", "op-1").
		WithMetadata("conflict_id", "c-1").
		Build()

	assert.Equal(t, "op-1", err.Metadata["operation_id"])
	assert.Equal(t, "c-1", err.Metadata["conflict_id"])
}
