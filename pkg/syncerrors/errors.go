// Package syncerrors defines the structured error taxonomy shared by every
// component in specsync: FileLock, AtomicStore, Queue and SyncService report
// failures as *SyncError instead of bare errors (ConflictEngine's
// ApplyResolution returns plain errors), so callers can branch on Kind and
// Recoverable without string matching.
package syncerrors

import (
	"errors"
	"fmt"
)

// Kind identifies the category of failure. Values match the taxonomy named
// in the on-disk/API contract exactly; do not add values without a
// corresponding contract entry.
type Kind string

const (
	KindFileNotFound      Kind = "file_not_found"
	KindPermissionDenied  Kind = "permission_denied"
	KindDiskFull          Kind = "disk_full"
	KindNetworkError      Kind = "network_error"
	KindConcurrentAccess  Kind = "concurrent_access"
	KindCorruptedData     Kind = "corrupted_data"
	KindJSONParseError    Kind = "json_parse_error"
	KindBackupFailed      Kind = "backup_failed"
	KindRestoreFailed     Kind = "restore_failed"
	KindLockTimeout       Kind = "lock_timeout"
	KindWorkspaceInvalid  Kind = "workspace_invalid"
	KindInvalidOperation  Kind = "invalid_operation"
	KindQueueFull         Kind = "queue_full"
	KindUnresolvedConflict Kind = "unresolved_conflict"
)

// nonRecoverable holds the two kinds that the contract declares fatal; every
// other kind defaults to recoverable.
var nonRecoverable = map[Kind]bool{
	KindRestoreFailed:    true,
	KindWorkspaceInvalid: true,
}

// SyncError is the structured error type returned across package boundaries.
// Modeled on the teacher's builder-style DistributedError, trimmed to the
// fields this contract actually needs: no HTTP status, no request/user ids,
// since nothing here serves a public network API.
type SyncError struct {
	Kind       Kind
	Message    string
	Op         string // component/operation that raised it, e.g. "AtomicStore.Write"
	Path       string // file path involved, if any
	Cause      error
	Recoverable bool
	Metadata   map[string]any
}

func (e *SyncError) Error() string {
	if e.Path != "" {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (%s): %v", e.Op, e.Message, e.Path, e.Cause)
		}
		return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Path)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *SyncError) Unwrap() error { return e.Cause }

// Is lets errors.Is match on Kind alone, the way callers actually want to
// branch ("is this a lock timeout?") without caring about Op/Path/Cause.
func (e *SyncError) Is(target error) bool {
	var t *SyncError
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// Builder is a fluent constructor, mirroring the teacher's ErrorBuilder.
type Builder struct {
	err *SyncError
}

func New(kind Kind, op, message string) *Builder {
	return &Builder{err: &SyncError{
		Kind:        kind,
		Op:          op,
		Message:     message,
		Recoverable: !nonRecoverable[kind],
		Metadata:    make(map[string]any),
	}}
}

func (b *Builder) WithPath(path string) *Builder {
	b.err.Path = path
	return b
}

func (b *Builder) WithCause(err error) *Builder {
	b.err.Cause = err
	return b
}

func (b *Builder) WithMetadata(key string, value any) *Builder {
	b.err.Metadata[key] = value
	return b
}

// WithRecoverable overrides the kind-derived default; used sparingly, e.g.
// when a caller decides a particular corrupted_data case cannot be retried.
func (b *Builder) WithRecoverable(recoverable bool) *Builder {
	b.err.Recoverable = recoverable
	return b
}

func (b *Builder) Build() *SyncError {
	return b.err
}

// Convenience constructors for the call sites that don't need extra builder
// chaining, matching the teacher's named-constructor pattern
// (ValidationError, NotFoundError, ...).

func FileNotFound(op, path string) *SyncError {
	return New(KindFileNotFound, op, "file not found").WithPath(path).Build()
}

func LockTimeout(op, path string) *SyncError {
	return New(KindLockTimeout, op, "timed out acquiring lock").WithPath(path).Build()
}

func InvalidOperation(op, message string) *SyncError {
	return New(KindInvalidOperation, op, message).Build()
}

func QueueFull(op string, size int) *SyncError {
	return New(KindQueueFull, op, "queue is at capacity").WithMetadata("size", size).Build()
}

func WorkspaceInvalid(op, path, reason string) *SyncError {
	return New(KindWorkspaceInvalid, op, reason).WithPath(path).Build()
}

// IsKind reports whether err is a *SyncError (directly or wrapped) of kind k.
func IsKind(err error, k Kind) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind == k
	}
	return false
}

// Recoverable reports whether err — if a *SyncError — is retryable. Errors
// that aren't *SyncError at all are treated as recoverable by default,
// matching the contract's "all others default to recoverable" rule.
func Recoverable(err error) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Recoverable
	}
	return true
}
