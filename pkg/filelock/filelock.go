// Package filelock provides an inter-process advisory lock on an arbitrary
// target path, represented by a sidecar "<path>.lock" descriptor file.
// Grounded on internal/storage/local.go's getFileLock, which lazily builds a
// map[string]*sync.RWMutex keyed by object path for intra-process safety;
// this package keeps that same per-path map idea for the in-process fast
// path (two goroutines in one SyncService racing for the same file) but
// backs the actual lock by the sidecar file's presence/expiry, since the
// contract requires coordination between two separate OS processes that
// never share memory.
package filelock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/whit3rabbit/specsync/pkg/syncerrors"
)

// errCorruptDescriptor distinguishes an unparseable lock file from one
// that's simply absent, so Acquire can tell "race to create" apart from
// "delete and retry" instead of treating both the same way.
var errCorruptDescriptor = errors.New("corrupt lock descriptor")

// Kind distinguishes lock intent. The current contract does not implement
// reader/writer concurrency (only one descriptor per path regardless of
// kind) but callers declare intent so a richer policy can be layered in
// later without changing call sites.
type Kind string

const (
	Read  Kind = "read"
	Write Kind = "write"
)

// descriptor is the JSON shape written to "<path>.lock".
type descriptor struct {
	Path       string    `json:"path"`
	LockID     string    `json:"lock_id"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	HolderID   string    `json:"holder_id"`
	Kind       Kind      `json:"kind"`
}

// Locker acquires and releases locks for one process. HolderID is minted
// once per Locker and reused for every descriptor it writes, so a process
// can recognise (and extend) its own locks.
type Locker struct {
	holderID     string
	retryDelay   time.Duration
	log          zerolog.Logger
	mu           sync.Mutex
	intraProcess map[string]*sync.Mutex
}

func New(log zerolog.Logger, retryDelay time.Duration) *Locker {
	return &Locker{
		holderID:     uuid.NewString(),
		retryDelay:   retryDelay,
		log:          log,
		intraProcess: make(map[string]*sync.Mutex),
	}
}

func (l *Locker) HolderID() string { return l.holderID }

func (l *Locker) intraProcessMutex(path string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.intraProcess[path]
	if !ok {
		m = &sync.Mutex{}
		l.intraProcess[path] = m
	}
	return m
}

// Handle represents a held lock; Release must be called on every exit path.
type Handle struct {
	path   string
	lockID string
	locker *Locker
	intra  *sync.Mutex
}

func lockPath(path string) string { return path + ".lock" }

// Acquire loops until deadline acquiring the sidecar lock file for path. See
// spec.md §4.1 for the exact state machine this implements.
func (l *Locker) Acquire(path string, kind Kind, timeout time.Duration) (*Handle, *syncerrors.SyncError) {
	intra := l.intraProcessMutex(path)
	intra.Lock()

	deadline := time.Now().Add(timeout)
	lp := lockPath(path)
	lockID := uuid.NewString()

	for {
		desc, err := readDescriptor(lp)
		if errors.Is(err, errCorruptDescriptor) {
			// Corrupted lock file: treated as expired, per spec.md §4.1 —
			// delete it so the next loop iteration races to create fresh.
			_ = os.Remove(lp)
			continue
		}
		if err != nil {
			// Missing: race to create it exclusively so two processes
			// can't both believe they won.
			if createErr := createDescriptorExclusive(lp, descriptor{
				Path:       path,
				LockID:     lockID,
				AcquiredAt: time.Now(),
				ExpiresAt:  time.Now().Add(timeout),
				HolderID:   l.holderID,
				Kind:       kind,
			}); createErr == nil {
				return &Handle{path: path, lockID: lockID, locker: l, intra: intra}, nil
			}
			// Lost the race (or path became unwritable); fall through to retry.
		} else if time.Now().After(desc.ExpiresAt) {
			_ = os.Remove(lp)
			continue
		} else if desc.HolderID == l.holderID {
			// Already ours: extend and reuse its id.
			desc.ExpiresAt = time.Now().Add(timeout)
			if writeErr := writeDescriptor(lp, *desc); writeErr == nil {
				return &Handle{path: path, lockID: desc.LockID, locker: l, intra: intra}, nil
			}
		}

		if time.Now().After(deadline) {
			intra.Unlock()
			return nil, syncerrors.LockTimeout("FileLock.Acquire", path)
		}
		time.Sleep(l.retryDelay)
	}
}

// Release removes the sidecar lock file iff it still matches this handle's
// lock id. Release errors are logged, never propagated, matching spec.md
// §4.1's "release errors are logged, not propagated."
func (h *Handle) Release() {
	defer h.intra.Unlock()

	lp := lockPath(h.path)
	desc, err := readDescriptor(lp)
	if err != nil {
		return
	}
	if desc.LockID != h.lockID {
		return
	}
	if rmErr := os.Remove(lp); rmErr != nil && !os.IsNotExist(rmErr) {
		h.locker.log.Warn().Err(rmErr).Str("path", h.path).Msg("failed to release file lock")
	}
}

// Extend pushes out the expiry of a held lock, used by long-running
// operations that want to keep their lock alive without releasing it.
func (h *Handle) Extend(timeout time.Duration) *syncerrors.SyncError {
	lp := lockPath(h.path)
	desc, err := readDescriptor(lp)
	if err != nil || desc.LockID != h.lockID {
		return syncerrors.New(syncerrors.KindLockTimeout, "FileLock.Extend", "lock no longer held").WithPath(h.path).Build()
	}
	desc.ExpiresAt = time.Now().Add(timeout)
	if writeErr := writeDescriptor(lp, *desc); writeErr != nil {
		return syncerrors.New(syncerrors.KindLockTimeout, "FileLock.Extend", "failed to persist extension").WithPath(h.path).WithCause(writeErr).Build()
	}
	return nil
}

func readDescriptor(lockPath string) (*descriptor, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}
	var d descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptDescriptor, err)
	}
	return &d, nil
}

func writeDescriptor(lockPath string, d descriptor) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return os.WriteFile(lockPath, data, 0644)
}

// createDescriptorExclusive creates the lock file only if it does not
// already exist, so two processes racing to acquire an absent/expired lock
// can't both succeed.
func createDescriptorExclusive(lockPath string, d descriptor) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}
