// Package atomicstore implements typed JSON read/write with crash and
// concurrency safety: lock, temp-file-then-rename, checksum, and rolling
// backups. Grounded directly on internal/storage/local.go's Store()
// (".tmp" + os.Rename, sha256 via io.MultiWriter, backup-then-restore on
// failure) and local_storage_core.go's repetition of the same idiom.
package atomicstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/whit3rabbit/specsync/internal/config"
	"github.com/whit3rabbit/specsync/pkg/filelock"
	"github.com/whit3rabbit/specsync/pkg/syncerrors"
)

// envelope wraps the caller's document with the embedded checksum field,
// resolving spec.md §9's open checksum question in favor of an embedded
// field over a detached sidecar — the simpler of the two options the spec
// allows, and consistent with how a single atomic write already bundles
// everything into one temp-then-rename.
type envelope struct {
	Checksum string          `json:"_checksum"`
	Data     json.RawMessage `json:"data"`
}

// Store performs locked, atomic, checksummed JSON persistence; each Read and
// Write names the path it works on. One Store is normally shared by a SyncService for its three
// state files, each keyed by its own path — FileLock already serializes
// concurrent access per path, so one Store safely serves all three.
type Store struct {
	locker *filelock.Locker
	cfg    config.AtomicStoreConfig
	log    zerolog.Logger
}

func New(locker *filelock.Locker, cfg config.AtomicStoreConfig, log zerolog.Logger) *Store {
	return &Store{locker: locker, cfg: cfg, log: log}
}

// Read decodes the document at path into v. See spec.md §4.2 for the exact
// step sequence this follows.
func (s *Store) Read(path string, lockTimeout time.Duration, v any) *syncerrors.SyncError {
	if _, err := os.Stat(path); err != nil {
		return syncerrors.FileNotFound("AtomicStore.Read", path)
	}

	handle, lockErr := s.locker.Acquire(path, filelock.Read, lockTimeout)
	if lockErr != nil {
		return lockErr
	}
	defer handle.Release()

	raw, err := os.ReadFile(path)
	if err != nil {
		return wrapPlatformErr("AtomicStore.Read", path, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return syncerrors.New(syncerrors.KindJSONParseError, "AtomicStore.Read", "empty file").WithPath(path).Build()
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return syncerrors.New(syncerrors.KindJSONParseError, "AtomicStore.Read", "malformed JSON").WithPath(path).WithCause(err).Build()
	}

	if s.cfg.ChecksumValidation && env.Checksum != "" {
		// Write checksums the compact encoding; the file holds it re-indented.
		var compact bytes.Buffer
		if err := json.Compact(&compact, env.Data); err != nil {
			return syncerrors.New(syncerrors.KindJSONParseError, "AtomicStore.Read", "malformed document").WithPath(path).WithCause(err).Build()
		}
		sum := checksum(compact.Bytes())
		if sum != env.Checksum {
			return syncerrors.New(syncerrors.KindCorruptedData, "AtomicStore.Read", "checksum mismatch").WithPath(path).Build()
		}
	}

	if err := json.Unmarshal(env.Data, v); err != nil {
		return syncerrors.New(syncerrors.KindJSONParseError, "AtomicStore.Read", "malformed document").WithPath(path).WithCause(err).Build()
	}
	return nil
}

// Write serializes v and atomically replaces path, backing it up first when
// enabled. See spec.md §4.2 for the exact step sequence.
func (s *Store) Write(path string, lockTimeout time.Duration, v any) *syncerrors.SyncError {
	handle, lockErr := s.locker.Acquire(path, filelock.Write, lockTimeout)
	if lockErr != nil {
		return lockErr
	}
	defer handle.Release()

	var backupPath string
	if s.cfg.BackupEnabled {
		if _, err := os.Stat(path); err == nil {
			bp, err := s.backup(path)
			if err != nil {
				return syncerrors.New(syncerrors.KindBackupFailed, "AtomicStore.Write", "failed to create backup").WithPath(path).WithCause(err).Build()
			}
			backupPath = bp
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return syncerrors.New(syncerrors.KindJSONParseError, "AtomicStore.Write", "failed to serialize document").WithPath(path).WithCause(err).Build()
	}

	env := envelope{Checksum: checksum(data), Data: data}
	pretty, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return syncerrors.New(syncerrors.KindJSONParseError, "AtomicStore.Write", "failed to serialize envelope").WithPath(path).WithCause(err).Build()
	}

	tempPath := path + s.cfg.TempSuffix
	if err := os.WriteFile(tempPath, pretty, 0644); err != nil {
		_ = os.Remove(tempPath)
		return wrapPlatformErr("AtomicStore.Write", path, err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		if backupPath != "" {
			if restoreErr := s.restore(backupPath, path); restoreErr != nil {
				return syncerrors.New(syncerrors.KindRestoreFailed, "AtomicStore.Write", "rename failed and restore failed").WithPath(path).WithCause(restoreErr).Build()
			}
		}
		return wrapPlatformErr("AtomicStore.Write", path, err)
	}

	if s.cfg.BackupEnabled {
		s.pruneBackups(path)
	}
	return nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// backup copies path to "<path>.backup-<ts>" with the ISO-8601 instant
// encoded per spec.md §6's filename rule (":" and "." replaced with "-").
func (s *Store) backup(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	ts := encodeBackupTimestamp(time.Now())
	backupPath := path + s.cfg.BackupInfix + ts
	if err := os.WriteFile(backupPath, data, 0644); err != nil {
		return "", err
	}
	return backupPath, nil
}

func (s *Store) restore(backupPath, originalPath string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return err
	}
	return os.WriteFile(originalPath, data, 0644)
}

// pruneBackups keeps at most MaxBackups, newest first, per spec.md §4.2
// step 5. Best-effort: failures are logged, never surfaced, since a stale
// backup left on disk does not threaten correctness.
func (s *Store) pruneBackups(path string) {
	dir := filepath.Dir(path)
	base := filepath.Base(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	prefix := base + s.cfg.BackupInfix
	var backups []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			backups = append(backups, filepath.Join(dir, e.Name()))
		}
	}
	sort.SliceStable(backups, func(i, j int) bool {
		ti, _ := DecodeBackupTimestamp(strings.TrimPrefix(filepath.Base(backups[i]), prefix))
		tj, _ := DecodeBackupTimestamp(strings.TrimPrefix(filepath.Base(backups[j]), prefix))
		return ti.After(tj)
	})

	for i := s.cfg.MaxBackups; i < len(backups); i++ {
		if err := os.Remove(backups[i]); err != nil {
			s.log.Warn().Err(err).Str("path", backups[i]).Msg("failed to prune backup")
		}
	}
}

// encodeBackupTimestamp renders t per spec.md §6's filename encoding rule.
func encodeBackupTimestamp(t time.Time) string {
	s := t.UTC().Format(time.RFC3339Nano)
	s = strings.ReplaceAll(s, ":", "-")
	s = strings.ReplaceAll(s, ".", "-")
	return s
}

// backupTimestampPattern captures the encoded form back into its RFC3339Nano
// components: date, hour, minute, second, optional fractional digits.
var backupTimestampPattern = regexp.MustCompile(
	`^(\d{4}-\d{2}-\d{2})T(\d{2})-(\d{2})-(\d{2})(?:-(\d+))?Z$`)

// DecodeBackupTimestamp reverses encodeBackupTimestamp, per spec.md §6's
// "parsing reverses the transformation."
func DecodeBackupTimestamp(encoded string) (time.Time, error) {
	m := backupTimestampPattern.FindStringSubmatch(encoded)
	if m == nil {
		return time.Time{}, fmt.Errorf("malformed backup timestamp %q", encoded)
	}
	date, hour, min, sec, frac := m[1], m[2], m[3], m[4], m[5]
	rebuilt := fmt.Sprintf("%sT%s:%s:%sZ", date, hour, min, sec)
	if frac != "" {
		rebuilt = fmt.Sprintf("%sT%s:%s:%s.%sZ", date, hour, min, sec, frac)
	}
	return time.Parse(time.RFC3339Nano, rebuilt)
}

func wrapPlatformErr(op, path string, err error) *syncerrors.SyncError {
	switch {
	case os.IsNotExist(err):
		return syncerrors.FileNotFound(op, path)
	case os.IsPermission(err):
		return syncerrors.New(syncerrors.KindPermissionDenied, op, "permission denied").WithPath(path).WithCause(err).Build()
	default:
		if isDiskFull(err) {
			return syncerrors.New(syncerrors.KindDiskFull, op, "disk full").WithPath(path).WithCause(err).Build()
		}
		return syncerrors.New(syncerrors.KindConcurrentAccess, op, "unexpected I/O error").WithPath(path).WithCause(err).Build()
	}
}

func isDiskFull(err error) bool {
	return strings.Contains(err.Error(), "no space left on device")
}
