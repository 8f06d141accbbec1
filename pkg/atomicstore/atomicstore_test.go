package atomicstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whit3rabbit/specsync/internal/config"
	"github.com/whit3rabbit/specsync/pkg/filelock"
	"github.com/whit3rabbit/specsync/pkg/syncerrors"
)

type document struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func testStore(cfg config.AtomicStoreConfig) *Store {
	locker := filelock.New(zerolog.Nop(), time.Millisecond)
	return New(locker, cfg, zerolog.Nop())
}

func defaultCfg() config.AtomicStoreConfig {
	return config.AtomicStoreConfig{
		BackupEnabled:      true,
		MaxBackups:         2,
		ChecksumValidation: true,
		TempSuffix:         ".tmp",
		LockSuffix:         ".lock",
		BackupInfix:        ".backup-",
	}
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := testStore(defaultCfg())

	in := document{Name: "alpha", Count: 1}
	require.Nil(t, s.Write(path, time.Second, &in))

	var out document
	require.Nil(t, s.Read(path, time.Second, &out))
	assert.Equal(t, in, out)
}

func TestReadMissingFileReturnsFileNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.json")
	s := testStore(defaultCfg())

	var out document
	err := s.Read(path, time.Second, &out)
	require.NotNil(t, err)
	assert.Equal(t, syncerrors.KindFileNotFound, err.Kind)
}

func TestReadDetectsChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := testStore(defaultCfg())

	require.Nil(t, s.Write(path, time.Second, &document{Name: "a", Count: 1}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := []byte(strings.Replace(string(raw), `"count": 1`, `"count": 9`, 1))
	require.NoError(t, os.WriteFile(path, tampered, 0644))

	var out document
	rerr := s.Read(path, time.Second, &out)
	require.NotNil(t, rerr)
	assert.Equal(t, syncerrors.KindCorruptedData, rerr.Kind)
}

func TestWriteCreatesBackupOfPreviousVersion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	s := testStore(defaultCfg())

	require.Nil(t, s.Write(path, time.Second, &document{Name: "v1", Count: 1}))
	require.Nil(t, s.Write(path, time.Second, &document{Name: "v2", Count: 2}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var backups int
	for _, e := range entries {
		if filepath.Base(e.Name()) != "state.json" {
			backups++
		}
	}
	assert.Equal(t, 1, backups)
}

func TestWritePrunesBackupsBeyondMaxBackups(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	cfg := defaultCfg()
	cfg.MaxBackups = 1
	s := testStore(cfg)

	for i := 0; i < 4; i++ {
		require.Nil(t, s.Write(path, time.Second, &document{Name: "v", Count: i}))
		time.Sleep(2 * time.Millisecond)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var backups int
	for _, e := range entries {
		if filepath.Base(e.Name()) != "state.json" {
			backups++
		}
	}
	assert.LessOrEqual(t, backups, 1)
}

func TestEncodeDecodeBackupTimestampRoundTrips(t *testing.T) {
	now := time.Date(2026, 3, 5, 12, 30, 45, 123456789, time.UTC)
	encoded := encodeBackupTimestamp(now)
	assert.NotContains(t, encoded, ":")

	decoded, err := DecodeBackupTimestamp(encoded)
	require.NoError(t, err)
	assert.True(t, now.Equal(decoded))
}

func TestDecodeBackupTimestampRejectsMalformedInput(t *testing.T) {
	_, err := DecodeBackupTimestamp("not-a-timestamp")
	require.Error(t, err)
}
