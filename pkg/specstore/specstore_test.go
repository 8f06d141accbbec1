package specstore

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutThenGetRoundTrips(t *testing.T) {
	s, err := Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	content := json.RawMessage(`{"spec_id":"s1","name":"n"}`)
	entry, err := s.Put("s1", content)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Version)

	raw, got, err := s.Get("s1")
	require.NoError(t, err)
	assert.JSONEq(t, string(content), string(raw))
	assert.Equal(t, entry.Checksum, got.Checksum)
}

func TestPutIncrementsVersionOnOverwrite(t *testing.T) {
	s, err := Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	_, err = s.Put("s1", json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	entry, err := s.Put("s1", json.RawMessage(`{"a":2}`))
	require.NoError(t, err)
	assert.Equal(t, 2, entry.Version)
}

func TestDeleteIsIdempotentForAbsentSpec(t *testing.T) {
	s, err := Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, s.Delete("never-existed"))
}

func TestDeleteRemovesContentAndMetadata(t *testing.T) {
	s, err := Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	_, err = s.Put("s1", json.RawMessage(`{"a":1}`))
	require.NoError(t, err)

	require.NoError(t, s.Delete("s1"))
	assert.False(t, s.Exists("s1"))
	_, _, getErr := s.Get("s1")
	assert.Error(t, getErr)
}

func TestListReturnsEntriesSortedBySpecID(t *testing.T) {
	s, err := Open(t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	_, err = s.Put("zebra", json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = s.Put("alpha", json.RawMessage(`{}`))
	require.NoError(t, err)

	entries := s.List()
	require.Len(t, entries, 2)
	assert.Equal(t, "alpha", entries[0].SpecID)
	assert.Equal(t, "zebra", entries[1].SpecID)
}

func TestOpenReloadsIndexFromDisk(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)
	_, err = s1.Put("s1", json.RawMessage(`{"a":1}`))
	require.NoError(t, err)

	s2, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, s2.Exists("s1"))
	entries := s2.List()
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Version)
}
