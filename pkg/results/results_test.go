package results

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendGrowsLedger(t *testing.T) {
	l := New(10)
	l.Append(OperationResult{OperationID: "op-1", Status: "completed"})
	assert.Equal(t, 1, l.Len())
}

func TestAppendPrunesOldestBeyondMaxEntries(t *testing.T) {
	l := New(3)
	for i := 0; i < 5; i++ {
		l.Append(OperationResult{OperationID: string(rune('a' + i))})
	}
	require.Equal(t, 3, l.Len())
	doc := l.Snapshot()
	assert.Equal(t, "c", doc.Results[0].OperationID)
	assert.Equal(t, "e", doc.Results[2].OperationID)
}

func TestNewLedgerWithZeroMaxEntriesNeverPrunes(t *testing.T) {
	l := New(0)
	for i := 0; i < 100; i++ {
		l.Append(OperationResult{OperationID: "op"})
	}
	assert.Equal(t, 100, l.Len())
}

func TestLoadDocumentHandlesNilResultsSlice(t *testing.T) {
	l := New(5)
	l.LoadDocument(Document{})
	assert.Equal(t, 0, l.Len())
	l.Append(OperationResult{OperationID: "op-1"})
	assert.Equal(t, 1, l.Len())
}

func TestSnapshotStampsLastUpdated(t *testing.T) {
	l := New(5)
	doc := l.Snapshot()
	assert.False(t, doc.LastUpdated.IsZero())
}
