package syncstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifySpecChangeCreatesEntryOnFirstCall(t *testing.T) {
	s := New()
	entry := s.NotifySpecChange("spec-1", SpecCreated)
	assert.Equal(t, 1, entry.Version)
	assert.Equal(t, "spec-1", entry.SpecID)
}

func TestNotifySpecChangeIncrementsVersionRegardlessOfKind(t *testing.T) {
	s := New()
	s.NotifySpecChange("spec-1", SpecCreated)
	second := s.NotifySpecChange("spec-1", SpecUpdated)
	third := s.NotifySpecChange("spec-1", SpecDeleted)
	assert.Equal(t, 2, second.Version)
	assert.Equal(t, 3, third.Version)
}

func TestRecordErrorBoundsRingAt50(t *testing.T) {
	s := New()
	for i := 0; i < 60; i++ {
		s.RecordError("network_error", "op", "boom")
	}
	doc := s.Snapshot()
	require.Len(t, doc.SyncErrors, 50)
}

func TestRecordProcessingDurationComputesRollingAverage(t *testing.T) {
	s := New()
	s.RecordProcessingDuration(100)
	s.RecordProcessingDuration(200)
	doc := s.Snapshot()
	assert.Equal(t, 150.0, doc.Performance.AverageOperationTimeMs)
	assert.Equal(t, int64(200), doc.Performance.LastProcessingDurationMs)
	assert.InDelta(t, 1000.0/150.0, doc.Performance.QueueProcessingRate, 0.0001)
}

func TestRecordProcessingDurationBoundsRollingWindowAt50(t *testing.T) {
	s := New()
	for i := 0; i < 100; i++ {
		s.RecordProcessingDuration(int64(i))
	}
	assert.Len(t, s.durations, 50)
}

func TestLoadDocumentRebuildsSpecIndex(t *testing.T) {
	s := New()
	s.LoadDocument(Document{
		Specifications: []SpecEntry{{SpecID: "spec-1", Version: 3}},
	})
	entry := s.NotifySpecChange("spec-1", SpecUpdated)
	assert.Equal(t, 4, entry.Version)
}

func TestSetCountersOverwritesAllFields(t *testing.T) {
	s := New()
	s.SetCounters(1, 2, 3, 4, 5)
	doc := s.Snapshot()
	assert.Equal(t, 1, doc.PendingOperations)
	assert.Equal(t, 2, doc.InProgressOperations)
	assert.Equal(t, 3, doc.FailedOperations)
	assert.Equal(t, 4, doc.CompletedOperations)
	assert.Equal(t, 5, doc.ActiveConflicts)
}
