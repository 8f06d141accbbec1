// Package syncstate defines SyncState: the persisted document behind
// specforge-sync.json, tracking online/offline status, operation counters,
// per-specification versions, a bounded error ring, and rolling performance
// metrics. Grounded on spec.md §3's SyncState entity and on
// pkg/scheduler/scheduler_manager.go's SchedulerMetrics (mutex-guarded
// counters updated from a monitoring loop), generalized away from that
// struct's p2p/consensus fields.
package syncstate

import (
	"sync"
	"time"
)

// SpecChangeKind is one of {created, updated, deleted}, per spec.md §4.6's
// notify_spec_change.
type SpecChangeKind string

const (
	SpecCreated SpecChangeKind = "created"
	SpecUpdated SpecChangeKind = "updated"
	SpecDeleted SpecChangeKind = "deleted"
)

// SpecEntry is one row of sync_state.specifications.
type SpecEntry struct {
	SpecID       string    `json:"spec_id"`
	Version      int       `json:"version"`
	LastModified time.Time `json:"last_modified"`
}

// ErrorRecord is one entry of the bounded sync_errors ring.
type ErrorRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	Op        string    `json:"op"`
}

// Performance mirrors sync_state.performance from spec.md §3.
type Performance struct {
	AverageOperationTimeMs  float64 `json:"average_operation_time_ms"`
	QueueProcessingRate     float64 `json:"queue_processing_rate"`
	LastProcessingDurationMs int64  `json:"last_processing_duration_ms"`
}

// maxSyncErrors bounds the sync_errors ring, per spec.md §7's "bounded ring
// of the last ~50 entries."
const maxSyncErrors = 50

// maxDurationSamples bounds the rolling window used for
// Performance.AverageOperationTimeMs, per spec.md §4.6's "rolling average
// over the last 50 durations."
const maxDurationSamples = 50

// Document is the full persisted shape of specforge-sync.json.
type Document struct {
	ExtensionOnline       bool          `json:"extension_online"`
	ServerOnline          bool          `json:"server_online"`
	LastSync              *time.Time    `json:"last_sync,omitempty"`
	PendingOperations     int           `json:"pending_operations"`
	InProgressOperations  int           `json:"in_progress_operations"`
	FailedOperations      int           `json:"failed_operations"`
	CompletedOperations   int           `json:"completed_operations"`
	ActiveConflicts       int           `json:"active_conflicts"`
	Specifications        []SpecEntry   `json:"specifications"`
	SyncErrors            []ErrorRecord `json:"sync_errors"`
	Performance           Performance   `json:"performance"`
}

// State is the mutex-guarded in-memory SyncState owned exclusively by
// SyncService, per spec.md §3's ownership note.
type State struct {
	mu sync.Mutex

	doc       Document
	specByID  map[string]int // index into doc.Specifications, for O(1) upsert
	durations []int64        // rolling window backing Performance.AverageOperationTimeMs
}

func New() *State {
	return &State{
		doc:      Document{Specifications: []SpecEntry{}, SyncErrors: []ErrorRecord{}},
		specByID: make(map[string]int),
	}
}

// LoadDocument replaces the in-memory state from a freshly-read document,
// used by SyncService.Initialize.
func (s *State) LoadDocument(doc Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = doc
	s.specByID = make(map[string]int, len(doc.Specifications))
	for i, e := range doc.Specifications {
		s.specByID[e.SpecID] = i
	}
}

// Snapshot returns a copy of the current document for persistence.
func (s *State) Snapshot() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

func (s *State) SetExtensionOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.ExtensionOnline = online
}

func (s *State) SetServerOnline(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.ServerOnline = online
	now := time.Now()
	s.doc.LastSync = &now
}

// SetCounters overwrites the operation-status counters, typically computed
// from the current Queue contents after each mutation.
func (s *State) SetCounters(pending, inProgress, failed, completed, activeConflicts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.PendingOperations = pending
	s.doc.InProgressOperations = inProgress
	s.doc.FailedOperations = failed
	s.doc.CompletedOperations = completed
	s.doc.ActiveConflicts = activeConflicts
}

// NotifySpecChange upserts specifications[spec_id], incrementing its
// version monotonically regardless of kind, per spec.md §4.6.
func (s *State) NotifySpecChange(specID string, _ SpecChangeKind) SpecEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if idx, ok := s.specByID[specID]; ok {
		s.doc.Specifications[idx].Version++
		s.doc.Specifications[idx].LastModified = now
		return s.doc.Specifications[idx]
	}
	entry := SpecEntry{SpecID: specID, Version: 1, LastModified: now}
	s.specByID[specID] = len(s.doc.Specifications)
	s.doc.Specifications = append(s.doc.Specifications, entry)
	return entry
}

// RecordError appends to the bounded sync_errors ring, evicting the oldest
// entry once full.
func (s *State) RecordError(kind, op, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := ErrorRecord{Timestamp: time.Now(), Kind: kind, Op: op, Message: message}
	s.doc.SyncErrors = append(s.doc.SyncErrors, rec)
	if len(s.doc.SyncErrors) > maxSyncErrors {
		s.doc.SyncErrors = s.doc.SyncErrors[len(s.doc.SyncErrors)-maxSyncErrors:]
	}
}

// RecordProcessingDuration folds a completed operation's duration into the
// rolling average and per-cycle processing-rate metrics.
func (s *State) RecordProcessingDuration(durationMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durations = append(s.durations, durationMs)
	if len(s.durations) > maxDurationSamples {
		s.durations = s.durations[len(s.durations)-maxDurationSamples:]
	}
	var total int64
	for _, d := range s.durations {
		total += d
	}
	s.doc.Performance.AverageOperationTimeMs = float64(total) / float64(len(s.durations))
	s.doc.Performance.LastProcessingDurationMs = durationMs
	if s.doc.Performance.AverageOperationTimeMs > 0 {
		s.doc.Performance.QueueProcessingRate = 1000.0 / s.doc.Performance.AverageOperationTimeMs
	}
}
