// Package queue implements OperationQueue: the priority-ordered,
// dependency-aware in-memory structure backing mcp-operations.json.
// Grounded on pkg/scheduler/scheduler_manager.go's TaskQueue/TaskTracker
// (mutex-guarded slice + metrics) generalized to the spec's priority,
// dependency, and conflict-aware eligibility rules, and on
// _examples/other_examples/.../Nithron offline-queue.go's enqueue/next/ack
// lifecycle naming.
package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/whit3rabbit/specsync/internal/config"
	"github.com/whit3rabbit/specsync/internal/observability"
	"github.com/whit3rabbit/specsync/pkg/conflict"
	"github.com/whit3rabbit/specsync/pkg/operation"
	"github.com/whit3rabbit/specsync/pkg/retry"
	"github.com/whit3rabbit/specsync/pkg/syncerrors"
)

// Stats mirrors the persisted "processing_stats" object from spec.md §3
// exactly: {total_processed, success_count, failure_count,
// average_processing_time_ms}.
type Stats struct {
	TotalProcessed          int64   `json:"total_processed"`
	SuccessCount            int64   `json:"success_count"`
	FailureCount            int64   `json:"failure_count"`
	AverageProcessingTimeMs float64 `json:"average_processing_time_ms"`
}

func (s *Stats) recordCompletion(durationMs int64) {
	s.TotalProcessed++
	s.SuccessCount++
	if s.TotalProcessed == 1 {
		s.AverageProcessingTimeMs = float64(durationMs)
		return
	}
	s.AverageProcessingTimeMs += (float64(durationMs) - s.AverageProcessingTimeMs) / float64(s.TotalProcessed)
}

func (s *Stats) recordFailure() {
	s.TotalProcessed++
	s.FailureCount++
}

// Document is the full persisted shape of mcp-operations.json.
type Document struct {
	Version    int64                           `json:"version"`
	Operations map[string]*operation.Operation `json:"operations"`
	Conflicts  map[string]*conflict.Conflict   `json:"conflicts"`
	Stats      Stats                           `json:"processing_stats"`
}

// Queue is the in-memory operation queue plus its conflict table. The
// ConflictEngine's pattern table is intentionally NOT part of Queue: it
// lives inside conflict.Engine and is never persisted, per spec.md §9's
// open-question resolution (see DESIGN.md).
type Queue struct {
	mu      sync.Mutex
	cfg     config.QueueConfig
	rcfg    config.RetryConfig
	log     zerolog.Logger
	metrics *observability.Metrics

	engine *conflict.Engine
	retry  retry.Policy

	version    int64
	operations map[string]*operation.Operation
	conflicts  map[string]*conflict.Conflict
	stats      Stats
}

// New constructs a Queue. metrics may be nil, in which case the queue runs
// without emitting Prometheus samples — used by the one-shot CLI
// subcommands that never serve /metrics.
func New(cfg config.QueueConfig, rcfg config.RetryConfig, engine *conflict.Engine, log zerolog.Logger, metrics *observability.Metrics) *Queue {
	return &Queue{
		cfg:        cfg,
		rcfg:       rcfg,
		log:        log,
		metrics:    metrics,
		engine:     engine,
		retry:      retry.New(rcfg.Base(), rcfg.Max()),
		operations: make(map[string]*operation.Operation),
		conflicts:  make(map[string]*conflict.Conflict),
	}
}

// observeDepth reports the queue's current size to the depth gauge. Called
// with q.mu already held.
func (q *Queue) observeDepth() {
	if q.metrics != nil {
		q.metrics.QueueDepth.Set(float64(len(q.operations)))
	}
}

// LoadDocument replaces the queue's state wholesale, used by SyncService on
// startup to hydrate from mcp-operations.json.
func (q *Queue) LoadDocument(doc *Document) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.version = doc.Version
	q.operations = doc.Operations
	if q.operations == nil {
		q.operations = make(map[string]*operation.Operation)
	}
	q.conflicts = doc.Conflicts
	if q.conflicts == nil {
		q.conflicts = make(map[string]*conflict.Conflict)
	}
	q.stats = doc.Stats
}

// Snapshot returns the persistable document for the queue's current state.
// Version is incremented on every call since a snapshot is always taken
// immediately before a write, per spec.md §3's "version counter,
// monotonically increasing on persist."
func (q *Queue) Snapshot() *Document {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.version++
	return &Document{
		Version:    q.version,
		Operations: q.operations,
		Conflicts:  q.conflicts,
		Stats:      q.stats,
	}
}

func (q *Queue) opSlice() []*operation.Operation {
	out := make([]*operation.Operation, 0, len(q.operations))
	for _, o := range q.operations {
		out = append(out, o)
	}
	return out
}

// Enqueue validates and inserts op, running conflict detection against the
// current operation set and enforcing MaxQueueSize. Returns any conflicts
// detected (op is still enqueued; detected conflicts do not block
// admission — they are recorded and may later trigger auto-resolve, per
// spec.md §4.4).
func (q *Queue) Enqueue(op *operation.Operation) ([]*conflict.Conflict, *syncerrors.SyncError) {
	if err := operation.Validate(op); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.operations) >= q.cfg.MaxQueueSize {
		return nil, syncerrors.QueueFull("Queue.Enqueue", q.cfg.MaxQueueSize)
	}

	detected := q.engine.Detect(op, q.opSlice())
	for _, c := range detected {
		q.conflicts[c.ID] = c
		for _, opID := range c.Operations {
			if opID == op.ID {
				op.ConflictIDs = append(op.ConflictIDs, c.ID)
				continue
			}
			if other, ok := q.operations[opID]; ok {
				other.ConflictIDs = append(other.ConflictIDs, c.ID)
			}
		}
	}

	q.operations[op.ID] = op
	if q.metrics != nil {
		q.metrics.OperationsQueued.WithLabelValues(string(op.Type)).Inc()
	}
	q.observeDepth()

	for _, c := range detected {
		q.engine.ScheduleAutoResolve(c, q.OperationsSnapshot, q.Put)
	}
	return detected, nil
}

// NextEligible returns the highest-priority pending operation whose
// dependencies are all completed, whose conflicts are all resolved, and
// whose NextRetryAt (if set) has passed — nil if none qualify. Ties break
// by earliest timestamp, then lexical id, per spec.md §4.3.
func (q *Queue) NextEligible() *operation.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	var candidates []*operation.Operation
	for _, o := range q.operations {
		if o.Status != operation.StatusPending {
			continue
		}
		if o.NextRetryAt != nil && o.NextRetryAt.After(now) {
			continue
		}
		if !q.dependenciesSatisfied(o) {
			continue
		}
		if !q.conflictsResolved(o) {
			continue
		}
		candidates = append(candidates, o)
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.ID < b.ID
	})
	return candidates[0]
}

func (q *Queue) dependenciesSatisfied(o *operation.Operation) bool {
	for _, depID := range o.Dependencies {
		dep, ok := q.operations[depID]
		if !ok {
			continue
		}
		if dep.Status != operation.StatusCompleted {
			return false
		}
	}
	return true
}

func (q *Queue) conflictsResolved(o *operation.Operation) bool {
	for _, cid := range o.ConflictIDs {
		c, ok := q.conflicts[cid]
		if !ok {
			continue
		}
		if !c.Resolved {
			return false
		}
	}
	return true
}

// Begin transitions op to in_progress and stamps StartedAt.
func (q *Queue) Begin(id string) *syncerrors.SyncError {
	q.mu.Lock()
	defer q.mu.Unlock()
	op, ok := q.operations[id]
	if !ok {
		return syncerrors.New(syncerrors.KindInvalidOperation, "Queue.Begin", "unknown operation").WithMetadata("id", id).Build()
	}
	now := time.Now()
	op.Status = operation.StatusInProgress
	op.StartedAt = &now
	return nil
}

// Complete marks op completed, records its result, and folds its duration
// into the rolling average processing time.
func (q *Queue) Complete(id string, result []byte) *syncerrors.SyncError {
	q.mu.Lock()
	defer q.mu.Unlock()
	op, ok := q.operations[id]
	if !ok {
		return syncerrors.New(syncerrors.KindInvalidOperation, "Queue.Complete", "unknown operation").WithMetadata("id", id).Build()
	}
	now := time.Now()
	op.Status = operation.StatusCompleted
	op.CompletedAt = &now
	op.Result = result

	var durationMs int64
	if op.StartedAt != nil {
		durationMs = now.Sub(*op.StartedAt).Milliseconds()
	}
	op.ActualDurationMs = &durationMs
	q.stats.recordCompletion(durationMs)
	if q.metrics != nil {
		q.metrics.OperationsCompleted.WithLabelValues(string(op.Type)).Inc()
		q.metrics.ProcessingDuration.Observe(float64(durationMs))
	}
	return nil
}

// Fail records a failure. If the operation still has retries left and the
// failure is recoverable, it is rescheduled to pending with NextRetryAt set
// via the backoff policy; otherwise it becomes terminally failed.
func (q *Queue) Fail(id string, cause *syncerrors.SyncError) *syncerrors.SyncError {
	q.mu.Lock()
	defer q.mu.Unlock()
	op, ok := q.operations[id]
	if !ok {
		return syncerrors.New(syncerrors.KindInvalidOperation, "Queue.Fail", "unknown operation").WithMetadata("id", id).Build()
	}

	op.Status = operation.StatusFailed
	if cause != nil {
		op.Error = cause.Error()
	}

	recoverable := cause == nil || syncerrors.Recoverable(cause)
	if retry.Eligible(op.RetryCount, op.MaxRetries, recoverable) {
		op.RetryCount++
		delay := q.retry.Delay(op.RetryCount - 1)
		next := time.Now().Add(delay)
		op.NextRetryAt = &next
		op.Status = operation.StatusPending
		q.log.Info().Str("operation_id", id).Int("retry_count", op.RetryCount).Dur("delay", delay).Msg("operation rescheduled for retry")
		if q.metrics != nil {
			q.metrics.RetryAttempts.Inc()
		}
	} else {
		q.stats.recordFailure()
		if q.metrics != nil {
			q.metrics.OperationsFailed.WithLabelValues(string(op.Type)).Inc()
		}
	}
	return nil
}

// Cancel marks op cancelled with reason recorded as its Error. Cancellation
// isn't folded into processing_stats, whose shape spec.md §3 fixes to
// {total_processed, success_count, failure_count,
// average_processing_time_ms} — a cancelled operation never processed.
func (q *Queue) Cancel(id, reason string) *syncerrors.SyncError {
	q.mu.Lock()
	defer q.mu.Unlock()
	op, ok := q.operations[id]
	if !ok {
		return syncerrors.New(syncerrors.KindInvalidOperation, "Queue.Cancel", "unknown operation").WithMetadata("id", id).Build()
	}
	op.Status = operation.StatusCancelled
	op.Error = reason
	return nil
}

// Cleanup removes completed and cancelled operations older than maxAge,
// preserving pending/in_progress/failed regardless of age, per spec.md
// §4.3's retention rule. Returns the number removed.
func (q *Queue) Cleanup(maxAge time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, o := range q.operations {
		if o.Status != operation.StatusCompleted && o.Status != operation.StatusCancelled {
			continue
		}
		ref := o.Timestamp
		if o.CompletedAt != nil {
			ref = *o.CompletedAt
		}
		if ref.Before(cutoff) {
			delete(q.operations, id)
			removed++
		}
	}
	q.observeDepth()
	return removed
}

// CleanupConflicts removes resolved conflicts older than maxAge, per
// spec.md §4.6's "cleanup_old(hours): ... plus ConflictEngine cleanup of
// resolved conflicts older than hours." Returns the number removed.
func (q *Queue) CleanupConflicts(maxAge time.Duration) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, c := range q.conflicts {
		if !c.Resolved || c.ResolvedAt == nil {
			continue
		}
		if c.ResolvedAt.Before(cutoff) {
			delete(q.conflicts, id)
			removed++
		}
	}
	return removed
}

// Get returns the operation by id, if present.
func (q *Queue) Get(id string) (*operation.Operation, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	o, ok := q.operations[id]
	return o, ok
}

// Conflict returns a conflict by id, if present.
func (q *Queue) Conflict(id string) (*conflict.Conflict, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.conflicts[id]
	return c, ok
}

// UnresolvedConflicts returns all conflicts not yet marked resolved.
func (q *Queue) UnresolvedConflicts() []*conflict.Conflict {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*conflict.Conflict
	for _, c := range q.conflicts {
		if !c.Resolved {
			out = append(out, c)
		}
	}
	return out
}

// Stats returns a copy of the queue's processing stats.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stats
}

// Len returns the number of operations currently tracked.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.operations)
}

// OperationsSnapshot returns a defensive copy of the operations map keyed
// by id, suitable for passing to conflict.Engine.ApplyResolution without
// holding the queue's lock across the call.
func (q *Queue) OperationsSnapshot() map[string]*operation.Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]*operation.Operation, len(q.operations))
	for k, v := range q.operations {
		out[k] = v
	}
	return out
}

// Put inserts or replaces an operation directly — used by the conflict
// resolution's "split" strategy to re-enqueue a derived operation without
// re-running conflict detection against its own parent.
func (q *Queue) Put(op *operation.Operation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.operations[op.ID] = op
}
