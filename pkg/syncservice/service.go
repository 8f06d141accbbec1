// Package syncservice implements SyncService: the single coordinator that
// wires FileLock, AtomicStore, Queue, ConflictEngine, and RetryPolicy
// behind one API surface, per spec.md §4.6. Grounded on
// pkg/scheduler/scheduler_manager.go's SchedulerManager composition-root
// shape (owned sub-components, Start/Stop lifecycle, ctx/cancel/wg),
// stripped of every p2p/consensus/messaging field the teacher used for
// cluster coordination — this service coordinates two processes through
// shared files, not a cluster through a network.
package syncservice

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/whit3rabbit/specsync/internal/config"
	"github.com/whit3rabbit/specsync/internal/observability"
	"github.com/whit3rabbit/specsync/pkg/atomicstore"
	"github.com/whit3rabbit/specsync/pkg/conflict"
	"github.com/whit3rabbit/specsync/pkg/filelock"
	"github.com/whit3rabbit/specsync/pkg/operation"
	"github.com/whit3rabbit/specsync/pkg/queue"
	"github.com/whit3rabbit/specsync/pkg/results"
	"github.com/whit3rabbit/specsync/pkg/syncerrors"
	"github.com/whit3rabbit/specsync/pkg/syncstate"
)

const (
	operationsFile = "mcp-operations.json"
	syncStateFile  = "specforge-sync.json"
	resultsFile    = "mcp-results.json"
)

// Handler executes an operation's actual effect — creating, updating, or
// deleting the specification artifact the operation describes. SyncService
// defines operation *lifecycle*; Handler defines operation *semantics*,
// per spec.md §1's explicit scope boundary, and is supplied by the
// embedding application (editor extension or server process).
type Handler func(ctx context.Context, op *operation.Operation) (json.RawMessage, error)

// Service is the SyncService orchestrator.
type Service struct {
	workspace string
	cfg       *config.Config
	log       zerolog.Logger
	tracer    trace.Tracer

	store  *atomicstore.Store
	locker *filelock.Locker

	queue    *queue.Queue
	conflict *conflict.Engine
	state    *syncstate.State
	ledger   *results.Ledger

	handler Handler
	hooks   []Hook

	mu          sync.Mutex
	initialized bool
}

// New constructs a Service. Tracer may be a no-op tracer
// (trace.NewNoopTracerProvider().Tracer("")) when tracing is disabled.
// metrics may be nil, in which case the queue and conflict engine run
// without emitting Prometheus samples — used by the one-shot CLI
// subcommands that never serve /metrics.
func New(cfg *config.Config, log zerolog.Logger, tracer trace.Tracer, handler Handler, metrics *observability.Metrics) *Service {
	locker := filelock.New(log, cfg.FileLock.RetryDelay())
	store := atomicstore.New(locker, cfg.Store, log)
	engine := conflict.New(cfg.Conflict, log, metrics)
	q := queue.New(cfg.Queue, cfg.Retry, engine, log, metrics)

	return &Service{
		cfg:      cfg,
		log:      log,
		tracer:   tracer,
		store:    store,
		locker:   locker,
		queue:    q,
		conflict: engine,
		state:    syncstate.New(),
		ledger:   results.New(cfg.Queue.MaxBatchSize * 100),
		handler:  handler,
	}
}

// AddHook registers a notification hook; see events.go.
func (s *Service) AddHook(h Hook) { s.hooks = append(s.hooks, h) }

func (s *Service) path(name string) string { return filepath.Join(s.workspace, name) }

// Initialize validates the workspace, hydrates the three state files (or
// synthesises fresh empty documents), marks the service online, and
// persists sync-state, per spec.md §4.6.
func (s *Service) Initialize(ctx context.Context, workspace string) error {
	ctx, span := s.tracer.Start(ctx, "SyncService.Initialize")
	defer span.End()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := validateWorkspace(workspace); err != nil {
		return err
	}
	s.workspace = workspace

	var opsDoc queue.Document
	if err := s.store.Read(s.path(operationsFile), s.cfg.FileLock.Timeout(), &opsDoc); err != nil {
		s.handleInitReadError(err, operationsFile)
	} else {
		s.queue.LoadDocument(&opsDoc)
	}

	var stateDoc syncstate.Document
	if err := s.store.Read(s.path(syncStateFile), s.cfg.FileLock.Timeout(), &stateDoc); err != nil {
		s.handleInitReadError(err, syncStateFile)
	} else {
		s.state.LoadDocument(stateDoc)
	}

	var resultsDoc results.Document
	if err := s.store.Read(s.path(resultsFile), s.cfg.FileLock.Timeout(), &resultsDoc); err != nil {
		s.handleInitReadError(err, resultsFile)
	} else {
		s.ledger.LoadDocument(resultsDoc)
	}

	s.state.SetExtensionOnline(true)
	s.initialized = true

	if err := s.persistSyncState(); err != nil {
		return err
	}
	s.log.Info().Str("workspace", workspace).Msg("sync service initialized")
	return nil
}

// handleInitReadError implements spec.md §4.6's "on any file_not_found,
// synthesise a fresh empty document; on json_parse_error or corrupted_data,
// log and fall back to empty" — both cases leave the in-memory component
// at its zero-value default, which New already constructed.
func (s *Service) handleInitReadError(err *syncerrors.SyncError, file string) {
	switch err.Kind {
	case syncerrors.KindFileNotFound:
		s.log.Debug().Str("file", file).Msg("state file absent, starting empty")
	default:
		s.log.Warn().Str("file", file).Str("kind", string(err.Kind)).Msg("failed to load state file, falling back to empty")
		s.emit(Event{Kind: EventConflictDetected, Message: fmt.Sprintf("%s unreadable (%s), starting from empty state", file, err.Kind)})
	}
}

func validateWorkspace(workspace string) error {
	info, statErr := os.Stat(workspace)
	if statErr != nil || !info.IsDir() {
		return syncerrors.WorkspaceInvalid("SyncService.Initialize", workspace, "workspace is not a directory")
	}
	probe := filepath.Join(workspace, ".specsync-write-probe")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return syncerrors.WorkspaceInvalid("SyncService.Initialize", workspace, "workspace is not writable")
	}
	_ = os.Remove(probe)
	return nil
}

func (s *Service) persistQueue() *syncerrors.SyncError {
	doc := s.queue.Snapshot()
	return s.store.Write(s.path(operationsFile), s.cfg.FileLock.Timeout(), doc)
}

func (s *Service) persistSyncState() error {
	doc := s.state.Snapshot()
	if err := s.store.Write(s.path(syncStateFile), s.cfg.FileLock.Timeout(), doc); err != nil {
		return err
	}
	return nil
}

func (s *Service) persistResults() *syncerrors.SyncError {
	doc := s.ledger.Snapshot()
	return s.store.Write(s.path(resultsFile), s.cfg.FileLock.Timeout(), doc)
}

func (s *Service) refreshCounters() {
	s.mu.Lock()
	stats := s.queueCounters()
	s.mu.Unlock()
	s.state.SetCounters(stats.pending, stats.inProgress, stats.failed, stats.completed, len(s.queue.UnresolvedConflicts()))
}

type counters struct{ pending, inProgress, failed, completed int }

func (s *Service) queueCounters() counters {
	var c counters
	ops := s.queue.OperationsSnapshot()
	for _, o := range ops {
		switch o.Status {
		case operation.StatusPending:
			c.pending++
		case operation.StatusInProgress:
			c.inProgress++
		case operation.StatusFailed:
			c.failed++
		case operation.StatusCompleted:
			c.completed++
		}
	}
	return c
}

// Queue validates and enqueues op, persisting the queue and notifying
// observers of the enqueue and of any conflicts detected, per spec.md
// §4.6's "queue(op)".
func (s *Service) Queue(ctx context.Context, op *operation.Operation) ([]*conflict.Conflict, error) {
	_, span := s.tracer.Start(ctx, "SyncService.Queue", trace.WithAttributes(attribute.String("operation.type", string(op.Type))))
	defer span.End()

	conflicts, err := s.queue.Enqueue(op)
	if err != nil {
		s.recordError(err, "SyncService.Queue")
		return nil, err
	}

	if werr := s.persistQueue(); werr != nil {
		s.recordError(werr, "SyncService.Queue")
		return conflicts, werr
	}

	s.emit(Event{Kind: EventOperationQueued, OperationID: op.ID})
	for _, c := range conflicts {
		s.emit(Event{Kind: EventConflictDetected, ConflictID: c.ID, OperationID: op.ID, Message: c.Description})
	}
	s.refreshCounters()
	return conflicts, nil
}

// Process drains up to maxBatch eligible operations, dispatching each to
// Handler and persisting after each processed operation, per spec.md §4.6's
// "process()". Handler panics are recovered and recorded as a failure so
// they never propagate out of Process.
func (s *Service) Process(ctx context.Context, maxBatch int) error {
	ctx, span := s.tracer.Start(ctx, "SyncService.Process")
	defer span.End()

	processed := 0
	for maxBatch <= 0 || processed < maxBatch {
		op := s.queue.NextEligible()
		if op == nil {
			break
		}
		s.processOne(ctx, op)
		processed++
	}
	return nil
}

func (s *Service) processOne(ctx context.Context, op *operation.Operation) {
	if err := s.queue.Begin(op.ID); err != nil {
		s.recordError(err, "SyncService.Process")
		return
	}
	s.emit(Event{Kind: EventOperationStarted, OperationID: op.ID})

	started := time.Now()
	result, herr := s.dispatch(ctx, op)
	duration := time.Since(started).Milliseconds()

	if herr != nil {
		cause := syncerrors.New(syncerrors.KindInvalidOperation, "Handler", herr.Error()).Build()
		if werr := s.queue.Fail(op.ID, cause); werr != nil {
			s.recordError(werr, "SyncService.Process")
		}
		s.ledger.Append(results.OperationResult{
			OperationID: op.ID, Type: string(op.Type), Status: string(operation.StatusFailed),
			Error: herr.Error(), DurationMs: duration, CompletedAt: time.Now(),
		})
		s.emit(Event{Kind: EventOperationFailed, OperationID: op.ID, Message: herr.Error()})
	} else {
		if werr := s.queue.Complete(op.ID, result); werr != nil {
			s.recordError(werr, "SyncService.Process")
		}
		s.state.RecordProcessingDuration(duration)
		s.ledger.Append(results.OperationResult{
			OperationID: op.ID, Type: string(op.Type), Status: string(operation.StatusCompleted),
			Result: result, DurationMs: duration, CompletedAt: time.Now(),
		})
		s.emit(Event{Kind: EventOperationCompleted, OperationID: op.ID})
	}

	if werr := s.persistQueue(); werr != nil {
		s.recordError(werr, "SyncService.Process")
	}
	if werr := s.persistResults(); werr != nil {
		s.recordError(werr, "SyncService.Process")
	}
	s.refreshCounters()
	_ = s.persistSyncState()
}

// dispatch calls Handler, converting a panic into an error so a misbehaving
// handler can never crash the service, per spec.md §5's cooperative
// scheduling contract.
func (s *Service) dispatch(ctx context.Context, op *operation.Operation) (result json.RawMessage, err error) {
	if op.Type == operation.TypeHeartbeat || op.Type == operation.TypeSyncStatus {
		return json.RawMessage(`{"acknowledged":true}`), nil
	}
	if s.handler == nil {
		return nil, fmt.Errorf("no handler registered for operation type %s", op.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return s.handler(ctx, op)
}

func (s *Service) recordError(err *syncerrors.SyncError, op string) {
	s.log.Error().Str("op", op).Str("kind", string(err.Kind)).Err(err).Msg("sync service error")
	s.state.RecordError(string(err.Kind), op, err.Error())
}

// CleanupOld removes completed/cancelled operations and resolved conflicts
// older than maxAge, per spec.md §4.6's "cleanup_old(hours)".
func (s *Service) CleanupOld(ctx context.Context, maxAge time.Duration) error {
	_, span := s.tracer.Start(ctx, "SyncService.CleanupOld")
	defer span.End()

	removedOps := s.queue.Cleanup(maxAge)
	removedConflicts := s.queue.CleanupConflicts(maxAge)
	s.log.Info().Int("removed_operations", removedOps).Int("removed_conflicts", removedConflicts).Msg("cleanup complete")

	if err := s.persistQueue(); err != nil {
		return err
	}
	s.refreshCounters()
	return s.persistSyncState()
}

// Heartbeat enqueues and immediately processes a heartbeat operation, then
// marks the service online, per spec.md §4.6's "heartbeat(...)".
func (s *Service) Heartbeat(ctx context.Context, serverVersion, editorVersion, workspace string) error {
	params, _ := json.Marshal(map[string]string{
		"server_version": serverVersion,
		"editor_version": editorVersion,
		"workspace":      workspace,
	})
	op := operation.New(operation.TypeHeartbeat, operation.PriorityLow, operation.SourceServer, params, s.cfg.FileLock.MaxRetries)
	if _, err := s.Queue(ctx, op); err != nil {
		return err
	}
	s.processOne(ctx, op)
	s.state.SetServerOnline(true)
	return s.persistSyncState()
}

// NotifySpecChange upserts sync_state.specifications[spec_id] and persists,
// per spec.md §4.6's "notify_spec_change(...)".
func (s *Service) NotifySpecChange(ctx context.Context, specID string, kind syncstate.SpecChangeKind) error {
	_, span := s.tracer.Start(ctx, "SyncService.NotifySpecChange", trace.WithAttributes(attribute.String("spec.id", specID)))
	defer span.End()

	s.state.NotifySpecChange(specID, kind)
	return s.persistSyncState()
}

// Dispose marks the service offline and persists, per spec.md §4.6's
// "dispose: mark offline, persist, release any held locks." FileLock
// handles are always released by the time their Acquire caller returns, so
// there are never any locks outstanding here to release explicitly.
func (s *Service) Dispose(ctx context.Context) error {
	_, span := s.tracer.Start(ctx, "SyncService.Dispose")
	defer span.End()

	s.state.SetExtensionOnline(false)
	return s.persistSyncState()
}

// Conflicts returns currently unresolved conflicts, for the observer API.
func (s *Service) Conflicts() []*conflict.Conflict { return s.queue.UnresolvedConflicts() }

// Status returns the current sync-state document, for the observer API.
func (s *Service) Status() syncstate.Document { return s.state.Snapshot() }

// QueueStats returns the queue's processing statistics, for the observer
// API.
func (s *Service) QueueStats() queue.Stats { return s.queue.Stats() }

// ProcessID identifies this process; the value is drawn once per process
// and is useful for log correlation across the two cooperating processes.
func ProcessID() string { return processID }

var processID = uuid.NewString()
