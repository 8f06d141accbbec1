// Package conflict implements ConflictEngine: detection of the eight
// conflict kinds named in spec.md §4.4, severity/recommendation rules,
// auto-resolve scheduling, pattern accumulation, and application of
// resolutions to operations. Grounded on
// pkg/scheduler/fault_tolerance/recovery_strategies.go's strategy-dispatch
// shape and the Nithron offline-queue reference's SyncConflict/ConflictType
// naming (_examples/other_examples/3ccab361_Nithron-.../offline-queue.go.go).
//
// ConflictEngine never imports pkg/queue: detection reads a caller-supplied
// operation slice and resolution mutates caller-supplied operations plus an
// enqueue callback for derived operations (split), keeping queue -> conflict
// a one-way dependency with no cycle.
package conflict

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/whit3rabbit/specsync/internal/config"
	"github.com/whit3rabbit/specsync/internal/observability"
	"github.com/whit3rabbit/specsync/pkg/operation"
)

// Kind is one of the eight conflict detectors from spec.md §4.4.
type Kind string

const (
	KindDuplicateOperation     Kind = "duplicate_operation"
	KindConcurrentModification Kind = "concurrent_modification"
	KindDependencyConflict     Kind = "dependency_conflict"
	KindResourceLocked         Kind = "resource_locked"
	KindVersionMismatch        Kind = "version_mismatch"
	KindPriorityConflict       Kind = "priority_conflict"
	KindCircularDependency     Kind = "circular_dependency"
	KindOutdatedOperation      Kind = "outdated_operation"
)

// Severity is one of {low, medium, high, critical}.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Resolution is one of the recommendation/resolution-application values.
type Resolution string

const (
	ResolutionCancel         Resolution = "cancel"
	ResolutionMerge          Resolution = "merge"
	ResolutionExtensionWins  Resolution = "extension_wins"
	ResolutionServerWins     Resolution = "server_wins"
	ResolutionDefer          Resolution = "defer"
	ResolutionReorder        Resolution = "reorder"
	ResolutionRetry          Resolution = "retry"
	ResolutionSplit          Resolution = "split"
	ResolutionUserDecide     Resolution = "user_decide"
)

// By is who resolved the conflict.
type By string

const (
	BySystem By = "system"
	ByUser   By = "user"
)

// recommendations lists, per kind, the ordered recommendation set from
// spec.md §4.4's table. First element is the default for auto-resolve.
var recommendations = map[Kind][]Resolution{
	KindDuplicateOperation:     {ResolutionCancel},
	KindConcurrentModification: {ResolutionMerge, ResolutionExtensionWins, ResolutionServerWins, ResolutionDefer, ResolutionCancel},
	KindDependencyConflict:     {ResolutionReorder, ResolutionDefer, ResolutionCancel},
	KindResourceLocked:         {ResolutionDefer, ResolutionRetry, ResolutionCancel},
	KindVersionMismatch:        {ResolutionUserDecide, ResolutionExtensionWins, ResolutionServerWins},
	KindPriorityConflict:       {ResolutionReorder, ResolutionDefer},
	KindCircularDependency:     {ResolutionReorder, ResolutionCancel},
	KindOutdatedOperation:      {ResolutionCancel, ResolutionRetry},
}

// autoResolvable marks which kinds the engine schedules resolve() for
// automatically, per spec.md §4.4's "auto_resolve flag."
var autoResolvable = map[Kind]bool{
	KindDuplicateOperation: true,
	KindOutdatedOperation:  true,
}

// Conflict is a detected inconsistency between two or more operations.
type Conflict struct {
	ID                 string       `json:"id"`
	Type               Kind         `json:"type"`
	Operations         []string     `json:"operations"`
	Description        string       `json:"description"`
	Severity           Severity     `json:"severity"`
	Recommendations    []Resolution `json:"recommendations"`
	ResourcePath       string       `json:"resource_path"`
	AffectedFiles      []string     `json:"affected_files"`
	Timestamp          time.Time    `json:"timestamp"`
	Resolved           bool         `json:"resolved"`
	ResolvedAt         *time.Time   `json:"resolved_at,omitempty"`
	Resolution         *Resolution  `json:"resolution,omitempty"`
	ResolvedBy         *By          `json:"resolved_by,omitempty"`
	ResolutionAttempts int          `json:"resolution_attempts"`
	LastAttemptAt      *time.Time   `json:"last_attempt_at,omitempty"`
	AutoResolvable     bool         `json:"auto_resolvable"`
}

// patternKey identifies a (conflict type, resource) bucket in the pattern
// table.
type patternKey struct {
	Kind         Kind
	ResourcePath string
}

// patternStats is the rolling statistics the engine accumulates per pattern
// key, per spec.md §4.4's "pattern accumulation" paragraph.
type patternStats struct {
	Frequency        int
	LastOccurrence   time.Time
	CommonResolution Resolution
	SuccessCount     int
	TotalResolutions int
	TotalResolutionMs int64
}

func (s *patternStats) SuccessRate() float64 {
	if s.TotalResolutions == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(s.TotalResolutions)
}

func (s *patternStats) AvgResolutionMs() float64 {
	if s.TotalResolutions == 0 {
		return 0
	}
	return float64(s.TotalResolutionMs) / float64(s.TotalResolutions)
}

// Engine is the stateful conflict detector/resolver. The pattern table is
// in-memory only per spec.md §9's open-question resolution (see
// DESIGN.md).
type Engine struct {
	cfg     config.ConflictConfig
	log     zerolog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	pattern map[patternKey]*patternStats
}

// New constructs an Engine. metrics may be nil, in which case conflict
// detection and resolution run without emitting Prometheus samples — used
// by the one-shot CLI subcommands that never serve /metrics.
func New(cfg config.ConflictConfig, log zerolog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		pattern: make(map[patternKey]*patternStats),
	}
}

// AutoResolveDelay exposes the configured auto-resolve delay (default
// ~100ms, per spec.md §4.4) for callers scheduling resolution.
func (e *Engine) AutoResolveDelay() time.Duration { return e.cfg.AutoResolveDelay() }

// ScheduleAutoResolve, for conflicts the detector marked auto_resolvable,
// applies recommendations[0] after delay unless the conflict was already
// resolved by then (e.g. by a user decision). opsProvider is called at
// fire time, not at schedule time, so it sees the queue's state as of the
// actual resolution attempt rather than as of enqueue.
func (e *Engine) ScheduleAutoResolve(c *Conflict, opsProvider func() map[string]*operation.Operation, enqueue func(*operation.Operation)) {
	if !c.AutoResolvable {
		return
	}
	recs := recommendations[c.Type]
	if len(recs) == 0 {
		return
	}
	delay := e.AutoResolveDelay()
	go func() {
		time.Sleep(delay)
		if c.Resolved {
			return
		}
		if err := e.ApplyResolution(c, recs[0], opsProvider(), enqueue); err != nil {
			e.log.Warn().Str("conflict_id", c.ID).Err(err).Msg("auto-resolve failed")
		}
	}()
}

// Detect runs the fixed battery of detectors against candidate and the
// current operations list, returning any conflicts found. Multiple
// conflicts may be produced, per spec.md §4.4.
func (e *Engine) Detect(candidate *operation.Operation, existing []*operation.Operation) []*Conflict {
	var found []*Conflict

	if c := e.detectDuplicate(candidate, existing); c != nil {
		found = append(found, c)
	}
	if c := e.detectConcurrentModification(candidate, existing); c != nil {
		found = append(found, c)
	}
	if c := e.detectDependencyConflict(candidate, existing); c != nil {
		found = append(found, c)
	}
	if c := e.detectResourceLocked(candidate, existing); c != nil {
		found = append(found, c)
	}
	if c := e.detectVersionMismatch(candidate, existing); c != nil {
		found = append(found, c)
	}
	if c := e.detectPriorityConflict(candidate, existing); c != nil {
		found = append(found, c)
	}
	if c := e.detectCircularDependency(candidate, existing); c != nil {
		found = append(found, c)
	}
	if c := e.detectOutdated(candidate); c != nil {
		found = append(found, c)
	}

	for _, c := range found {
		e.log.Info().Str("conflict_id", c.ID).Str("kind", string(c.Type)).Str("severity", string(c.Severity)).Msg("conflict detected")
		if e.metrics != nil {
			e.metrics.ConflictsDetected.WithLabelValues(string(c.Type)).Inc()
		}
	}
	return found
}

func newConflict(kind Kind, resourcePath, description string, ops ...string) *Conflict {
	recs := recommendations[kind]
	return &Conflict{
		ID:              uuid.NewString(),
		Type:            kind,
		Operations:      ops,
		Description:     description,
		Recommendations: recs,
		ResourcePath:    resourcePath,
		Timestamp:       time.Now(),
		AutoResolvable:  autoResolvable[kind],
	}
}

// severity derives the conflict's severity from the involved operations'
// priority and whether any is an exclusive operation, per spec.md §4.4:
// "exclusive-op involvement forces critical."
func severity(ops []*operation.Operation) Severity {
	highest := operation.PriorityLow
	for _, op := range ops {
		if op.Priority > highest {
			highest = op.Priority
		}
		if operation.IsExclusive(op.Type) {
			return SeverityCritical
		}
	}
	switch highest {
	case operation.PriorityUrgent:
		return SeverityHigh
	case operation.PriorityHigh:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func nonTerminal(o *operation.Operation) bool {
	return o.Status == operation.StatusPending || o.Status == operation.StatusInProgress || o.Status == operation.StatusFailed
}

func (e *Engine) detectDuplicate(candidate *operation.Operation, existing []*operation.Operation) *Conflict {
	for _, o := range existing {
		if o.ID == candidate.ID || !nonTerminal(o) || o.Type != candidate.Type {
			continue
		}
		ratio := similarityRatio(string(candidate.Params), string(o.Params))
		if ratio >= e.cfg.DuplicateSimilarityThreshold {
			c := newConflict(KindDuplicateOperation, candidate.ResourceID(),
				fmt.Sprintf("operation %s duplicates %s (similarity %.2f)", candidate.ID, o.ID, ratio),
				candidate.ID, o.ID)
			c.Severity = severity([]*operation.Operation{candidate, o})
			return c
		}
	}
	return nil
}

// similarityRatio is a Levenshtein-ratio: 1 - distance/maxLen, using
// agnivade/levenshtein (grounded on the same teacher family's unused
// go.mod entry, adopted here since the contract names this exact metric).
func similarityRatio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(dist)/float64(maxLen)
}

func (e *Engine) detectConcurrentModification(candidate *operation.Operation, existing []*operation.Operation) *Conflict {
	if !candidate.IsModifying() {
		return nil
	}
	window := e.cfg.ConcurrentModificationWindow()
	resource := candidate.ResourceID()
	for _, o := range existing {
		if o.ID == candidate.ID || !nonTerminal(o) || !o.IsModifying() || o.ResourceID() != resource {
			continue
		}
		if absDuration(candidate.Timestamp.Sub(o.Timestamp)) <= window {
			c := newConflict(KindConcurrentModification, resource,
				fmt.Sprintf("operations %s and %s both modify %s within %s", candidate.ID, o.ID, resource, window),
				candidate.ID, o.ID)
			c.Severity = severity([]*operation.Operation{candidate, o})
			return c
		}
	}
	return nil
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func (e *Engine) detectDependencyConflict(candidate *operation.Operation, existing []*operation.Operation) *Conflict {
	byID := indexByID(existing)
	resource := candidate.ResourceID()
	for _, depID := range candidate.Dependencies {
		dep, ok := byID[depID]
		if !ok {
			continue
		}
		for _, o := range existing {
			if o.ID == dep.ID || o.Status != operation.StatusInProgress {
				continue
			}
			if o.ResourceID() == resource || o.ResourceID() == dep.ResourceID() {
				c := newConflict(KindDependencyConflict, resource,
					fmt.Sprintf("operation %s depends on %s whose resource is mutated by in-progress %s", candidate.ID, dep.ID, o.ID),
					candidate.ID, dep.ID, o.ID)
				c.Severity = severity([]*operation.Operation{candidate, dep, o})
				return c
			}
		}
	}
	return nil
}

func (e *Engine) detectResourceLocked(candidate *operation.Operation, existing []*operation.Operation) *Conflict {
	resource := candidate.ResourceID()
	for _, o := range existing {
		if o.ID == candidate.ID || o.Status != operation.StatusInProgress {
			continue
		}
		if operation.IsExclusive(o.Type) && o.ResourceID() == resource {
			c := newConflict(KindResourceLocked, resource,
				fmt.Sprintf("operation %s holds exclusive access to %s", o.ID, resource),
				candidate.ID, o.ID)
			c.Severity = severity([]*operation.Operation{candidate, o})
			return c
		}
	}
	return nil
}

func (e *Engine) detectVersionMismatch(candidate *operation.Operation, existing []*operation.Operation) *Conflict {
	var cv struct {
		Version int `json:"version"`
	}
	if err := unmarshalLoose(candidate.Params, &cv); err != nil || cv.Version == 0 {
		return nil
	}
	resource := candidate.ResourceID()
	for _, o := range existing {
		if o.ID == candidate.ID || o.Status != operation.StatusPending || o.ResourceID() != resource {
			continue
		}
		var ov struct {
			Version int `json:"version"`
		}
		if err := unmarshalLoose(o.Params, &ov); err != nil || ov.Version == 0 {
			continue
		}
		if ov.Version != cv.Version {
			c := newConflict(KindVersionMismatch, resource,
				fmt.Sprintf("operation %s declares version %d, conflicting with pending %s's version %d", candidate.ID, cv.Version, o.ID, ov.Version),
				candidate.ID, o.ID)
			c.Severity = severity([]*operation.Operation{candidate, o})
			return c
		}
	}
	return nil
}

func (e *Engine) detectPriorityConflict(candidate *operation.Operation, existing []*operation.Operation) *Conflict {
	if candidate.Priority != operation.PriorityUrgent {
		return nil
	}
	resource := candidate.ResourceID()
	for _, o := range existing {
		if o.ID == candidate.ID || o.Status != operation.StatusInProgress || o.ResourceID() != resource {
			continue
		}
		if o.Priority < operation.PriorityUrgent {
			c := newConflict(KindPriorityConflict, resource,
				fmt.Sprintf("urgent operation %s contends for %s with lower-priority in-progress %s", candidate.ID, resource, o.ID),
				candidate.ID, o.ID)
			c.Severity = severity([]*operation.Operation{candidate, o})
			return c
		}
	}
	return nil
}

// detectCircularDependency runs a DFS over dependencies starting from
// candidate; revisiting a node already on the stack means a cycle, per
// spec.md §4.4.
func (e *Engine) detectCircularDependency(candidate *operation.Operation, existing []*operation.Operation) *Conflict {
	byID := indexByID(existing)
	byID[candidate.ID] = candidate

	stack := map[string]bool{}
	var path []string

	var visit func(id string) []string
	visit = func(id string) []string {
		if stack[id] {
			return append(append([]string{}, path...), id)
		}
		op, ok := byID[id]
		if !ok {
			return nil
		}
		stack[id] = true
		path = append(path, id)
		for _, dep := range op.Dependencies {
			if cycle := visit(dep); cycle != nil {
				return cycle
			}
		}
		path = path[:len(path)-1]
		stack[id] = false
		return nil
	}

	cycle := visit(candidate.ID)
	if cycle == nil {
		return nil
	}
	c := newConflict(KindCircularDependency, candidate.ResourceID(),
		fmt.Sprintf("circular dependency: %v", cycle), cycle...)
	c.Severity = SeverityHigh
	return c
}

func (e *Engine) detectOutdated(candidate *operation.Operation) *Conflict {
	if candidate.Status != operation.StatusPending {
		return nil
	}
	if time.Since(candidate.Timestamp) <= e.cfg.OutdatedOperationWindow() {
		return nil
	}
	c := newConflict(KindOutdatedOperation, candidate.ResourceID(),
		fmt.Sprintf("operation %s has been pending longer than %s", candidate.ID, e.cfg.OutdatedOperationWindow()),
		candidate.ID)
	c.Severity = SeverityLow
	return c
}

func indexByID(ops []*operation.Operation) map[string]*operation.Operation {
	m := make(map[string]*operation.Operation, len(ops))
	for _, o := range ops {
		m[o.ID] = o
	}
	return m
}

func unmarshalLoose(raw []byte, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty params")
	}
	return json.Unmarshal(raw, v)
}
