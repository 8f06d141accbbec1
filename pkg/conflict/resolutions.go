package conflict

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/whit3rabbit/specsync/pkg/operation"
)

// recordAttempt counts one resolution attempt on c and stamps its time; it
// does not mark c resolved.
func (e *Engine) recordAttempt(c *Conflict) {
	now := time.Now()
	c.ResolutionAttempts++
	c.LastAttemptAt = &now
}

func (e *Engine) recordResolved(c *Conflict, res Resolution, by By, start time.Time) {
	now := time.Now()
	c.Resolved = true
	c.ResolvedAt = &now
	c.Resolution = &res
	c.ResolvedBy = &by

	e.mu.Lock()
	defer e.mu.Unlock()
	key := patternKey{Kind: c.Type, ResourcePath: c.ResourcePath}
	stats, ok := e.pattern[key]
	if !ok {
		stats = &patternStats{}
		e.pattern[key] = stats
	}
	stats.Frequency++
	stats.LastOccurrence = now
	stats.CommonResolution = res
	stats.SuccessCount++
	stats.TotalResolutions++
	stats.TotalResolutionMs += now.Sub(start).Milliseconds()

	if e.metrics != nil {
		e.metrics.ConflictsResolved.WithLabelValues(string(res)).Inc()
	}
}

func (e *Engine) recordFailedAttempt(c *Conflict, start time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := patternKey{Kind: c.Type, ResourcePath: c.ResourcePath}
	stats, ok := e.pattern[key]
	if !ok {
		stats = &patternStats{}
		e.pattern[key] = stats
	}
	stats.Frequency++
	stats.LastOccurrence = time.Now()
	stats.TotalResolutions++
	stats.TotalResolutionMs += time.Since(start).Milliseconds()
}

// PatternFor reports the accumulated pattern statistics for a (kind,
// resource) bucket.
func (e *Engine) PatternFor(kind Kind, resourcePath string) (frequency int, commonResolution Resolution, successRate, avgResolutionMs float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats, ok := e.pattern[patternKey{Kind: kind, ResourcePath: resourcePath}]
	if !ok {
		return 0, "", 0, 0
	}
	return stats.Frequency, stats.CommonResolution, stats.SuccessRate(), stats.AvgResolutionMs()
}

// ApplyResolution applies res to c, mutating the operations named in
// ops (keyed by id, shared pointers with the caller's queue so mutation is
// visible there too) and invoking enqueue for any operation the resolution
// derives (split). ops must contain every id in c.Operations; enqueue may
// be nil for resolutions that never derive new operations.
//
// This signature is the load-bearing design decision that keeps
// pkg/conflict independent of pkg/queue: the queue package supplies both
// the operations map and an enqueue closure rather than this package
// importing queue.Queue directly. See DESIGN.md.
func (e *Engine) ApplyResolution(c *Conflict, res Resolution, ops map[string]*operation.Operation, enqueue func(*operation.Operation)) error {
	start := time.Now()
	e.recordAttempt(c)

	opList := make([]*operation.Operation, 0, len(c.Operations))
	for _, id := range c.Operations {
		op, ok := ops[id]
		if !ok {
			e.recordFailedAttempt(c, start)
			return fmt.Errorf("conflict %s references unknown operation %s", c.ID, id)
		}
		opList = append(opList, op)
	}

	var err error
	switch res {
	case ResolutionCancel:
		err = e.applyCancel(opList)
	case ResolutionMerge:
		err = e.applyMerge(opList)
	case ResolutionExtensionWins:
		err = e.applyWins(opList, operation.SourceEditor)
	case ResolutionServerWins:
		err = e.applyWins(opList, operation.SourceServer)
	case ResolutionDefer:
		err = e.applyDefer(opList)
	case ResolutionReorder:
		err = e.applyReorder(opList)
	case ResolutionRetry:
		err = e.applyRetry(opList)
	case ResolutionSplit:
		err = e.applySplit(opList, enqueue)
	case ResolutionUserDecide:
		// no automatic mutation; the conflict stays unresolved until the
		// user's choice is applied through a further ApplyResolution call.
		return nil
	default:
		err = fmt.Errorf("unknown resolution %q", res)
	}

	if err != nil {
		e.recordFailedAttempt(c, start)
		return err
	}

	e.recordResolved(c, res, BySystem, start)
	return nil
}

// applyCancel cancels every non-terminal operation but the earliest
// (lowest timestamp), which survives as the operation of record. Spec.md
// §4.4 literally says "cancel every non-terminal member," but scenario 3 in
// §8 (duplicate detection) cancels only the second of two operations —
// the survivor reconciles the two by construction (see DESIGN.md).
func (e *Engine) applyCancel(ops []*operation.Operation) error {
	if len(ops) == 0 {
		return nil
	}
	survivor := ops[0]
	for _, o := range ops[1:] {
		if o.Timestamp.Before(survivor.Timestamp) {
			survivor = o
		}
	}
	for _, o := range ops {
		if o == survivor || o.Status.Terminal(o.RetryCount, o.MaxRetries) {
			continue
		}
		o.Status = operation.StatusCancelled
		o.Error = fmt.Sprintf("cancelled in favor of %s", survivor.ID)
	}
	return nil
}

type textContentParams struct {
	SpecID  string `json:"spec_id"`
	Version int    `json:"version"`
	Content string `json:"content"`
}

// applyMerge implements spec.md §4.4's "merge" exactly: if two operations
// of the same type target the same resource with a text-content payload,
// deduplicate lines of content into the first operation and cancel the
// second with a merged marker; otherwise fall back to extension_wins.
func (e *Engine) applyMerge(ops []*operation.Operation) error {
	if len(ops) != 2 || ops[0].Type != ops[1].Type {
		return e.applyWins(ops, operation.SourceEditor)
	}
	sortByTimestamp(ops)
	first, second := ops[0], ops[1]

	var fp, sp textContentParams
	if json.Unmarshal(first.Params, &fp) != nil || json.Unmarshal(second.Params, &sp) != nil || fp.Content == "" && sp.Content == "" {
		return e.applyWins(ops, operation.SourceEditor)
	}

	merged := dedupeLines(fp.Content, sp.Content)
	fp.Content = merged
	newParams, err := json.Marshal(fp)
	if err != nil {
		return err
	}
	first.Params = newParams
	second.Status = operation.StatusCancelled
	second.Error = fmt.Sprintf("merged into %s", first.ID)
	first.Metadata["merged_from"] = second.ID
	return nil
}

// dedupeLines concatenates a then b, keeping each distinct line once in
// first-seen order.
func dedupeLines(a, b string) string {
	seen := make(map[string]bool)
	var out []string
	for _, line := range strings.Split(a+"\n"+b, "\n") {
		if seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// applyWins keeps the operation whose Source matches winner, cancelling
// the rest — used by both extension_wins and server_wins.
func (e *Engine) applyWins(ops []*operation.Operation, winner operation.Source) error {
	var kept *operation.Operation
	for _, o := range ops {
		if o.Source == winner && kept == nil {
			kept = o
		}
	}
	if kept == nil {
		// no operation from the winning source; fall back to latest timestamp.
		kept = ops[0]
		for _, o := range ops[1:] {
			if o.Timestamp.After(kept.Timestamp) {
				kept = o
			}
		}
	}
	for _, o := range ops {
		if o == kept {
			continue
		}
		o.Status = operation.StatusCancelled
		o.Error = fmt.Sprintf("superseded by %s (%s wins)", kept.ID, winner)
	}
	return nil
}

// applyDefer lowers every operation's priority by one level and records
// metadata.deferred_until = now + 30s, per spec.md §4.4's "defer" entry.
func (e *Engine) applyDefer(ops []*operation.Operation) error {
	until := time.Now().Add(30 * time.Second)
	for _, o := range ops {
		o.Priority = o.Priority.Lower()
		o.Metadata["deferred_until"] = until
	}
	return nil
}

// applyReorder implements spec.md §4.4's "reorder" exactly: among pending
// members, sort by (priority desc, dependency count asc) and assign
// strictly increasing timestamps 1s apart starting from now. Used for
// dependency_conflict, priority_conflict, and circular_dependency — for
// the latter, reassigning timestamps does not break the dependency edges
// themselves, only the scheduling order; a cycle still blocks
// Queue.dependenciesSatisfied until a human or retry breaks it, which is
// why circular_dependency's recommendations also list cancel.
func (e *Engine) applyReorder(ops []*operation.Operation) error {
	var pending []*operation.Operation
	for _, o := range ops {
		if o.Status == operation.StatusPending {
			pending = append(pending, o)
		}
	}
	if len(pending) < 2 {
		return nil
	}
	sort.SliceStable(pending, func(i, j int) bool {
		a, b := pending[i], pending[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return len(a.Dependencies) < len(b.Dependencies)
	})
	base := time.Now()
	for i, o := range pending {
		o.Timestamp = base.Add(time.Duration(i) * time.Second)
	}
	return nil
}

func sortByTimestamp(ops []*operation.Operation) {
	for i := 1; i < len(ops); i++ {
		for j := i; j > 0 && ops[j].Timestamp.Before(ops[j-1].Timestamp); j-- {
			ops[j], ops[j-1] = ops[j-1], ops[j]
		}
	}
}

// applyRetry resets failed members to pending, increments retry_count, and
// clears error, per spec.md §4.4's "retry" entry.
func (e *Engine) applyRetry(ops []*operation.Operation) error {
	for _, o := range ops {
		if o.Status == operation.StatusFailed {
			o.Status = operation.StatusPending
			o.RetryCount++
			o.Error = ""
			o.NextRetryAt = nil
		}
	}
	return nil
}

// markdownHeaderSplit splits content along top-level markdown headers
// ("^# "), keeping the header line with the section it introduces. Content
// before the first header (if any) becomes its own leading section.
func markdownHeaderSplit(content string) []string {
	lines := strings.Split(content, "\n")
	var sections []string
	var current []string
	for _, line := range lines {
		if strings.HasPrefix(line, "# ") && len(current) > 0 {
			sections = append(sections, strings.Join(current, "\n"))
			current = nil
		}
		current = append(current, line)
	}
	if len(current) > 0 {
		sections = append(sections, strings.Join(current, "\n"))
	}
	return sections
}

// applySplit implements spec.md §4.4's "split" exactly: for content-update
// operations, split params.content along top-level markdown headers; mark
// the original cancelled and produce N derived operations whose ids are
// "<orig>-split-<i>", enqueued via the caller-supplied callback.
func (e *Engine) applySplit(ops []*operation.Operation, enqueue func(*operation.Operation)) error {
	if len(ops) == 0 || enqueue == nil {
		return nil
	}
	sortByTimestamp(ops)
	original := ops[0]

	var p textContentParams
	if json.Unmarshal(original.Params, &p) != nil || p.Content == "" {
		return e.applyReorder(ops)
	}
	sections := markdownHeaderSplit(p.Content)
	if len(sections) < 2 {
		return e.applyReorder(ops)
	}

	original.Status = operation.StatusCancelled
	original.Error = "split into derived operations by top-level header"

	for i, section := range sections {
		sp := p
		sp.Content = section
		params, err := json.Marshal(sp)
		if err != nil {
			return err
		}
		derived := operation.New(original.Type, original.Priority, original.Source, params, original.MaxRetries)
		derived.ID = fmt.Sprintf("%s-split-%d", original.ID, i)
		enqueue(derived)
	}
	return nil
}
