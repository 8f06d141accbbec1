// Package results implements the append-style ledger behind
// mcp-results.json: {results: OperationResult[], last_updated}. Grounded on
// the original_source concept of an operation-result audit trail (see
// _examples/original_source/_INDEX.md) and on spec.md §6's "an
// append-style ledger (oldest entries pruned by the caller)."
package results

import (
	"encoding/json"
	"time"
)

// OperationResult is one entry in the results ledger: the terminal outcome
// of a single operation, independent of the operation record itself so the
// ledger survives Queue.Cleanup removing the originating operation.
type OperationResult struct {
	OperationID string          `json:"operation_id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Document is the full persisted shape of mcp-results.json.
type Document struct {
	Results     []OperationResult `json:"results"`
	LastUpdated time.Time         `json:"last_updated"`
}

// Ledger is the in-memory results list, bounded by maxEntries.
type Ledger struct {
	maxEntries int
	doc        Document
}

// New constructs an empty ledger. maxEntries bounds the list; Append drops
// the oldest entry once the bound is exceeded, matching spec.md §6's
// "oldest entries pruned by the caller" — the caller here is the ledger
// itself, since nothing outside specsync ever prunes it.
func New(maxEntries int) *Ledger {
	return &Ledger{maxEntries: maxEntries, doc: Document{Results: []OperationResult{}}}
}

func (l *Ledger) LoadDocument(doc Document) {
	l.doc = doc
	if l.doc.Results == nil {
		l.doc.Results = []OperationResult{}
	}
}

func (l *Ledger) Snapshot() Document {
	l.doc.LastUpdated = time.Now()
	return l.doc
}

// Append records a terminal operation outcome, pruning the oldest entry if
// the ledger has grown past maxEntries.
func (l *Ledger) Append(r OperationResult) {
	l.doc.Results = append(l.doc.Results, r)
	if l.maxEntries > 0 && len(l.doc.Results) > l.maxEntries {
		l.doc.Results = l.doc.Results[len(l.doc.Results)-l.maxEntries:]
	}
}

func (l *Ledger) Len() int { return len(l.doc.Results) }
