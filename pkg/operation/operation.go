// Package operation defines the Operation entity: a tagged-union struct
// whose Type discriminant drives strict per-type payload validation,
// following spec.md §9's re-expression guidance ("prefer a tagged variant
// ... with validation and handler dispatch driven by the tag"). Grounded on
// pkg/scheduler/scheduler_manager.go's Task struct shape (id/type/priority/
// status/timestamps/retry counters) and the closer domain match in
// _examples/other_examples/.../Nithron offline-queue.go's
// QueuedOperation/OperationType/OperationStatus enums.
package operation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type is the fixed operation-kind enumeration from spec.md §3.
type Type string

const (
	TypeCreateSpec         Type = "create_spec"
	TypeUpdateRequirements Type = "update_requirements"
	TypeUpdateDesign       Type = "update_design"
	TypeUpdateTasks        Type = "update_tasks"
	TypeAddUserStory       Type = "add_user_story"
	TypeUpdateTaskStatus   Type = "update_task_status"
	TypeDeleteSpec         Type = "delete_spec"
	TypeSetCurrentSpec     Type = "set_current_spec"
	TypeSyncStatus         Type = "sync_status"
	TypeHeartbeat          Type = "heartbeat"
)

var knownTypes = map[Type]bool{
	TypeCreateSpec: true, TypeUpdateRequirements: true, TypeUpdateDesign: true,
	TypeUpdateTasks: true, TypeAddUserStory: true, TypeUpdateTaskStatus: true,
	TypeDeleteSpec: true, TypeSetCurrentSpec: true, TypeSyncStatus: true,
	TypeHeartbeat: true,
}

// exclusiveTypes requires uncontested access to its resource, per the
// GLOSSARY's "exclusive operation" entry.
var exclusiveTypes = map[Type]bool{
	TypeCreateSpec: true,
	TypeDeleteSpec: true,
}

func IsExclusive(t Type) bool { return exclusiveTypes[t] }

// Status is the operation lifecycle state, per spec.md §3's state machine.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Terminal(retryCount, maxRetries int) bool {
	switch s {
	case StatusCompleted, StatusCancelled:
		return true
	case StatusFailed:
		return retryCount >= maxRetries
	default:
		return false
	}
}

// Priority is totally ordered, low < normal < high < urgent.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityUrgent:
		return "urgent"
	default:
		return "unknown"
	}
}

// Lower returns the next priority level down, floored at low. Used by the
// conflict engine's "defer" resolution (spec.md §4.4).
func (p Priority) Lower() Priority {
	if p == PriorityLow {
		return PriorityLow
	}
	return p - 1
}

// Source distinguishes which agent produced the operation.
type Source string

const (
	SourceEditor Source = "editor"
	SourceServer Source = "server"
)

// Operation is the core unit of work recorded in the queue.
type Operation struct {
	ID                  string          `json:"id"`
	Type                Type            `json:"type"`
	Status              Status          `json:"status"`
	Priority            Priority        `json:"priority"`
	Timestamp           time.Time       `json:"timestamp"`
	StartedAt           *time.Time      `json:"started_at,omitempty"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	ActualDurationMs    *int64          `json:"actual_duration_ms,omitempty"`
	EstimatedDurationMs *int64          `json:"estimated_duration_ms,omitempty"`
	RetryCount          int             `json:"retry_count"`
	MaxRetries          int             `json:"max_retries"`
	NextRetryAt         *time.Time      `json:"next_retry_at,omitempty"`
	Source              Source          `json:"source"`
	Params              json.RawMessage `json:"params"`
	Dependencies        []string        `json:"dependencies"`
	ConflictIDs         []string        `json:"conflict_ids"`
	Metadata            map[string]any  `json:"metadata"`
	Result              json.RawMessage `json:"result,omitempty"`
	Error               string          `json:"error,omitempty"`
}

// New constructs a pending operation with a fresh id.
func New(t Type, priority Priority, source Source, params json.RawMessage, maxRetries int) *Operation {
	return &Operation{
		ID:           uuid.NewString(),
		Type:         t,
		Status:       StatusPending,
		Priority:     priority,
		Timestamp:    time.Now(),
		MaxRetries:   maxRetries,
		Source:       source,
		Params:       params,
		Dependencies: []string{},
		ConflictIDs:  []string{},
		Metadata:     map[string]any{},
	}
}

// ResourceID returns the canonical resource identifier this operation
// contends for, per spec.md §4.4's "spec:<spec_id> for spec-scoped
// operations; <type>:<id> otherwise."
func (o *Operation) ResourceID() string {
	if specID, ok := specScopedID(o); ok {
		return "spec:" + specID
	}
	return string(o.Type) + ":" + o.ID
}

func specScopedID(o *Operation) (string, bool) {
	switch o.Type {
	case TypeCreateSpec, TypeUpdateRequirements, TypeUpdateDesign, TypeUpdateTasks,
		TypeAddUserStory, TypeUpdateTaskStatus, TypeDeleteSpec, TypeSetCurrentSpec:
		var p struct {
			SpecID string `json:"spec_id"`
		}
		if err := json.Unmarshal(o.Params, &p); err == nil && p.SpecID != "" {
			return p.SpecID, true
		}
	}
	return "", false
}

// IsModifying reports whether this operation mutates resource state,
// relevant to the concurrent_modification detector (spec.md §4.4).
func (o *Operation) IsModifying() bool {
	switch o.Type {
	case TypeSyncStatus, TypeHeartbeat:
		return false
	default:
		return true
	}
}
