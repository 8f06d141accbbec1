package operation

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/whit3rabbit/specsync/pkg/syncerrors"
)

// payload shapes, one per operation type, per spec.md §9's "treat as a
// bounded set of payload shapes ... reject unknown fields on ingest."

type createSpecParams struct {
	SpecID      string `json:"spec_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type updateRequirementsParams struct {
	SpecID  string `json:"spec_id"`
	Version int    `json:"version"`
	Content string `json:"content"`
}

type updateDesignParams struct {
	SpecID  string `json:"spec_id"`
	Version int    `json:"version"`
	Content string `json:"content"`
}

type updateTasksParams struct {
	SpecID  string `json:"spec_id"`
	Version int    `json:"version"`
	Content string `json:"content"`
}

type addUserStoryParams struct {
	SpecID string `json:"spec_id"`
	Title  string `json:"title"`
	Story  string `json:"story"`
}

type updateTaskStatusParams struct {
	SpecID string `json:"spec_id"`
	TaskID string `json:"task_id"`
	Status string `json:"status"`
}

type deleteSpecParams struct {
	SpecID string `json:"spec_id"`
}

type setCurrentSpecParams struct {
	SpecID string `json:"spec_id"`
}

type syncStatusParams struct {
	Reason string `json:"reason,omitempty"`
}

type heartbeatParams struct {
	ServerVersion string `json:"server_version,omitempty"`
	EditorVersion string `json:"editor_version,omitempty"`
	Workspace     string `json:"workspace,omitempty"`
}

// Validate checks id/type/params shape/retry invariant, per spec.md §4.3's
// enqueue validation step. Returns *syncerrors.SyncError with
// KindInvalidOperation on any failure.
func Validate(o *Operation) *syncerrors.SyncError {
	if o.ID == "" {
		return syncerrors.InvalidOperation("Operation.Validate", "id must not be empty")
	}
	if !knownTypes[o.Type] {
		return syncerrors.InvalidOperation("Operation.Validate", fmt.Sprintf("unknown operation type %q", o.Type))
	}
	if o.RetryCount > o.MaxRetries {
		return syncerrors.InvalidOperation("Operation.Validate", "retry_count exceeds max_retries")
	}
	if err := validateParams(o.Type, o.Params); err != nil {
		return syncerrors.InvalidOperation("Operation.Validate", fmt.Sprintf("invalid params for %s: %v", o.Type, err))
	}
	return nil
}

func validateParams(t Type, raw json.RawMessage) error {
	var target any
	switch t {
	case TypeCreateSpec:
		target = &createSpecParams{}
	case TypeUpdateRequirements:
		target = &updateRequirementsParams{}
	case TypeUpdateDesign:
		target = &updateDesignParams{}
	case TypeUpdateTasks:
		target = &updateTasksParams{}
	case TypeAddUserStory:
		target = &addUserStoryParams{}
	case TypeUpdateTaskStatus:
		target = &updateTaskStatusParams{}
	case TypeDeleteSpec:
		target = &deleteSpecParams{}
	case TypeSetCurrentSpec:
		target = &setCurrentSpecParams{}
	case TypeSyncStatus:
		target = &syncStatusParams{}
	case TypeHeartbeat:
		target = &heartbeatParams{}
	default:
		return fmt.Errorf("no payload shape registered for %q", t)
	}

	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return err
	}

	switch p := target.(type) {
	case *createSpecParams:
		if p.SpecID == "" || p.Name == "" {
			return fmt.Errorf("spec_id and name are required")
		}
	case *updateRequirementsParams:
		if p.SpecID == "" {
			return fmt.Errorf("spec_id is required")
		}
	case *updateDesignParams:
		if p.SpecID == "" {
			return fmt.Errorf("spec_id is required")
		}
	case *updateTasksParams:
		if p.SpecID == "" {
			return fmt.Errorf("spec_id is required")
		}
	case *addUserStoryParams:
		if p.SpecID == "" || p.Story == "" {
			return fmt.Errorf("spec_id and story are required")
		}
	case *updateTaskStatusParams:
		if p.SpecID == "" || p.TaskID == "" {
			return fmt.Errorf("spec_id and task_id are required")
		}
	case *deleteSpecParams:
		if p.SpecID == "" {
			return fmt.Errorf("spec_id is required")
		}
	case *setCurrentSpecParams:
		if p.SpecID == "" {
			return fmt.Errorf("spec_id is required")
		}
	}
	return nil
}
