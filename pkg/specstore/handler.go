package specstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/whit3rabbit/specsync/pkg/operation"
)

// specParams is the payload shape shared by every spec-scoped operation
// type, per operation.go's specScopedID. Fields beyond spec_id are
// type-specific and passed through into the stored document verbatim.
type specParams struct {
	SpecID string          `json:"spec_id"`
	Fields json.RawMessage `json:"-"`
}

// Handler builds an operation.Handler (see pkg/syncservice.Handler) backed
// by a Store: create_spec, add_user_story and update_* write the document,
// delete_spec removes it, set_current_spec checks that the spec is tracked
// and echoes its id, and everything else (sync_status, heartbeat) is
// acknowledged without touching storage since they carry no spec content
// of their own.
func Handler(store *Store) func(ctx context.Context, op *operation.Operation) (json.RawMessage, error) {
	return func(ctx context.Context, op *operation.Operation) (json.RawMessage, error) {
		var p specParams
		if err := json.Unmarshal(op.Params, &p); err != nil {
			return nil, fmt.Errorf("specstore handler: decode params: %w", err)
		}
		if p.SpecID == "" && op.Type != operation.TypeSyncStatus && op.Type != operation.TypeHeartbeat {
			return nil, fmt.Errorf("specstore handler: %s requires spec_id", op.Type)
		}

		switch op.Type {
		case operation.TypeCreateSpec, operation.TypeUpdateRequirements,
			operation.TypeUpdateDesign, operation.TypeUpdateTasks,
			operation.TypeAddUserStory, operation.TypeUpdateTaskStatus:
			entry, err := store.Put(p.SpecID, op.Params)
			if err != nil {
				return nil, err
			}
			return json.Marshal(entry)

		case operation.TypeDeleteSpec:
			if err := store.Delete(p.SpecID); err != nil {
				return nil, err
			}
			return json.Marshal(map[string]string{"spec_id": p.SpecID, "status": "deleted"})

		case operation.TypeSetCurrentSpec:
			if !store.Exists(p.SpecID) {
				return nil, fmt.Errorf("specstore handler: unknown spec_id %q", p.SpecID)
			}
			return json.Marshal(map[string]string{"current_spec_id": p.SpecID})

		default:
			return json.RawMessage(`{"acknowledged":true}`), nil
		}
	}
}
