package operation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whit3rabbit/specsync/pkg/syncerrors"
)

func TestNewProducesPendingOperation(t *testing.T) {
	op := New(TypeCreateSpec, PriorityNormal, SourceEditor, json.RawMessage(`{"spec_id":"s1","name":"n"}`), 3)
	assert.NotEmpty(t, op.ID)
	assert.Equal(t, StatusPending, op.Status)
	assert.Empty(t, op.Dependencies)
	assert.Empty(t, op.ConflictIDs)
	assert.NotNil(t, op.Metadata)
}

func TestResourceIDIsSpecScopedForSpecOperations(t *testing.T) {
	op := New(TypeUpdateRequirements, PriorityNormal, SourceEditor, json.RawMessage(`{"spec_id":"auth-spec"}`), 3)
	assert.Equal(t, "spec:auth-spec", op.ResourceID())
}

func TestResourceIDFallsBackToTypeAndIDWhenUnscoped(t *testing.T) {
	op := New(TypeHeartbeat, PriorityLow, SourceServer, json.RawMessage(`{}`), 3)
	assert.Equal(t, string(TypeHeartbeat)+":"+op.ID, op.ResourceID())
}

func TestPriorityLowerFloorsAtLow(t *testing.T) {
	assert.Equal(t, PriorityLow, PriorityLow.Lower())
	assert.Equal(t, PriorityNormal, PriorityHigh.Lower())
	assert.Equal(t, PriorityLow, PriorityNormal.Lower())
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal(0, 3))
	assert.True(t, StatusCancelled.Terminal(0, 3))
	assert.False(t, StatusPending.Terminal(0, 3))
	assert.False(t, StatusFailed.Terminal(1, 3), "failed is terminal only once retries are exhausted")
	assert.True(t, StatusFailed.Terminal(3, 3))
}

func TestIsExclusive(t *testing.T) {
	assert.True(t, IsExclusive(TypeCreateSpec))
	assert.True(t, IsExclusive(TypeDeleteSpec))
	assert.False(t, IsExclusive(TypeUpdateRequirements))
}

func TestIsModifying(t *testing.T) {
	assert.False(t, (&Operation{Type: TypeSyncStatus}).IsModifying())
	assert.False(t, (&Operation{Type: TypeHeartbeat}).IsModifying())
	assert.True(t, (&Operation{Type: TypeUpdateDesign}).IsModifying())
}

func TestValidateRejectsUnknownType(t *testing.T) {
	op := New(Type("bogus"), PriorityNormal, SourceEditor, json.RawMessage(`{}`), 3)
	err := Validate(op)
	require.Error(t, err)
	assert.True(t, syncerrors.IsKind(err, syncerrors.KindInvalidOperation))
}

func TestValidateRejectsRetryCountAboveMax(t *testing.T) {
	op := New(TypeHeartbeat, PriorityLow, SourceServer, json.RawMessage(`{}`), 1)
	op.RetryCount = 2
	err := Validate(op)
	require.Error(t, err)
	assert.True(t, syncerrors.IsKind(err, syncerrors.KindInvalidOperation))
}

func TestValidateRejectsMissingRequiredField(t *testing.T) {
	op := New(TypeCreateSpec, PriorityNormal, SourceEditor, json.RawMessage(`{"spec_id":"s1"}`), 3)
	err := Validate(op)
	require.Error(t, err, "create_spec requires both spec_id and name")
}

func TestValidateRejectsUnknownParamField(t *testing.T) {
	op := New(TypeDeleteSpec, PriorityNormal, SourceEditor, json.RawMessage(`{"spec_id":"s1","extra":"nope"}`), 3)
	err := Validate(op)
	require.Error(t, err, "strict decoding rejects unknown fields")
}

func TestValidateAcceptsWellFormedOperation(t *testing.T) {
	op := New(TypeAddUserStory, PriorityNormal, SourceEditor, json.RawMessage(`{"spec_id":"s1","title":"t","story":"As a user..."}`), 3)
	assert.Nil(t, Validate(op))
}
