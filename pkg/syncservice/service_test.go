package syncservice

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whit3rabbit/specsync/internal/config"
	"github.com/whit3rabbit/specsync/internal/observability"
	"github.com/whit3rabbit/specsync/pkg/operation"
)

func testConfig(workspace string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Workspace = workspace
	cfg.FileLock.LockTimeoutMs = 1000
	cfg.FileLock.RetryDelayMs = 1
	cfg.Queue.MaxBatchSize = 10
	cfg.Observer.Enabled = false
	return cfg
}

func echoHandler(ctx context.Context, op *operation.Operation) (json.RawMessage, error) {
	return json.Marshal(map[string]string{"echoed": string(op.Type)})
}

func TestInitializeThenQueueThenProcessRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	svc := New(cfg, zerolog.Nop(), observability.NoopTracer(), echoHandler, observability.NewMetrics())

	require.NoError(t, svc.Initialize(context.Background(), dir))

	var events []Event
	svc.AddHook(func(e Event) { events = append(events, e) })

	op := operation.New(operation.TypeCreateSpec, operation.PriorityNormal, operation.SourceEditor,
		json.RawMessage(`{"spec_id":"s1","name":"n"}`), 2)
	conflicts, err := svc.Queue(context.Background(), op)
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	require.NoError(t, svc.Process(context.Background(), 10))

	got, ok := svc.queue.Get(op.ID)
	require.True(t, ok)
	assert.Equal(t, operation.StatusCompleted, got.Status)

	var sawQueued, sawCompleted bool
	for _, e := range events {
		if e.Kind == EventOperationQueued {
			sawQueued = true
		}
		if e.Kind == EventOperationCompleted {
			sawCompleted = true
		}
	}
	assert.True(t, sawQueued)
	assert.True(t, sawCompleted)
}

func TestProcessRecordsFailureWhenHandlerErrors(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	failing := func(ctx context.Context, op *operation.Operation) (json.RawMessage, error) {
		return nil, assertError{}
	}
	svc := New(cfg, zerolog.Nop(), observability.NoopTracer(), failing, observability.NewMetrics())
	require.NoError(t, svc.Initialize(context.Background(), dir))

	op := operation.New(operation.TypeCreateSpec, operation.PriorityNormal, operation.SourceEditor,
		json.RawMessage(`{"spec_id":"s1","name":"n"}`), 0)
	_, err := svc.Queue(context.Background(), op)
	require.NoError(t, err)
	require.NoError(t, svc.Process(context.Background(), 10))

	got, ok := svc.queue.Get(op.ID)
	require.True(t, ok)
	assert.Equal(t, operation.StatusFailed, got.Status)
}

func TestHeartbeatMarksServerOnline(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	svc := New(cfg, zerolog.Nop(), observability.NoopTracer(), echoHandler, observability.NewMetrics())
	require.NoError(t, svc.Initialize(context.Background(), dir))

	require.NoError(t, svc.Heartbeat(context.Background(), "1.0", "1.0", dir))
	assert.True(t, svc.Status().ServerOnline)
}

func TestDisposeMarksExtensionOffline(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	svc := New(cfg, zerolog.Nop(), observability.NoopTracer(), echoHandler, observability.NewMetrics())
	require.NoError(t, svc.Initialize(context.Background(), dir))
	assert.True(t, svc.Status().ExtensionOnline)

	require.NoError(t, svc.Dispose(context.Background()))
	assert.False(t, svc.Status().ExtensionOnline)
}

func TestCleanupOldRemovesOnlyOldTerminalOperations(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	svc := New(cfg, zerolog.Nop(), observability.NoopTracer(), echoHandler, observability.NewMetrics())
	require.NoError(t, svc.Initialize(context.Background(), dir))

	op := operation.New(operation.TypeCreateSpec, operation.PriorityNormal, operation.SourceEditor,
		json.RawMessage(`{"spec_id":"s1","name":"n"}`), 2)
	_, err := svc.Queue(context.Background(), op)
	require.NoError(t, err)
	require.NoError(t, svc.Process(context.Background(), 10))

	got, _ := svc.queue.Get(op.ID)
	past := time.Now().Add(-48 * time.Hour)
	got.CompletedAt = &past

	require.NoError(t, svc.CleanupOld(context.Background(), time.Hour))
	_, stillThere := svc.queue.Get(op.ID)
	assert.False(t, stillThere)
}

type assertError struct{}

func (assertError) Error() string { return "handler failed" }
