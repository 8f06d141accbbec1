package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
)

func TestNewMetricsRegistersWithoutPanicking(t *testing.T) {
	require.NotPanics(t, func() {
		m := NewMetrics()
		assert.NotNil(t, m.Registry)
	})
}

func TestNewMetricsGatherReturnsRegisteredFamilies(t *testing.T) {
	m := NewMetrics()
	m.OperationsQueued.WithLabelValues("create_spec").Inc()

	families, err := m.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNoopTracerStartDoesNotPanic(t *testing.T) {
	tracer := NoopTracer()
	require.NotPanics(t, func() {
		_, span := tracer.Start(context.Background(), "test")
		span.End()
	})
}

func TestShutdownIsNilSafe(t *testing.T) {
	assert.NoError(t, Shutdown(context.Background(), nil))
}

func TestNewTracerProviderShutsDownCleanly(t *testing.T) {
	exporter, err := sdktrace.New(sdktrace.WithPrettyPrint())
	require.NoError(t, err)
	tp := NewTracerProvider(exporter)
	assert.NoError(t, Shutdown(context.Background(), tp))
}
