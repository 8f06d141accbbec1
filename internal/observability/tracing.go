package observability

import (
	"context"

	"go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// NewTracerProvider builds an otel TracerProvider with the stdout exporter,
// per SPEC_FULL.md §4 — no collector dependency, since a single-workspace
// tool has nowhere to ship spans but its own log stream. Grounded on
// pkg/observability/opentelemetry_adapter.go's provider-construction shape,
// trimmed of the OTLP/Jaeger exporters the teacher wired for a clustered
// deployment this tool doesn't have.
func NewTracerProvider(exporter trace.SpanExporter) *trace.TracerProvider {
	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithSampler(trace.AlwaysSample()),
	)
}

// NoopTracer returns a tracer that records nothing, used when tracing is
// disabled in configuration.
func NoopTracer() oteltrace.Tracer {
	return oteltrace.NewNoopTracerProvider().Tracer("specsync")
}

// Shutdown flushes and stops a TracerProvider, ignoring the context if tp
// is nil (tracing disabled).
func Shutdown(ctx context.Context, tp *trace.TracerProvider) error {
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}
