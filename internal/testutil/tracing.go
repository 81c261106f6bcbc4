// Package testutil holds shared helpers for package tests.
package testutil

import (
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

// NewSpanRecorder installs a synchronous in-memory exporter as the global
// TracerProvider and returns it. Every span ended during the test can be
// inspected via GetSpans. The previous (no-op) provider is restored on
// cleanup so tests do not leak tracer state into each other.
func NewSpanRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	ex := tracetest.NewInMemoryExporter()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSyncer(ex)))

	t.Cleanup(func() {
		ex.Reset()
		otel.SetTracerProvider(noop.NewTracerProvider())
	})

	return ex
}
