// Package oteltest provides testing utilities for OpenTelemetry tracing:
// an in-memory span exporter and small assertion helpers for verifying the
// spans the study runner emits.
package oteltest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Setup creates a fully synchronous tracer provider that stores spans in
// memory, and returns it together with an Exporter for flushing them.
func Setup(t *testing.T) (oteltrace.TracerProvider, *Exporter) {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
	)
	t.Cleanup(func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Errorf("shut down tracer provider: %v", err)
		}
	})

	return tp, &Exporter{exporter: exporter, t: t}
}

// Exporter wraps the in-memory exporter with helpers for tests.
type Exporter struct {
	exporter *tracetest.InMemoryExporter
	t        *testing.T
}

// Flush returns the spans buffered so far and clears the buffer.
func (e *Exporter) Flush() []Span {
	stubs := e.exporter.GetSpans()
	e.exporter.Reset()

	spans := make([]Span, len(stubs))
	for i, stub := range stubs {
		spans[i] = Span{t: e.t, Stub: stub}
	}
	return spans
}

// Named returns the flushed spans with the given name.
func Named(spans []Span, name string) []Span {
	var out []Span
	for _, s := range spans {
		if s.Stub.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// Span wraps a recorded span stub with assertion helpers.
type Span struct {
	t    *testing.T
	Stub tracetest.SpanStub
}

// Name returns the span's name.
func (s *Span) Name() string {
	return s.Stub.Name
}

// Attr returns the string value of the given attribute key, or false when
// the span does not carry it.
func (s *Span) Attr(key string) (string, bool) {
	for _, kv := range s.Stub.Attributes {
		if string(kv.Key) == key {
			return kv.Value.Emit(), true
		}
	}
	return "", false
}

// AssertAttrEquals asserts the span carries the attribute with the given
// (emitted) value.
func (s *Span) AssertAttrEquals(key, expected string) {
	s.t.Helper()
	actual, ok := s.Attr(key)
	if assert.True(s.t, ok, "span %q has no attribute %q", s.Stub.Name, key) {
		assert.Equal(s.t, expected, actual)
	}
}
