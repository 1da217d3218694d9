// Package telemetry defines the observability seams used by the chat stream
// engine. Implementations typically delegate to Clue and OpenTelemetry but the
// interfaces are intentionally small so tests can provide lightweight stubs.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used throughout the engine. Keys and
// values are passed as alternating pairs (k1, v1, k2, v2, ...).
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter and histogram helpers for engine instrumentation.
// Tags are passed as alternating pairs (k1, v1, k2, v2, ...).
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so engine code can remain agnostic of the
// underlying OpenTelemetry provider. Uses OTEL option types for type safety.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span.
//
// Example usage:
//
//	ctx, span := tracer.Start(ctx, "chat.stream")
//	defer span.End()
//	span.SetStatus(codes.Ok, "completed")
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
}
