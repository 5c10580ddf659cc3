package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/hermes"

// Tracer returns the tracer of the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span on the global provider. End it with span.End.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartChunkSpan starts the span of one pipeline stage working on the chunk
// with sequence number seq. The span carries chunk.seq and attrs.
func StartChunkSpan(ctx context.Context, stage string, seq uint64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	kv := make([]attribute.KeyValue, 0, len(attrs)+1)
	kv = append(kv, attribute.Int64("chunk.seq", int64(seq)))
	kv = append(kv, attrs...)
	return StartSpan(ctx, stage, trace.WithAttributes(kv...))
}

// Fail records err on span and marks the span as failed.
func Fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// It is the correlation ID of log lines and the X-Correlation-ID header.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger is [WithTrace] on the default logger.
func Logger(ctx context.Context) *slog.Logger {
	return WithTrace(ctx, slog.Default())
}

// WithTrace adds trace_id and span_id of the span in ctx to l. Without a
// span l is returned unchanged.
func WithTrace(ctx context.Context, l *slog.Logger) *slog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return l
	}
	return l.With(
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	)
}
