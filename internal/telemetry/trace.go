package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "github.com/felixgeelhaar/revcompare"

// StartRunSpan creates the root span for one pipeline run.
//
// Usage:
//
//	ctx, span := telemetry.StartRunSpan(ctx, runID, "bench", rc.Key())
//	defer span.End()
func StartRunSpan(ctx context.Context, runID, flow, prKey string) (context.Context, trace.Span) {
	tracer := TracerProvider().Tracer(instrumentation)
	ctx, span := tracer.Start(ctx, "run."+flow)
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.String("run.flow", flow),
		attribute.String("run.pr", prKey),
	)
	return ctx, span
}

// StartStageSpan creates a child span for a pipeline stage.
func StartStageSpan(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := TracerProvider().Tracer(instrumentation)
	ctx, span := tracer.Start(ctx, "stage."+stage)
	span.SetAttributes(attribute.String("stage", stage))
	span.SetAttributes(attrs...)
	return ctx, span
}

// StartCommandSpan creates a span around an external process (git, scripts,
// the comparison toolkit).
func StartCommandSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := TracerProvider().Tracer(instrumentation)
	ctx, span := tracer.Start(ctx, "exec."+name, trace.WithSpanKind(trace.SpanKindInternal))
	span.SetAttributes(attrs...)
	return ctx, span
}

// RecordSuccess marks a span as successful with optional result attributes.
func RecordSuccess(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Ok, "")
}

// RecordError records err on the span and sets error status. A nil err is a no-op.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordDuration stores d in milliseconds under name_ms.
func RecordDuration(span trace.Span, name string, d time.Duration) {
	span.SetAttributes(attribute.Int64(name+"_ms", d.Milliseconds()))
}
