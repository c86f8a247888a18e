package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	setProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		setProvider(nil)
	})
	return exporter
}

func attrValue(attrs []attribute.KeyValue, key string) (attribute.Value, bool) {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestStartRunSpan(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, span := StartRunSpan(context.Background(), "run-1", "bench", "mmtk/mmtk-core#7")
	_, child := StartStageSpan(ctx, "acquire", attribute.Int("slots", 4))
	child.End()
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	stage, run := spans[0], spans[1]
	assert.Equal(t, "stage.acquire", stage.Name)
	assert.Equal(t, "run.bench", run.Name)
	assert.Equal(t, run.SpanContext.TraceID(), stage.SpanContext.TraceID())
	assert.Equal(t, run.SpanContext.SpanID(), stage.Parent.SpanID())

	v, ok := attrValue(run.Attributes, "run.id")
	require.True(t, ok)
	assert.Equal(t, "run-1", v.AsString())

	v, ok = attrValue(stage.Attributes, "slots")
	require.True(t, ok)
	assert.Equal(t, int64(4), v.AsInt64())
}

func TestRecordError(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartCommandSpan(context.Background(), "git.clone")
	RecordError(span, errors.New("fatal: repository not found"))
	RecordError(span, nil)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Len(t, spans[0].Events, 1)
}

func TestRecordSuccessAndDuration(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartStageSpan(context.Background(), "publish")
	RecordDuration(span, "publish", 1500*time.Millisecond)
	RecordSuccess(span, attribute.Bool("commented", true))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)

	v, ok := attrValue(spans[0].Attributes, "publish_ms")
	require.True(t, ok)
	assert.Equal(t, int64(1500), v.AsInt64())
}

func TestTracerProviderBeforeInit(t *testing.T) {
	setProvider(nil)
	_, span := StartStageSpan(context.Background(), "noop")
	span.End()
	assert.False(t, span.SpanContext().IsValid())
}
