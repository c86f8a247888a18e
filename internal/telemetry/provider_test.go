package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitProviderDisabled(t *testing.T) {
	ctx := context.Background()
	shutdown, err := InitProvider(ctx, DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(ctx))
}

func TestInitProviderEnabled(t *testing.T) {
	ctx := context.Background()
	cfg := ForEndpoint("", "test", "localhost:4318", 0.5)

	shutdown, err := InitProvider(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	_, ok := TracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok)

	// Nothing was recorded, so shutdown does not need a collector.
	assert.NoError(t, Shutdown(ctx))
	_, _ = InitProvider(ctx, DefaultConfig())
}

type failingExporter struct{ calls int }

func (f *failingExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error {
	f.calls++
	return errors.New("collector down")
}

func (f *failingExporter) Shutdown(context.Context) error { return nil }

func TestGuardedExporter_OpensAfterRepeatedFailures(t *testing.T) {
	inner := &failingExporter{}
	g := newGuardedExporter(inner)
	g.breaker.threshold = 1

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.ExportSpans(ctx, nil)
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)

	err = g.ExportSpans(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "suspended")
	assert.Equal(t, 1, inner.calls)
}
