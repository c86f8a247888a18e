package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	assert.NotNil(t, m.Runs)
	assert.NotNil(t, m.RunDuration)
	assert.NotNil(t, m.StageDuration)
	assert.NotNil(t, m.HostLockWait)
	assert.NotNil(t, m.HostLockHeld)
	assert.NotNil(t, m.PublishFailures)
	assert.NotNil(t, m.CleanupFailures)
	assert.NotNil(t, m.WebhookDeliveries)
	assert.NotNil(t, m.QueuedRuns)
	assert.NotNil(t, m.ActiveRuns)
	assert.NotNil(t, m.SupersededRuns)
	assert.NotNil(t, m.ImagePulls)
	assert.NotNil(t, m.Errors)
}

func TestObserveRun(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObserveRun("bench", "BenchmarkError", 2*time.Hour)
	m.ObserveRun("bench", "BenchmarkError", time.Hour)
	m.ObserveRun("check", "success", time.Minute)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Runs.WithLabelValues("bench", "BenchmarkError")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("check", "success")))
}

func TestObserveStage(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveStage("check", "acquire", 30*time.Second)
	m.ObserveStage("check", "build_test", 20*time.Minute)

	assert.Equal(t, 2, testutil.CollectAndCount(m.StageDuration, "revcompare_stage_duration_seconds"))
}

func TestRecordError(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordError("ACQ-001", "source")
	m.RecordError("", "source")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues("ACQ-001", "source")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRun("check", "success", time.Second)
		m.ObserveStage("check", "acquire", time.Second)
		m.RecordError("ACQ-001", "source")
	})
}
