package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for revcompare
type Metrics struct {
	// Run metrics
	Runs          *prometheus.CounterVec
	RunDuration   *prometheus.HistogramVec
	StageDuration *prometheus.HistogramVec

	// Host ownership metrics
	HostLockWait prometheus.Histogram
	HostLockHeld prometheus.Gauge

	// Non-fatal failure metrics
	PublishFailures *prometheus.CounterVec
	CleanupFailures prometheus.Counter

	// Trigger and scheduler metrics
	WebhookDeliveries *prometheus.CounterVec
	QueuedRuns        prometheus.Gauge
	ActiveRuns        prometheus.Gauge
	SupersededRuns    prometheus.Counter

	// Docker operation metrics
	ImagePulls *prometheus.CounterVec

	// Error metrics (by error code from structured errors)
	Errors *prometheus.CounterVec
}

// stageBuckets spans quick git fetches to multi-hour benchmark runs
var stageBuckets = []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600, 7200, 21600, 43200}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		// Run metrics
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "revcompare_runs_total",
				Help: "Total number of pipeline runs by flow and final status",
			},
			[]string{"flow", "status"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "revcompare_run_duration_seconds",
				Help:    "Pipeline run duration in seconds",
				Buckets: stageBuckets,
			},
			[]string{"flow"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "revcompare_stage_duration_seconds",
				Help:    "Pipeline stage duration in seconds",
				Buckets: stageBuckets,
			},
			[]string{"flow", "stage"},
		),

		// Host ownership metrics
		HostLockWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "revcompare_host_lock_wait_seconds",
				Help:    "Time a benchmark run waited for exclusive host ownership",
				Buckets: []float64{0.1, 1, 10, 60, 300, 900, 3600, 14400, 43200},
			},
		),
		HostLockHeld: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "revcompare_host_lock_held",
				Help: "1 while this process owns the benchmark host",
			},
		),

		// Non-fatal failure metrics
		PublishFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "revcompare_publish_failures_total",
				Help: "Total number of failed comment or artifact publications",
			},
			[]string{"flow", "error_code"},
		),
		CleanupFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "revcompare_cleanup_failures_total",
				Help: "Total number of paths cleanup could not remove",
			},
		),

		// Trigger and scheduler metrics
		WebhookDeliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "revcompare_webhook_deliveries_total",
				Help: "Total number of webhook deliveries by event and outcome",
			},
			[]string{"event", "outcome"},
		),
		QueuedRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "revcompare_queued_runs",
				Help: "Runs waiting for a scheduler slot",
			},
		),
		ActiveRuns: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "revcompare_active_runs",
				Help: "Runs currently executing",
			},
		),
		SupersededRuns: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "revcompare_superseded_runs_total",
				Help: "Total number of runs cancelled by a newer submission for the same pull request",
			},
		),

		// Docker operation metrics
		ImagePulls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "revcompare_image_pulls_total",
				Help: "Total number of runner image pulls",
			},
			[]string{"image", "success"},
		),

		// Error metrics (by structured error code)
		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "revcompare_errors_total",
				Help: "Total number of errors by error code",
			},
			[]string{"error_code", "component"},
		),
	}
}

// ObserveStage records one stage duration
func (m *Metrics) ObserveStage(flow, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(flow, stage).Observe(d.Seconds())
}

// ObserveRun records a finished run
func (m *Metrics) ObserveRun(flow, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(flow, status).Inc()
	m.RunDuration.WithLabelValues(flow).Observe(d.Seconds())
}

// RecordError counts an error by its structured code
func (m *Metrics) RecordError(code, component string) {
	if m == nil || code == "" {
		return
	}
	m.Errors.WithLabelValues(code, component).Inc()
}

// RecordDelivery counts one webhook delivery
func (m *Metrics) RecordDelivery(event, outcome string) {
	if m == nil {
		return
	}
	m.WebhookDeliveries.WithLabelValues(event, outcome).Inc()
}
