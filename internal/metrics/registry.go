package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Default is the process-wide instance used by `revcompare serve`.
	Default *Metrics
	once    sync.Once
)

// InitDefault registers the metrics with the global Prometheus registerer
// once and returns them.
func InitDefault() *Metrics {
	once.Do(func() {
		Default = NewMetrics(prometheus.DefaultRegisterer)
	})
	return Default
}

// Reset forgets the default instance. Tests only.
func Reset() {
	Default = nil
	once = sync.Once{}
}

// NewRegistry returns an isolated registry carrying the revcompare metrics
// and the Go build info collector. One-shot CLI runs use it so the textfile
// they write holds nothing from the global registry.
func NewRegistry() (*prometheus.Registry, *Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewBuildInfoCollector())
	return reg, NewMetrics(reg)
}

// Handler serves the global registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor serves a specific gatherer.
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// WriteTextfile writes the gathered metrics to path in the text exposition
// format, for node_exporter's textfile collector.
func WriteTextfile(path string, reg prometheus.Gatherer) error {
	return prometheus.WriteToTextfile(path, reg)
}
