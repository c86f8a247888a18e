package telemetry

// Config holds configuration for the tracer
type Config struct {
	// ServiceName is the name reported on every span resource
	ServiceName string

	// ServiceVersion is the binary version
	ServiceVersion string

	// Environment is the deployment environment (ci, staging, dev)
	Environment string

	// Enabled determines whether tracing is enabled.
	// When false, a noop tracer is used
	Enabled bool

	// Endpoint is the OTLP/HTTP collector endpoint (host:port).
	// If empty, spans are recorded but not exported
	Endpoint string

	// SampleRate is the fraction of runs to sample (0.0 to 1.0)
	SampleRate float64
}

// DefaultConfig returns tracing disabled, which is what one-shot CLI runs use
func DefaultConfig() Config {
	return Config{
		ServiceName:    "revcompare",
		ServiceVersion: "dev",
		Environment:    "ci",
		Enabled:        false,
		SampleRate:     1.0,
	}
}

// ForEndpoint returns a configuration exporting to endpoint. An empty
// endpoint disables tracing.
func ForEndpoint(serviceName, version, endpoint string, sampleRate float64) Config {
	cfg := DefaultConfig()
	if serviceName != "" {
		cfg.ServiceName = serviceName
	}
	if version != "" {
		cfg.ServiceVersion = version
	}
	cfg.Endpoint = endpoint
	cfg.Enabled = endpoint != ""
	if sampleRate > 0 {
		cfg.SampleRate = sampleRate
	}
	return cfg
}
