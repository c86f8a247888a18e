package health

import (
	"context"
	"sync/atomic"
	"time"
)

// ProbeManager adds liveness, readiness and startup probes on top of Manager
// for the webhook server.
type ProbeManager struct {
	*Manager

	startTime   time.Time
	version     string
	initialized atomic.Bool
	inShutdown  atomic.Bool
}

// NewProbeManager creates a probe manager reporting the given build version.
func NewProbeManager(version string) *ProbeManager {
	return &ProbeManager{
		Manager:   NewManager(),
		startTime: time.Now(),
		version:   version,
	}
}

// MarkInitialized lets the startup probe pass.
func (pm *ProbeManager) MarkInitialized() { pm.initialized.Store(true) }

// MarkShutdown makes the readiness probe fail so deliveries stop arriving.
func (pm *ProbeManager) MarkShutdown() { pm.inShutdown.Store(true) }

func (pm *ProbeManager) IsInitialized() bool  { return pm.initialized.Load() }
func (pm *ProbeManager) IsShuttingDown() bool { return pm.inShutdown.Load() }
func (pm *ProbeManager) Version() string      { return pm.version }

// Uptime returns how long ago the manager was created.
func (pm *ProbeManager) Uptime() time.Duration {
	return time.Since(pm.startTime)
}

// ProbeResult is the JSON body of a probe endpoint.
type ProbeResult struct {
	Timestamp time.Time          `json:"timestamp"`
	Checks    map[string]*Result `json:"checks,omitempty"`
	Status    Status             `json:"status"`
	Version   string             `json:"version,omitempty"`
	Uptime    string             `json:"uptime,omitempty"`
}

func (pm *ProbeManager) probe(status Status, checks map[string]*Result) *ProbeResult {
	return &ProbeResult{
		Timestamp: time.Now(),
		Checks:    checks,
		Status:    status,
		Version:   pm.version,
		Uptime:    pm.Uptime().Round(time.Second).String(),
	}
}

// CheckLiveness reports whether the process is responsive. It never runs
// dependency checks; a draining server is degraded, not dead.
func (pm *ProbeManager) CheckLiveness(context.Context) *ProbeResult {
	if pm.IsShuttingDown() {
		return pm.probe(StatusDegraded, nil)
	}
	return pm.probe(StatusHealthy, nil)
}

// CheckReadiness runs the dependency checks unless the server is draining.
func (pm *ProbeManager) CheckReadiness(ctx context.Context) *ProbeResult {
	if pm.IsShuttingDown() {
		return pm.probe(StatusUnhealthy, nil)
	}
	checks := pm.Check(ctx)
	return pm.probe(pm.OverallStatus(checks), checks)
}

// CheckStartup passes once MarkInitialized has been called.
func (pm *ProbeManager) CheckStartup(context.Context) *ProbeResult {
	if pm.IsInitialized() {
		return pm.probe(StatusHealthy, nil)
	}
	return pm.probe(StatusUnhealthy, nil)
}
