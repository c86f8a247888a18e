// Package health checks the host dependencies a revision comparison run needs:
// the git binary, the docker daemon, the benchmark toolkit and the workspace root.
//
// Example usage:
//
//	manager := health.NewManager()
//	manager.AddChecker(health.NewGitChecker())
//	manager.AddChecker(health.NewToolkitChecker(cfg.Bench.ToolkitDir, scripts...))
//	manager.AddChecker(health.NewWorkspaceChecker(cfg.Workspace.Root))
//
//	results := manager.Check(ctx)
//	for name, result := range results {
//	    log.Info("Health check", "name", name, "status", result.Status)
//	}
package health

import (
	"context"
	"time"
)

// Checker verifies one host dependency.
type Checker interface {
	// Name is lowercase with hyphens, e.g. "git-binary".
	Name() string

	// Check must honour the context deadline.
	Check(ctx context.Context) *Result
}

// Status is the outcome of a check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) String() string {
	return string(s)
}

// rank orders statuses from best to worst.
func (s Status) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Worst returns the most severe of the given statuses. No statuses is healthy
// and an unrecognised status counts as unhealthy.
func Worst(statuses ...Status) Status {
	worst := StatusHealthy
	for _, s := range statuses {
		if s.rank() > worst.rank() {
			worst = s
		}
	}
	if worst.rank() >= 2 {
		return StatusUnhealthy
	}
	return worst
}

// Result is what a Checker reports.
type Result struct {
	Status  Status         `json:"status"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Latency time.Duration  `json:"latency"`
}

// NewResult creates a result with an empty details map.
func NewResult(status Status, message string) *Result {
	return &Result{
		Status:  status,
		Message: message,
		Details: make(map[string]any),
	}
}

// WithDetail adds a detail and returns the result for chaining.
func (r *Result) WithDetail(key string, value any) *Result {
	r.Details[key] = value
	return r
}

// WithLatency sets the latency and returns the result for chaining.
func (r *Result) WithLatency(latency time.Duration) *Result {
	r.Latency = latency
	return r
}

func Healthy(message string) *Result   { return NewResult(StatusHealthy, message) }
func Degraded(message string) *Result  { return NewResult(StatusDegraded, message) }
func Unhealthy(message string) *Result { return NewResult(StatusUnhealthy, message) }
