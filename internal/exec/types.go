package exec

import (
	"io"
	"time"
)

// Runner kinds
const (
	RunnerLocal  = "local"
	RunnerDocker = "docker"
)

// Step represents one external command of a pipeline stage
type Step struct {
	ID      string
	Cmd     []string // Command and arguments
	Workdir string   // Working directory path
	Env     map[string]string
	Timeout time.Duration // Zero means no limit beyond the caller's context

	// Output, when set, receives the combined output as it is produced.
	Output io.Writer

	// Docker only
	Image   string
	Mounts  []string // Host paths bind-mounted at the same path in the container
	Network string   // Network mode
	CPU     string   // CPU limit
	Mem     string   // Memory limit
}

// Result represents the outcome of a step that started
type Result struct {
	ExitCode int
	Output   string // Combined stdout and stderr
	Duration time.Duration
	TimedOut bool
}

// Succeeded reports whether the step exited zero within its time limit
func (r *Result) Succeeded() bool {
	return r != nil && r.ExitCode == 0 && !r.TimedOut
}

// RunManifest is the audit record for one executed step
type RunManifest struct {
	Timestamp    time.Time         `json:"timestamp"`
	RunID        string            `json:"run_id,omitempty"`
	StepID       string            `json:"step_id"`
	Runner       string            `json:"runner"`
	Image        string            `json:"image,omitempty"`
	Command      []string          `json:"command"`
	Workdir      string            `json:"workdir,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
	ExitCode     int               `json:"exit_code"`
	TimedOut     bool              `json:"timed_out,omitempty"`
	Duration     string            `json:"duration"`
	InputHashes  map[string]string `json:"input_hashes"`
	OutputHashes map[string]string `json:"output_hashes"`
}
