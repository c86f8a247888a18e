// Package hooks notifies external systems about pipeline run lifecycle events.
// Hook failures are reported back to the caller and never change a run's outcome.
package hooks

import (
	"context"
	"slices"
	"time"
)

// EventType represents the type of lifecycle event
type EventType string

const (
	EventRunStart     EventType = "run_start"
	EventRunComplete  EventType = "run_complete"
	EventRunFailed    EventType = "run_failed"
	EventRunCancelled EventType = "run_cancelled"
)

// Event represents a lifecycle event that can trigger hooks
type Event struct {
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	RunID     string            `json:"runId"`
	Data      map[string]string `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType EventType, runID string, data map[string]string) *Event {
	if data == nil {
		data = make(map[string]string)
	}
	return &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     runID,
		Data:      data,
	}
}

// Hook is the interface that all hooks must implement
type Hook interface {
	Name() string
	EventTypes() []EventType
	Execute(ctx context.Context, event *Event) error
}

// HookConfig represents hook configuration
type HookConfig struct {
	Name    string         `yaml:"name" json:"name"`
	Type    string         `yaml:"type" json:"type"` // script or webhook
	Events  []EventType    `yaml:"events" json:"events"`
	Enabled bool           `yaml:"enabled" json:"enabled"`
	Config  map[string]any `yaml:"config" json:"config"`
	Timeout time.Duration  `yaml:"timeout" json:"timeout"`

	// FailureMode determines how a failed hook is reported
	// "ignore" - log at debug level
	// "warn"   - log a warning and surface it on the run result
	FailureMode string `yaml:"failureMode" json:"failureMode"`
}

// ExecutionResult contains the result of hook execution
type ExecutionResult struct {
	HookName    string        `json:"hookName"`
	EventType   EventType     `json:"eventType"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
	FailureMode string        `json:"failureMode"`
}

// HookFactory creates hooks from configuration
type HookFactory func(config *HookConfig) (Hook, error)

// DefaultTimeout is the default hook execution timeout
const DefaultTimeout = 30 * time.Second

// ValidFailureModes defines valid failure modes
var ValidFailureModes = []string{"ignore", "warn"}

// IsValidFailureMode checks if a failure mode is valid
func IsValidFailureMode(mode string) bool {
	return slices.Contains(ValidFailureModes, mode)
}
