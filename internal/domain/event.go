package domain

import "fmt"

// EventKind is the pull-request lifecycle event that triggered a run.
type EventKind string

// Supported trigger events
const (
	EventOpened      EventKind = "opened"
	EventSynchronize EventKind = "synchronize"
	EventReopened    EventKind = "reopened"
	EventLabeled     EventKind = "labeled"
)

// NewEventKind creates an EventKind with validation
func NewEventKind(value string) (EventKind, error) {
	e := EventKind(value)
	if err := e.Validate(); err != nil {
		return "", err
	}
	return e, nil
}

// Validate checks if the event kind is one the pipeline reacts to
func (e EventKind) Validate() error {
	switch e {
	case EventOpened, EventSynchronize, EventReopened, EventLabeled:
		return nil
	default:
		return fmt.Errorf("unsupported event %q: must be opened, synchronize, reopened, or labeled", string(e))
	}
}

// String returns the string representation
func (e EventKind) String() string {
	return string(e)
}

// Flow names which of the two pipelines a run executes.
type Flow string

const (
	FlowCheck Flow = "check" // build & test the binding against the candidate core
	FlowBench Flow = "bench" // benchmark trunk vs branch
)

// String returns the string representation
func (f Flow) String() string {
	return string(f)
}
