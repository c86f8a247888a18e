// Package gate decides whether a pull request may consume pipeline resources.
package gate

import (
	"fmt"
	"slices"

	"github.com/felixgeelhaar/revcompare/internal/domain"
)

// DefaultLabels are the labels that approve a pull request for testing.
var DefaultLabels = []string{"PR-approved", "PR-benchmarking"}

// Evaluator holds the approved label and event sets.
type Evaluator struct {
	labels       []string
	events       []domain.EventKind
	targetBranch string
}

// New creates an Evaluator. An empty label list falls back to DefaultLabels;
// an empty event list accepts every supported trigger event.
func New(labels []string, events []string, targetBranch string) (*Evaluator, error) {
	if len(labels) == 0 {
		labels = DefaultLabels
	}
	e := &Evaluator{labels: slices.Clone(labels), targetBranch: targetBranch}
	for _, raw := range events {
		kind, err := domain.NewEventKind(raw)
		if err != nil {
			return nil, fmt.Errorf("gate events: %w", err)
		}
		e.events = append(e.events, kind)
	}
	return e, nil
}

// ShouldRun reports whether the run context carries an approved label.
// Missing label data fails closed.
func (e *Evaluator) ShouldRun(rc domain.RunContext) bool {
	if !rc.HasLabels() {
		return false
	}
	for _, label := range e.labels {
		if rc.HasLabel(label) {
			return true
		}
	}
	return false
}

// Decision is the full gate outcome with a reason suitable for logs.
type Decision struct {
	Run    bool
	Reason string
}

// Evaluate applies the event and target-branch filters before the label check.
func (e *Evaluator) Evaluate(rc domain.RunContext) Decision {
	if len(e.events) > 0 && !slices.Contains(e.events, rc.Event()) {
		return Decision{Reason: fmt.Sprintf("event %s is not a trigger", rc.Event())}
	}
	if e.targetBranch != "" && rc.BaseRef() != "" && rc.BaseRef() != e.targetBranch {
		return Decision{Reason: fmt.Sprintf("target branch %s is not %s", rc.BaseRef(), e.targetBranch)}
	}
	if !rc.HasLabels() {
		return Decision{Reason: "label data unavailable"}
	}
	if !e.ShouldRun(rc) {
		return Decision{Reason: fmt.Sprintf("none of the labels %v applied", e.labels)}
	}
	return Decision{Run: true, Reason: "approved"}
}

// ShouldRun evaluates rc against DefaultLabels.
func ShouldRun(rc domain.RunContext) bool {
	e, _ := New(nil, nil, "")
	return e.ShouldRun(rc)
}
