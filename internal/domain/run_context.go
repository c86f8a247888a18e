package domain

import (
	"fmt"
	"slices"
	"strings"
)

// RunContext identifies one pipeline invocation. It is built once at trigger
// time and exposes read-only accessors so that no stage can mutate it.
type RunContext struct {
	owner     string
	repo      string
	pr        int
	headSHA   string
	baseRef   string
	event     EventKind
	labels    []string
	hasLabels bool
	body      string
}

// RunContextParams carries the raw trigger data used to build a RunContext.
type RunContextParams struct {
	Owner   string
	Repo    string
	PR      int
	HeadSHA string
	BaseRef string
	Event   EventKind
	// Labels is nil when label data was not available from the trigger.
	Labels []string
	// Body is the pull-request description; override directives are read from it.
	Body string
}

// NewRunContext validates params and returns an immutable RunContext
func NewRunContext(p RunContextParams) (RunContext, error) {
	if p.PR <= 0 {
		return RunContext{}, fmt.Errorf("pull request number must be positive, got %d", p.PR)
	}
	if strings.TrimSpace(p.HeadSHA) == "" {
		return RunContext{}, fmt.Errorf("head commit is required")
	}
	if err := p.Event.Validate(); err != nil {
		return RunContext{}, err
	}

	rc := RunContext{
		owner:     p.Owner,
		repo:      p.Repo,
		pr:        p.PR,
		headSHA:   strings.TrimSpace(p.HeadSHA),
		baseRef:   p.BaseRef,
		event:     p.Event,
		hasLabels: p.Labels != nil,
		body:      p.Body,
	}
	if p.Labels != nil {
		rc.labels = slices.Clone(p.Labels)
	}
	return rc, nil
}

func (rc RunContext) Owner() string     { return rc.owner }
func (rc RunContext) Repo() string      { return rc.repo }
func (rc RunContext) PR() int           { return rc.pr }
func (rc RunContext) HeadSHA() string   { return rc.headSHA }
func (rc RunContext) BaseRef() string   { return rc.baseRef }
func (rc RunContext) Event() EventKind  { return rc.event }
func (rc RunContext) Body() string      { return rc.body }
func (rc RunContext) HasLabels() bool   { return rc.hasLabels }
func (rc RunContext) Labels() []string  { return slices.Clone(rc.labels) }

// Key identifies the pull request across runs; newer runs with the same key supersede older ones.
func (rc RunContext) Key() string {
	return fmt.Sprintf("%s/%s#%d", rc.owner, rc.repo, rc.pr)
}

// HasLabel reports whether the label is applied
func (rc RunContext) HasLabel(name string) bool {
	return slices.Contains(rc.labels, name)
}
