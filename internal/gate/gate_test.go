package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/revcompare/internal/domain"
)

func runContext(t *testing.T, event domain.EventKind, base string, labels []string) domain.RunContext {
	t.Helper()
	rc, err := domain.NewRunContext(domain.RunContextParams{
		Owner: "mmtk", Repo: "mmtk-core", PR: 12, HeadSHA: "deadbeef",
		BaseRef: base, Event: event, Labels: labels,
	})
	require.NoError(t, err)
	return rc
}

func TestShouldRun(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   bool
	}{
		{name: "needs-work only", labels: []string{"needs-work"}, want: false},
		{name: "approved", labels: []string{"PR-approved"}, want: true},
		{name: "benchmarking", labels: []string{"PR-benchmarking"}, want: true},
		{name: "both plus others", labels: []string{"docs", "PR-benchmarking", "PR-approved"}, want: true},
		{name: "empty set", labels: []string{}, want: false},
		{name: "label data unavailable", labels: nil, want: false},
		{name: "case sensitive", labels: []string{"pr-approved"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := runContext(t, domain.EventLabeled, "master", tt.labels)
			assert.Equal(t, tt.want, ShouldRun(rc))
		})
	}
}

func TestEvaluate(t *testing.T) {
	e, err := New([]string{"PR-approved"}, []string{"opened", "labeled"}, "master")
	require.NoError(t, err)

	tests := []struct {
		name   string
		event  domain.EventKind
		base   string
		labels []string
		want   bool
		reason string
	}{
		{name: "approved opened", event: domain.EventOpened, base: "master", labels: []string{"PR-approved"}, want: true, reason: "approved"},
		{name: "event filtered", event: domain.EventSynchronize, base: "master", labels: []string{"PR-approved"}, reason: "not a trigger"},
		{name: "other target branch", event: domain.EventOpened, base: "release", labels: []string{"PR-approved"}, reason: "target branch"},
		{name: "unlabeled", event: domain.EventOpened, base: "master", labels: []string{"wip"}, reason: "none of the labels"},
		{name: "no label data", event: domain.EventLabeled, base: "master", labels: nil, reason: "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := e.Evaluate(runContext(t, tt.event, tt.base, tt.labels))
			assert.Equal(t, tt.want, d.Run)
			assert.Contains(t, d.Reason, tt.reason)
		})
	}
}

func TestNewRejectsUnknownEvent(t *testing.T) {
	_, err := New(nil, []string{"closed"}, "")
	assert.Error(t, err)
}
