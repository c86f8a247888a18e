package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/felixgeelhaar/revcompare/internal/pipeline"
)

var (
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	passStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

func statusStyle(s pipeline.Status) lipgloss.Style {
	switch s {
	case pipeline.StatusSuccess:
		return passStyle
	case pipeline.StatusSkipped, pipeline.StatusCancelled:
		return mutedStyle
	default:
		return failStyle
	}
}

// renderSummary prints one row per run followed by the stages, warnings and
// error of each run.
func renderSummary(w io.Writer, results []*pipeline.Result) {
	if len(results) == 0 {
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("FLOW", "BINDING", "PR", "STATUS", "DURATION", "RUN")
	for _, r := range results {
		t.Row(
			r.Flow.String(),
			r.Binding,
			r.PR,
			statusStyle(r.Status).Render(string(r.Status)),
			r.Duration.Round(time.Millisecond).String(),
			r.RunID,
		)
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Run summary") + "\n")
	b.WriteString(t.Render() + "\n")

	for _, r := range results {
		details := runDetails(r)
		if details == "" {
			continue
		}
		b.WriteString("\n" + titleStyle.Render(fmt.Sprintf("%s/%s", r.Flow, r.Binding)) + "\n")
		b.WriteString(details)
	}
	fmt.Fprint(w, b.String())
}

func runDetails(r *pipeline.Result) string {
	var b strings.Builder
	if r.Reason != "" {
		fmt.Fprintf(&b, "  %s %s\n", mutedStyle.Render("reason:"), r.Reason)
	}
	if len(r.Stages) > 0 {
		parts := make([]string, 0, len(r.Stages))
		for _, s := range r.Stages {
			mark := passStyle.Render("ok")
			if s.Err != nil {
				mark = failStyle.Render("failed")
			}
			parts = append(parts, fmt.Sprintf("%s %s (%s)", s.Name, mark, s.Duration.Round(time.Millisecond)))
		}
		fmt.Fprintf(&b, "  %s %s\n", mutedStyle.Render("stages:"), strings.Join(parts, ", "))
	}
	if set := r.Revisions; set.BranchCoreRef != "" {
		fmt.Fprintf(&b, "  %s core %s..%s, binding %s..%s\n", mutedStyle.Render("revisions:"),
			set.TrunkCoreRef, set.BranchCoreRef, set.TrunkBindingRef, set.BranchBindingRef)
	}
	for _, a := range r.Published.Artifacts {
		fmt.Fprintf(&b, "  %s %s\n", mutedStyle.Render("artifact:"), a.Location)
	}
	for _, warning := range r.Warnings {
		fmt.Fprintf(&b, "  %s %s\n", warningStyle.Render("warning:"), warning)
	}
	if r.Err != nil {
		fmt.Fprintf(&b, "  %s %s\n", failStyle.Render("error:"), strings.SplitN(r.Err.Error(), "\n", 2)[0])
	}
	return b.String()
}

// runError is returned by check and bench when a run failed, so the process
// exit code names the failure kind.
type runError struct {
	result *pipeline.Result
}

func (e *runError) Error() string {
	r := e.result
	if r.Err == nil {
		return fmt.Sprintf("%s run for %s %s", r.Flow, r.Binding, r.Status)
	}
	return fmt.Sprintf("%s run for %s %s: %v", r.Flow, r.Binding, r.Status, r.Err)
}

func (e *runError) Unwrap() error { return e.result.Err }

// ExitCode implements exitcode.Coder
func (e *runError) ExitCode() int { return exitCodeFor(e.result.Status) }

// firstFailure returns a runError for the first failed run, or nil
func firstFailure(results []*pipeline.Result) error {
	for _, r := range results {
		if r.Failed() {
			return &runError{result: r}
		}
	}
	return nil
}
