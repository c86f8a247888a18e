// Package bench runs the comparison toolkit over a trunk pair and a branch
// pair of checkouts.
package bench

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/revcompare/internal/domain"
	perrors "github.com/felixgeelhaar/revcompare/internal/errors"
	"github.com/felixgeelhaar/revcompare/internal/exec"
	"github.com/felixgeelhaar/revcompare/internal/telemetry"
)

// Pair is a binding checkout and the core checkout it was overridden to use
type Pair struct {
	Binding domain.MaterializedSource
	Core    domain.MaterializedSource
}

// BenchmarkReport is what one toolkit invocation produced. Its contents are
// opaque; only the paths matter downstream.
type BenchmarkReport struct {
	Binding    string
	ReportPath string
	LogDir     string
	// Output is the toolkit's console output.
	Output   string
	ExitCode int
	Duration time.Duration
}

// HasReport reports whether the toolkit wrote a report file
func (r *BenchmarkReport) HasReport() bool {
	if r == nil || r.ReportPath == "" {
		return false
	}
	_, err := os.Stat(r.ReportPath)
	return err == nil
}

// Executor runs the comparison script for one binding
type Executor struct {
	Exec   *exec.Executor
	Stager *Stager

	Binding       string
	ToolkitDir    string
	CompareScript string // relative to ToolkitDir
	LogDir        string // where the toolkit writes raw logs
	ReportPath    string
	ToolchainEnv  string
	Toolchain     string
	Timeout       time.Duration
}

// RunComparison stages assets then invokes
//
//	<toolkit>/<script> <trunk binding> <trunk core> <branch binding> <branch core> <report>
//
// It is single-shot. The returned report is non-nil even on failure so that
// whatever logs exist can still be published.
func (e *Executor) RunComparison(ctx context.Context, trunk, branch Pair, assets []Asset) (*BenchmarkReport, error) {
	report := &BenchmarkReport{Binding: e.Binding, ReportPath: e.ReportPath, LogDir: e.LogDir}

	ctx, span := telemetry.StartStageSpan(ctx, "compare",
		attribute.String("binding", e.Binding),
		attribute.String("trunk.core", trunk.Core.Commit),
		attribute.String("branch.core", branch.Core.Commit),
	)
	defer span.End()

	if e.Stager != nil && len(assets) > 0 {
		if _, err := e.Stager.Stage(ctx, assets); err != nil {
			telemetry.RecordError(span, err)
			return report, err
		}
	}

	if err := os.MkdirAll(e.LogDir, 0750); err != nil {
		return report, perrors.Wrap(perrors.ErrCodeBenchToolkit, "failed to create toolkit log dir", err)
	}
	if err := os.MkdirAll(filepath.Dir(e.ReportPath), 0750); err != nil {
		return report, perrors.Wrap(perrors.ErrCodeBenchToolkit, "failed to create report dir", err)
	}

	env := map[string]string{}
	if e.ToolchainEnv != "" && e.Toolchain != "" {
		env[e.ToolchainEnv] = e.Toolchain
	}

	script := filepath.Join(e.ToolkitDir, e.CompareScript)
	step := exec.Step{
		ID: e.Binding + "-compare",
		Cmd: []string{"bash", script,
			trunk.Binding.Dir, trunk.Core.Dir,
			branch.Binding.Dir, branch.Core.Dir,
			e.ReportPath,
		},
		Workdir: e.ToolkitDir,
		Env:     env,
		Timeout: e.Timeout,
	}

	run, err := e.Exec.Execute(ctx, step, nil, map[string]string{"report": e.ReportPath})
	if run != nil && run.Result != nil {
		report.Output = run.Result.Output
		report.ExitCode = run.Result.ExitCode
		report.Duration = run.Result.Duration
	}

	switch {
	case err != nil && errors.Is(err, context.Canceled):
		return report, err
	case err != nil:
		err = perrors.NewBenchmarkError(script, report.ExitCode, err)
	case report.ExitCode != 0:
		err = perrors.NewBenchmarkError(script, report.ExitCode, nil)
	case !report.HasReport():
		err = perrors.New(perrors.ErrCodeBenchNoReport, fmt.Sprintf("%s exited 0 but wrote no report at %s", script, e.ReportPath))
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return report, err
	}

	telemetry.RecordSuccess(span)
	return report, nil
}
