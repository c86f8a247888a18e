// Package buildtest runs a binding's setup and test scripts against a core
// revision.
package buildtest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/revcompare/internal/domain"
	perrors "github.com/felixgeelhaar/revcompare/internal/errors"
	"github.com/felixgeelhaar/revcompare/internal/exec"
	"github.com/felixgeelhaar/revcompare/internal/telemetry"
)

// DefaultTimeout is the wall-clock ceiling for setup plus test
const DefaultTimeout = 60 * time.Minute

// Stages of a build-and-test run
const (
	StageSetup = "setup"
	StageTest  = "test"
)

// Scripts are paths relative to the binding checkout
type Scripts struct {
	Setup string
	Test  string
}

// TestResult is the outcome of BuildAndTest
type TestResult struct {
	Passed bool
	// Stage is the last stage that ran.
	Stage    string
	ExitCode int
	TimedOut bool
	Output   string
	LogPath  string
	Duration time.Duration

	// Counts summed over every "test result:" line cargo printed.
	TestsPassed  int
	TestsFailed  int
	TestsIgnored int
}

// Executor runs the two scripts in sequence
type Executor struct {
	Exec    *exec.Executor
	Scripts Scripts
	// ToolchainEnv names the variable that carries the toolchain pin.
	ToolchainEnv string
	Timeout      time.Duration
	// LogDir receives <binding>-build-test.log.
	LogDir string
	// Mounts are extra host paths the steps need (the core checkout).
	Mounts []string
}

// BuildAndTest runs setup then test in binding's checkout under the pinned
// toolchain. A non-zero exit or timeout of either script is returned as a
// BuildTestFailure together with the partial result.
func (e *Executor) BuildAndTest(ctx context.Context, binding domain.MaterializedSource, toolchain string) (*TestResult, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ctx, span := telemetry.StartStageSpan(ctx, "build_test",
		attribute.String("binding.dir", binding.Dir),
		attribute.String("toolchain", toolchain),
	)
	defer span.End()

	result := &TestResult{}
	start := time.Now()
	defer func() { result.Duration = time.Since(start) }()

	var logFile *os.File
	if e.LogDir != "" {
		if err := os.MkdirAll(e.LogDir, 0750); err != nil {
			return result, perrors.Wrap(perrors.ErrCodeBuildSetupFailed, "failed to create log directory", err)
		}
		result.LogPath = filepath.Join(e.LogDir, string(binding.Slot)+"-build-test.log")
		f, err := os.Create(result.LogPath)
		if err != nil {
			return result, perrors.Wrap(perrors.ErrCodeBuildSetupFailed, "failed to create step log", err)
		}
		defer f.Close()
		logFile = f
	}

	env := map[string]string{"CI": "true"}
	if e.ToolchainEnv != "" && toolchain != "" {
		env[e.ToolchainEnv] = toolchain
	}

	steps := []struct {
		stage  string
		script string
		code   perrors.ErrorCode
	}{
		{StageSetup, e.Scripts.Setup, perrors.ErrCodeBuildSetupFailed},
		{StageTest, e.Scripts.Test, perrors.ErrCodeBuildTestFailed},
	}

	var output []byte
	for _, s := range steps {
		result.Stage = s.stage
		step := exec.Step{
			ID:      s.stage,
			Cmd:     []string{"bash", filepath.Join(binding.Dir, s.script)},
			Workdir: binding.Dir,
			Env:     env,
			Mounts:  e.Mounts,
		}
		if logFile != nil {
			step.Output = logFile
		}

		run, err := e.Exec.Execute(ctx, step, nil, nil)
		if run != nil && run.Result != nil {
			output = append(output, run.Result.Output...)
			result.ExitCode = run.Result.ExitCode
			result.TimedOut = run.Result.TimedOut
		}
		result.Output = string(output)

		if err != nil {
			telemetry.RecordError(span, err)
			switch {
			case result.TimedOut:
				return result, perrors.Wrap(perrors.ErrCodeBuildTimeout,
					fmt.Sprintf("%s did not finish within %s", s.script, timeout), err)
			case errors.Is(err, context.Canceled):
				return result, err
			default:
				return result, perrors.Wrap(s.code, "failed to run "+s.script, err)
			}
		}
		if result.ExitCode != 0 {
			err := perrors.NewBuildTestError(s.code, s.script, result.ExitCode)
			telemetry.RecordError(span, err)
			parseCargoSummary(result)
			return result, err
		}
	}

	parseCargoSummary(result)
	result.Passed = true
	telemetry.RecordSuccess(span, attribute.Int("tests.passed", result.TestsPassed))
	return result, nil
}

var cargoSummary = regexp.MustCompile(`test result: \w+\. (\d+) passed; (\d+) failed; (\d+) ignored`)

// parseCargoSummary sums cargo's per-crate summaries into result
func parseCargoSummary(result *TestResult) {
	result.TestsPassed, result.TestsFailed, result.TestsIgnored = 0, 0, 0
	for _, m := range cargoSummary.FindAllStringSubmatch(result.Output, -1) {
		p, _ := strconv.Atoi(m[1])
		f, _ := strconv.Atoi(m[2])
		i, _ := strconv.Atoi(m[3])
		result.TestsPassed += p
		result.TestsFailed += f
		result.TestsIgnored += i
	}
}
