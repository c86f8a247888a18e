package exec

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sort"
	"time"

	perrors "github.com/felixgeelhaar/revcompare/internal/errors"
)

// Runner executes a Step. A non-zero exit is reported in the Result with a
// nil error; errors mean the step could not be started or ran out of time.
type Runner interface {
	Name() string
	Run(ctx context.Context, step Step) (*Result, error)
}

// LocalRunner executes steps directly on the host.
type LocalRunner struct{}

// Name returns "local"
func (LocalRunner) Name() string { return RunnerLocal }

// Run executes step.Cmd in step.Workdir with the host environment plus step.Env
func (LocalRunner) Run(ctx context.Context, step Step) (*Result, error) {
	if len(step.Cmd) == 0 {
		return nil, perrors.New(perrors.ErrCodeExecStartFailed, "step "+step.ID+" has no command")
	}
	cmd := exec.Command(step.Cmd[0], step.Cmd[1:]...)
	cmd.Dir = step.Workdir
	cmd.Env = append(os.Environ(), envList(step.Env)...)
	return runCommand(ctx, cmd, step)
}

// runCommand starts cmd in its own process group so that a timeout or
// cancellation also stops the build tools it spawned.
func runCommand(ctx context.Context, cmd *exec.Cmd, step Step) (*Result, error) {
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}

	var out bytes.Buffer
	var w io.Writer = &out
	if step.Output != nil {
		w = io.MultiWriter(&out, step.Output)
	}
	cmd.Stdout = w
	cmd.Stderr = w
	setProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, perrors.Wrap(perrors.ErrCodeExecStartFailed, "failed to start "+cmd.Path, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		killProcessGroup(cmd)
		waitErr = <-done
	}

	result := &Result{
		ExitCode: exitCode(cmd, waitErr),
		Output:   out.String(),
		Duration: time.Since(start),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			result.TimedOut = true
			return result, perrors.Wrap(perrors.ErrCodeExecTimeout, "step "+step.ID+" exceeded "+step.Timeout.String(), ctxErr)
		}
		return result, ctxErr
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return result, perrors.Wrap(perrors.ErrCodeExecStartFailed, "step "+step.ID+" failed", waitErr)
	}
	return result, nil
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

// envList renders env as sorted KEY=value pairs
func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, k+"="+env[k])
	}
	return list
}

// NewRunner returns the runner for kind ("local" or "docker")
func NewRunner(kind string, defaults Step) (Runner, error) {
	switch kind {
	case "", RunnerLocal:
		return LocalRunner{}, nil
	case RunnerDocker:
		return &DockerRunner{Defaults: defaults}, nil
	default:
		return nil, perrors.NewConfigInvalidError("unknown runner " + kind + " (use local or docker)")
	}
}
