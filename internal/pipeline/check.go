package pipeline

import (
	"context"

	"github.com/felixgeelhaar/revcompare/internal/bench"
	"github.com/felixgeelhaar/revcompare/internal/buildtest"
	"github.com/felixgeelhaar/revcompare/internal/cleanup"
	"github.com/felixgeelhaar/revcompare/internal/domain"
	"github.com/felixgeelhaar/revcompare/internal/errors"
	"github.com/felixgeelhaar/revcompare/internal/exec"
	"github.com/felixgeelhaar/revcompare/internal/report"
	"github.com/felixgeelhaar/revcompare/internal/source"
)

// RunCheck builds and tests one binding against the candidate core.
// Acquisition covers two slots: the binding at its branch ref and the core
// at the branch core ref. The host is held in shared mode so no benchmark
// measures while the build runs.
func (r *Runner) RunCheck(ctx context.Context, rc domain.RunContext, binding string) *Result {
	return r.execute(ctx, rc, domain.FlowCheck, binding, r.check)
}

func (r *Runner) check(ctx context.Context, run *Run) error {
	set, err := r.resolve(ctx, run)
	if err != nil {
		return err
	}

	release, err := r.acquireHost(ctx, run, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := release(); err != nil {
			r.warn(run, "host release: %v", err)
		}
	}()

	if err := r.workspace(run); err != nil {
		return err
	}
	defer r.cleanup(ctx, run, cleanup.WorkingState{Dirs: []string{run.Workspace.Root()}})

	bindingRepo := run.Binding.Repo
	if set.BranchBindingRepo != "" {
		bindingRepo = set.BranchBindingRepo
	}
	srcs, err := r.acquire(ctx, run, []source.Request{
		{Slot: domain.SlotBinding, Repo: bindingRepo, Ref: set.BranchBindingRef, Submodules: run.Binding.Submodules, Dir: run.Workspace.Dir(domain.SlotBinding)},
		{Slot: domain.SlotCore, Repo: r.Config.Core.Repo, Ref: set.BranchCoreRef, Dir: run.Workspace.Dir(domain.SlotCore)},
	})
	if err != nil {
		return err
	}

	if err := r.override(ctx, run, []bench.Pair{
		{Binding: srcs[domain.SlotBinding], Core: srcs[domain.SlotCore]},
	}); err != nil {
		return err
	}

	var res *buildtest.TestResult
	runErr := r.stage(ctx, run, StageBuildTest, func(ctx context.Context) error {
		tester, err := r.buildTester(ctx, run)
		if err != nil {
			return errors.Wrap(errors.ErrCodeBuildSetupFailed, "failed to prepare the build runner", err)
		}
		res, err = tester.BuildAndTest(ctx, srcs[domain.SlotBinding], r.Config.Toolchain.Pin)
		return err
	})
	run.result.Test = res

	if res != nil {
		r.publish(ctx, run, func(ctx context.Context) (report.Published, error) {
			return r.Publisher.PublishCheck(ctx, run.Context, run.ID, run.Binding.Name, res, runErr)
		})
	}
	return runErr
}

func (r *Runner) buildTester(ctx context.Context, run *Run) (BuildTester, error) {
	if r.NewBuildTester != nil {
		return r.NewBuildTester(ctx, run)
	}

	bt := r.Config.BuildTest
	runner, err := exec.NewRunner(bt.Runner, exec.Step{Image: bt.Image, Network: bt.Network, CPU: bt.CPU, Mem: bt.Mem})
	if err != nil {
		return nil, err
	}
	if bt.Runner == exec.RunnerDocker {
		err := exec.EnsureImage(ctx, bt.Image)
		if r.Metrics != nil {
			r.Metrics.ImagePulls.WithLabelValues(bt.Image, boolLabel(err == nil)).Inc()
		}
		if err != nil {
			return nil, err
		}
	}

	return &buildtest.Executor{
		Exec: &exec.Executor{
			Runner:      runner,
			RunID:       run.ID,
			ManifestDir: run.Workspace.LogDir(),
			Logger:      run.Logger,
		},
		Scripts:      buildtest.Scripts{Setup: run.Binding.SetupScript, Test: run.Binding.TestScript},
		ToolchainEnv: r.Config.Toolchain.EnvVar,
		Timeout:      bt.Timeout,
		LogDir:       run.Workspace.LogDir(),
		Mounts:       []string{run.Workspace.Root()},
	}, nil
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
