package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"github.com/felixgeelhaar/revcompare/internal/bench"
	"github.com/felixgeelhaar/revcompare/internal/cleanup"
	"github.com/felixgeelhaar/revcompare/internal/domain"
	"github.com/felixgeelhaar/revcompare/internal/errors"
	"github.com/felixgeelhaar/revcompare/internal/exec"
	"github.com/felixgeelhaar/revcompare/internal/hostlock"
	"github.com/felixgeelhaar/revcompare/internal/report"
	"github.com/felixgeelhaar/revcompare/internal/source"
)

// RunBenchmark compares trunk and branch for one binding. The host is owned
// from before acquisition until after cleanup.
func (r *Runner) RunBenchmark(ctx context.Context, rc domain.RunContext, binding string) *Result {
	return r.execute(ctx, rc, domain.FlowBench, binding, r.benchmark)
}

func (r *Runner) benchmark(ctx context.Context, run *Run) error {
	set, err := r.resolve(ctx, run)
	if err != nil {
		return err
	}

	release, err := r.acquireHost(ctx, run, false)
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
	toolkitLogs := r.toolkitLogDir()
	reportPath := run.Workspace.Path(run.Binding.Name + "-compare-report.md")
	defer r.cleanup(ctx, run, cleanup.WorkingState{
		Dirs:      []string{run.Workspace.Root()},
		Files:     []string{reportPath},
		EmptyDirs: []string{toolkitLogs},
	})

	bindingRepo := run.Binding.Repo
	branchBindingRepo := bindingRepo
	if set.BranchBindingRepo != "" {
		branchBindingRepo = set.BranchBindingRepo
	}
	ws := run.Workspace
	srcs, err := r.acquire(ctx, run, []source.Request{
		{Slot: domain.SlotTrunkBinding, Repo: bindingRepo, Ref: set.TrunkBindingRef, Submodules: run.Binding.Submodules, Dir: ws.Dir(domain.SlotTrunkBinding)},
		{Slot: domain.SlotTrunkCore, Repo: r.Config.Core.Repo, Ref: set.TrunkCoreRef, Dir: ws.Dir(domain.SlotTrunkCore)},
		{Slot: domain.SlotBranchBinding, Repo: branchBindingRepo, Ref: set.BranchBindingRef, Submodules: run.Binding.Submodules, Dir: ws.Dir(domain.SlotBranchBinding)},
		{Slot: domain.SlotBranchCore, Repo: r.Config.Core.Repo, Ref: set.BranchCoreRef, Dir: ws.Dir(domain.SlotBranchCore)},
	})
	if err != nil {
		return err
	}

	trunk := bench.Pair{Binding: srcs[domain.SlotTrunkBinding], Core: srcs[domain.SlotTrunkCore]}
	branch := bench.Pair{Binding: srcs[domain.SlotBranchBinding], Core: srcs[domain.SlotBranchCore]}
	if err := r.override(ctx, run, []bench.Pair{trunk, branch}); err != nil {
		return err
	}

	var rep *bench.BenchmarkReport
	runErr := r.stage(ctx, run, StageCompare, func(ctx context.Context) error {
		// A crashed earlier run may have left logs behind.
		stale := cleanup.Cleaner{Logger: run.Logger}
		stale.Cleanup(ctx, cleanup.WorkingState{EmptyDirs: []string{toolkitLogs}})

		comparer, err := r.comparer(ctx, run, reportPath, toolkitLogs)
		if err != nil {
			return errors.Wrap(errors.ErrCodeBenchToolkit, "failed to prepare the comparison toolkit", err)
		}
		rep, err = comparer.RunComparison(ctx, trunk, branch, r.assets())
		return err
	})
	if rep == nil {
		rep = &bench.BenchmarkReport{Binding: run.Binding.Name, ReportPath: reportPath, LogDir: toolkitLogs}
	}
	run.result.Report = rep

	r.publish(ctx, run, func(ctx context.Context) (report.Published, error) {
		return r.Publisher.PublishBenchmark(ctx, run.Context, run.ID, rep, runErr)
	})
	return runErr
}

// acquireHost takes the host lock, shared for build/test runs and exclusive
// for benchmarks.
func (r *Runner) acquireHost(ctx context.Context, run *Run, shared bool) (hostlock.Release, error) {
	if r.HostLock == nil {
		return func() error { return nil }, nil
	}

	acquire := r.HostLock.Acquire
	if shared {
		acquire = r.HostLock.AcquireShared
	}
	var release hostlock.Release
	err := r.stage(ctx, run, StageHostLock, func(ctx context.Context) error {
		start := time.Now()
		var err error
		release, err = acquire(ctx, hostlock.Owner{RunID: run.ID, PR: run.Context.Key()})
		if r.Metrics != nil {
			r.Metrics.HostLockWait.Observe(time.Since(start).Seconds())
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if shared {
		return release, nil
	}

	if r.Metrics != nil {
		r.Metrics.HostLockHeld.Set(1)
	}
	return func() error {
		if r.Metrics != nil {
			r.Metrics.HostLockHeld.Set(0)
		}
		return release()
	}, nil
}

func (r *Runner) comparer(ctx context.Context, run *Run, reportPath, logDir string) (Comparer, error) {
	if r.NewComparer != nil {
		return r.NewComparer(ctx, run)
	}

	stager := r.Stager
	if stager == nil {
		stager = &bench.Stager{ToolkitDir: r.Config.Bench.ToolkitDir, Logger: run.Logger}
	}
	return &bench.Executor{
		Exec: &exec.Executor{
			Runner:      exec.LocalRunner{},
			RunID:       run.ID,
			ManifestDir: run.Workspace.LogDir(),
			Logger:      run.Logger,
		},
		Stager:        stager,
		Binding:       run.Binding.Name,
		ToolkitDir:    r.Config.Bench.ToolkitDir,
		CompareScript: run.Binding.CompareScript,
		LogDir:        logDir,
		ReportPath:    reportPath,
		ToolchainEnv:  r.Config.Toolchain.EnvVar,
		Toolchain:     r.Config.Toolchain.Pin,
		Timeout:       r.Config.Bench.Timeout,
	}, nil
}

func (r *Runner) toolkitLogDir() string {
	if filepath.IsAbs(r.Config.Bench.LogDir) {
		return r.Config.Bench.LogDir
	}
	return filepath.Join(r.Config.Bench.ToolkitDir, r.Config.Bench.LogDir)
}

func (r *Runner) assets() []bench.Asset {
	assets := make([]bench.Asset, 0, len(r.Config.Bench.Assets))
	for _, a := range r.Config.Bench.Assets {
		assets = append(assets, bench.Asset{Source: a.Source, Dest: a.Dest})
	}
	return assets
}
