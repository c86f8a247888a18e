// Package pipeline sequences the stages of a check or benchmark run and
// derives the run's overall status.
//
// Stages run strictly in order: gate, resolve, (host lock), acquire,
// override, build/test or compare, publish, cleanup. Cleanup runs for every
// run that created a workspace, whatever happened before it.
package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/revcompare/internal/bench"
	"github.com/felixgeelhaar/revcompare/internal/buildtest"
	"github.com/felixgeelhaar/revcompare/internal/cleanup"
	"github.com/felixgeelhaar/revcompare/internal/config"
	"github.com/felixgeelhaar/revcompare/internal/domain"
	"github.com/felixgeelhaar/revcompare/internal/errors"
	"github.com/felixgeelhaar/revcompare/internal/gate"
	"github.com/felixgeelhaar/revcompare/internal/hooks"
	"github.com/felixgeelhaar/revcompare/internal/hostlock"
	"github.com/felixgeelhaar/revcompare/internal/log"
	"github.com/felixgeelhaar/revcompare/internal/manifest"
	"github.com/felixgeelhaar/revcompare/internal/metrics"
	"github.com/felixgeelhaar/revcompare/internal/report"
	"github.com/felixgeelhaar/revcompare/internal/revision"
	"github.com/felixgeelhaar/revcompare/internal/source"
	"github.com/felixgeelhaar/revcompare/internal/telemetry"
)

// Status is the overall outcome of a run. Failures carry the error kind of
// the stage that ended the run.
type Status string

const (
	StatusSuccess   Status = "success"
	StatusSkipped   Status = "skipped"
	StatusCancelled Status = "cancelled"
)

// Stage names
const (
	StageResolve   = "resolve"
	StageHostLock  = "host_lock"
	StageAcquire   = "acquire"
	StageOverride  = "override"
	StageBuildTest = "build_test"
	StageCompare   = "compare"
	StagePublish   = "publish"
	StageCleanup   = "cleanup"
)

// StageRecord is one executed stage
type StageRecord struct {
	Name     string
	Duration time.Duration
	Err      error
}

// Result is what a run produced
type Result struct {
	RunID   string
	Flow    domain.Flow
	Binding string
	PR      string

	Status Status
	// Err is the error that determined Status. Nil on success and skip.
	Err error
	// Reason explains a skipped run.
	Reason string
	// Warnings collects failures that do not change Status (publish,
	// cleanup, host release, hooks).
	Warnings []string
	Stages   []StageRecord

	Revisions domain.RevisionSet
	Sources   map[domain.Slot]domain.MaterializedSource
	Patches   []manifest.Patch
	Test      *buildtest.TestResult
	Report    *bench.BenchmarkReport
	Published report.Published
	Duration  time.Duration
}

// Failed reports whether the run ended in a failure status
func (r *Result) Failed() bool {
	return r.Status != StatusSuccess && r.Status != StatusSkipped
}

// Stage returns the record of the named stage
func (r *Result) Stage(name string) (StageRecord, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return StageRecord{}, false
}

// Publisher is the reporting sink
type Publisher interface {
	PublishCheck(ctx context.Context, rc domain.RunContext, runID, binding string, res *buildtest.TestResult, runErr error) (report.Published, error)
	PublishBenchmark(ctx context.Context, rc domain.RunContext, runID string, rep *bench.BenchmarkReport, runErr error) (report.Published, error)
}

// BuildTester runs a binding's setup and test scripts
type BuildTester interface {
	BuildAndTest(ctx context.Context, binding domain.MaterializedSource, toolchain string) (*buildtest.TestResult, error)
}

// Comparer runs the benchmark toolkit
type Comparer interface {
	RunComparison(ctx context.Context, trunk, branch bench.Pair, assets []bench.Asset) (*bench.BenchmarkReport, error)
}

// HostLock grants exclusive use of the benchmark host to benchmarks and
// shared use to build/test runs
type HostLock interface {
	Acquire(ctx context.Context, owner hostlock.Owner) (hostlock.Release, error)
	AcquireShared(ctx context.Context, owner hostlock.Owner) (hostlock.Release, error)
}

// Run is the per-invocation state handed to executor factories
type Run struct {
	ID        string
	Flow      domain.Flow
	Context   domain.RunContext
	Binding   config.BindingConfig
	Workspace *source.Workspace
	Logger    *log.Logger

	result *Result
}

// Runner executes runs. Materializer and Publisher are required; the
// executor factories default to the configured build/test and toolkit
// executors.
type Runner struct {
	Config       *config.Config
	Gate         *gate.Evaluator
	Materializer source.Materializer
	Publisher    Publisher
	HostLock     HostLock
	Stager       *bench.Stager
	Hooks        *hooks.Registry
	Metrics      *metrics.Metrics
	Logger       *log.Logger

	NewBuildTester func(ctx context.Context, run *Run) (BuildTester, error)
	NewComparer    func(ctx context.Context, run *Run) (Comparer, error)
	NewRunID       func() string
}

type flowFunc func(ctx context.Context, run *Run) error

// execute wraps a flow with the gate, hooks, metrics and status derivation
// shared by both flows.
func (r *Runner) execute(ctx context.Context, rc domain.RunContext, flow domain.Flow, bindingName string, body flowFunc) *Result {
	start := time.Now()
	id := r.newRunID()
	res := &Result{RunID: id, Flow: flow, Binding: bindingName, PR: rc.Key()}
	logger := r.logger().ForRun(id, rc.PR(), flow.String(), bindingName)

	ctx, span := telemetry.StartRunSpan(ctx, id, flow.String(), rc.Key())
	defer span.End()

	if r.Gate != nil {
		if d := r.Gate.Evaluate(rc); !d.Run {
			res.Status = StatusSkipped
			res.Reason = d.Reason
			logger.Info("gate closed", "reason", d.Reason)
			r.Metrics.ObserveRun(flow.String(), string(res.Status), time.Since(start))
			return res
		}
	}

	binding, err := r.Config.Binding(bindingName)
	if err != nil {
		return r.finish(ctx, &Run{ID: id, Flow: flow, Context: rc, Logger: logger, result: res}, start, err)
	}

	run := &Run{ID: id, Flow: flow, Context: rc, Binding: binding, Logger: logger, result: res}
	logger.Info("run started", "head", rc.HeadSHA())
	r.trigger(ctx, run, hooks.EventRunStart, nil)

	err = body(ctx, run)
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	return r.finish(ctx, run, start, err)
}

func (r *Runner) finish(ctx context.Context, run *Run, start time.Time, err error) *Result {
	res := run.result
	res.Err = err
	res.Status = statusOf(ctx, err)
	res.Duration = time.Since(start)

	r.Metrics.ObserveRun(run.Flow.String(), string(res.Status), res.Duration)

	data := map[string]string{"status": string(res.Status)}
	switch res.Status {
	case StatusSuccess:
		run.Logger.Info("run completed", "duration", res.Duration, "warnings", len(res.Warnings))
		r.trigger(ctx, run, hooks.EventRunComplete, data)
	case StatusCancelled:
		run.Logger.Warn("run cancelled", "duration", res.Duration)
		r.trigger(context.WithoutCancel(ctx), run, hooks.EventRunCancelled, data)
	default:
		run.Logger.WithError(err).Error("run failed", "status", res.Status, "duration", res.Duration)
		data["error"] = err.Error()
		r.trigger(ctx, run, hooks.EventRunFailed, data)
	}
	return res
}

func statusOf(ctx context.Context, err error) Status {
	switch {
	case err == nil:
		return StatusSuccess
	case ctx.Err() != nil, stderrors.Is(err, context.Canceled):
		return StatusCancelled
	default:
		return Status(errors.KindOf(err))
	}
}

// stage times fn and records it on the result and in metrics
func (r *Runner) stage(ctx context.Context, run *Run, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	d := time.Since(start)

	run.result.Stages = append(run.result.Stages, StageRecord{Name: name, Duration: d, Err: err})
	r.Metrics.ObserveStage(run.Flow.String(), name, d)
	if pe, ok := errors.As(err); ok {
		r.Metrics.RecordError(string(pe.Code), name)
	}
	return err
}

func (r *Runner) warn(run *Run, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	run.result.Warnings = append(run.result.Warnings, msg)
	run.Logger.Warn(msg)
}

// resolve parses directives from the pull request body and computes the
// revision set. It creates no state.
func (r *Runner) resolve(ctx context.Context, run *Run) (domain.RevisionSet, error) {
	var set domain.RevisionSet
	err := r.stage(ctx, run, StageResolve, func(context.Context) error {
		prefixes := make([]string, 0, len(r.Config.Bindings))
		for _, b := range r.Config.Bindings {
			prefixes = append(prefixes, b.DirectivePrefix)
		}
		directives, err := revision.NewGrammar(prefixes...).Parse(run.Context.Body())
		if err != nil {
			return err
		}
		set, err = revision.NewResolver(r.Config.Core.BaselineBranch).Resolve(run.Context, run.Binding.DirectivePrefix, directives)
		if err != nil {
			return err
		}
		run.Logger.Info("revisions resolved",
			"directives", directives.Keys(),
			"trunk_binding", set.TrunkBindingRef, "trunk_core", set.TrunkCoreRef,
			"branch_binding", set.BranchBindingRef, "branch_core", set.BranchCoreRef)
		return nil
	})
	run.result.Revisions = set
	return set, err
}

// workspace creates the run's directory namespace
func (r *Runner) workspace(run *Run) error {
	ws, err := source.NewWorkspace(r.Config.Workspace.Root, run.ID)
	if err != nil {
		return err
	}
	run.Workspace = ws
	return nil
}

func (r *Runner) acquire(ctx context.Context, run *Run, reqs []source.Request) (map[domain.Slot]domain.MaterializedSource, error) {
	var srcs map[domain.Slot]domain.MaterializedSource
	err := r.stage(ctx, run, StageAcquire, func(ctx context.Context) error {
		var err error
		srcs, err = source.AcquireAll(ctx, r.Materializer, reqs, run.Logger)
		return err
	})
	run.result.Sources = srcs
	return srcs, err
}

// override points every binding slot at the core checkout it is paired with
func (r *Runner) override(ctx context.Context, run *Run, pairs []bench.Pair) error {
	return r.stage(ctx, run, StageOverride, func(ctx context.Context) error {
		_, span := telemetry.StartStageSpan(ctx, StageOverride)
		defer span.End()

		spec := manifest.DependencySpec{
			Manifest:   run.Binding.Manifest,
			Dependency: run.Binding.Dependency,
			CrateDir:   run.Binding.CoreCrateDir,
		}
		for _, p := range pairs {
			patch, err := manifest.ApplyOverride(p.Binding, p.Core, spec)
			if err != nil {
				telemetry.RecordError(span, err)
				return err
			}
			run.result.Patches = append(run.result.Patches, patch)
			run.Logger.Info("dependency overridden", "slot", p.Binding.Slot, "manifest", patch.Manifest, "path", patch.Path, "changed", patch.Changed)
		}
		telemetry.RecordSuccess(span)
		return nil
	})
}

// publish never fails the run. A cancelled run publishes nothing.
func (r *Runner) publish(ctx context.Context, run *Run, fn func(ctx context.Context) (report.Published, error)) {
	if r.Publisher == nil {
		return
	}
	if ctx.Err() != nil {
		run.Logger.Info("run cancelled, not publishing")
		return
	}
	_ = r.stage(ctx, run, StagePublish, func(ctx context.Context) error {
		pub, err := fn(ctx)
		run.result.Published = pub
		if err != nil {
			code := ""
			if pe, ok := errors.As(err); ok {
				code = string(pe.Code)
			}
			if r.Metrics != nil {
				r.Metrics.PublishFailures.WithLabelValues(run.Flow.String(), code).Inc()
			}
			r.warn(run, "publish: %v", err)
		}
		return err
	})
}

// cleanup removes state and records failures as warnings. It ignores
// cancellation of ctx.
func (r *Runner) cleanup(ctx context.Context, run *Run, state cleanup.WorkingState) {
	ctx = context.WithoutCancel(ctx)
	_ = r.stage(ctx, run, StageCleanup, func(ctx context.Context) error {
		c := cleanup.Cleaner{
			Logger: run.Logger,
			OnFailure: func(f cleanup.Failure) {
				if r.Metrics != nil {
					r.Metrics.CleanupFailures.Inc()
				}
			},
		}
		s := c.Cleanup(ctx, state)
		for _, f := range s.Failures {
			r.warn(run, "cleanup: %s", f)
		}
		return nil
	})
}

// trigger runs lifecycle hooks; failures with the warn mode become warnings
func (r *Runner) trigger(ctx context.Context, run *Run, t hooks.EventType, data map[string]string) {
	if r.Hooks == nil {
		return
	}
	if data == nil {
		data = map[string]string{}
	}
	data["pr"] = run.Context.Key()
	data["head"] = run.Context.HeadSHA()
	data["flow"] = run.Flow.String()
	data["binding"] = run.Binding.Name

	for _, hr := range r.Hooks.Trigger(ctx, hooks.NewEvent(t, run.ID, data)) {
		if hr.Success {
			continue
		}
		if hr.FailureMode == "warn" {
			r.warn(run, "hook %s: %s", hr.HookName, hr.Error)
		} else {
			run.Logger.Debug("hook failed", "hook", hr.HookName, "error", hr.Error)
		}
	}
}

func (r *Runner) newRunID() string {
	if r.NewRunID != nil {
		return r.NewRunID()
	}
	return uuid.NewString()
}

func (r *Runner) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Discard()
}
