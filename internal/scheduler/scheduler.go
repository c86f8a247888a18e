// Package scheduler queues gated runs and executes them with bounded
// concurrency. A newer submission for the same pull request, flow and
// binding supersedes the older one: a queued job is dropped and a running
// job is cancelled (its cleanup still runs).
package scheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"sync"

	"github.com/felixgeelhaar/revcompare/internal/domain"
	"github.com/felixgeelhaar/revcompare/internal/log"
	"github.com/felixgeelhaar/revcompare/internal/metrics"
	"github.com/felixgeelhaar/revcompare/internal/pipeline"
)

// ErrQueueFull is returned by Submit when no more jobs can wait
var ErrQueueFull = stderrors.New("scheduler queue is full")

// Job is one requested run
type Job struct {
	RC      domain.RunContext
	Flow    domain.Flow
	Binding string
}

// Key identifies jobs that supersede each other
func (j Job) Key() string {
	return fmt.Sprintf("%s/%s/%s", j.RC.Key(), j.Flow, j.Binding)
}

// RunFunc executes a job
type RunFunc func(ctx context.Context, job Job) *pipeline.Result

// ForRunner dispatches jobs to the flow they name
func ForRunner(r *pipeline.Runner) RunFunc {
	return func(ctx context.Context, job Job) *pipeline.Result {
		if job.Flow == domain.FlowBench {
			return r.RunBenchmark(ctx, job.RC, job.Binding)
		}
		return r.RunCheck(ctx, job.RC, job.Binding)
	}
}

// Options configures a Scheduler
type Options struct {
	MaxConcurrent int
	QueueSize     int
	Metrics       *metrics.Metrics
	Logger        *log.Logger
	// OnResult is called after every finished job.
	OnResult func(Job, *pipeline.Result)
}

type entry struct {
	job        Job
	cancel     context.CancelFunc
	superseded bool
}

// Scheduler is the explicit loop between trigger and pipeline
type Scheduler struct {
	run  RunFunc
	opts Options

	mu      sync.Mutex
	pending []*entry
	active  map[string]*entry
	wake    chan struct{}
	wg      sync.WaitGroup
}

// New creates a Scheduler. Run must be called to start executing jobs.
func New(run RunFunc, opts Options) *Scheduler {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = log.Discard()
	}
	return &Scheduler{
		run:    run,
		opts:   opts,
		active: make(map[string]*entry),
		wake:   make(chan struct{}, 1),
	}
}

// Submit queues job, superseding any queued or running job with the same key.
// A full queue rejects job and leaves the superseded candidates untouched.
func (s *Scheduler) Submit(job Job) error {
	key := job.Key()

	s.mu.Lock()
	others := 0
	for _, e := range s.pending {
		if e.job.Key() != key {
			others++
		}
	}
	if others >= s.opts.QueueSize {
		s.mu.Unlock()
		return ErrQueueFull
	}

	s.pending = slices.DeleteFunc(s.pending, func(e *entry) bool {
		if e.job.Key() != key {
			return false
		}
		s.opts.Logger.Info("queued run superseded", "key", key, "head", e.job.RC.HeadSHA())
		s.countSuperseded()
		return true
	})
	if a, ok := s.active[key]; ok && !a.superseded {
		a.superseded = true
		a.cancel()
		s.opts.Logger.Info("running run superseded", "key", key, "head", a.job.RC.HeadSHA())
		s.countSuperseded()
	}
	s.pending = append(s.pending, &entry{job: job})
	s.updateGauges()
	s.mu.Unlock()

	s.signal()
	return nil
}

// Run executes jobs until ctx is done, then cancels running jobs and waits
// for them to finish their cleanup.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		s.dispatch(ctx)
		select {
		case <-ctx.Done():
			s.mu.Lock()
			for _, e := range s.active {
				e.cancel()
			}
			s.mu.Unlock()
			s.wg.Wait()
			return ctx.Err()
		case <-s.wake:
		}
	}
}

// Pending returns the number of queued jobs
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Active returns the number of running jobs
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// dispatch starts queued jobs while slots are free. A job whose key is
// still running (being cancelled) waits so the two never overlap.
func (s *Scheduler) dispatch(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < len(s.pending) && len(s.active) < s.opts.MaxConcurrent; {
		e := s.pending[i]
		key := e.job.Key()
		if _, busy := s.active[key]; busy {
			i++
			continue
		}
		s.pending = slices.Delete(s.pending, i, i+1)

		runCtx, cancel := context.WithCancel(ctx)
		e.cancel = cancel
		s.active[key] = e
		s.wg.Add(1)
		go s.execute(runCtx, e)
	}
	s.updateGauges()
}

func (s *Scheduler) execute(ctx context.Context, e *entry) {
	defer s.wg.Done()
	defer e.cancel()

	res := s.run(ctx, e.job)

	s.mu.Lock()
	delete(s.active, e.job.Key())
	s.updateGauges()
	s.mu.Unlock()

	if res != nil {
		s.opts.Logger.Info("run finished", "key", e.job.Key(), "run_id", res.RunID, "status", res.Status)
	}
	if s.opts.OnResult != nil {
		s.opts.OnResult(e.job, res)
	}
	s.signal()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) countSuperseded() {
	if s.opts.Metrics != nil {
		s.opts.Metrics.SupersededRuns.Inc()
	}
}

func (s *Scheduler) updateGauges() {
	if s.opts.Metrics == nil {
		return
	}
	s.opts.Metrics.QueuedRuns.Set(float64(len(s.pending)))
	s.opts.Metrics.ActiveRuns.Set(float64(len(s.active)))
}
