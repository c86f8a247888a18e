package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/revcompare/internal/config"
	"github.com/felixgeelhaar/revcompare/internal/domain"
	"github.com/felixgeelhaar/revcompare/internal/errors"
	"github.com/felixgeelhaar/revcompare/internal/gate"
	"github.com/felixgeelhaar/revcompare/internal/health"
	"github.com/felixgeelhaar/revcompare/internal/metrics"
	"github.com/felixgeelhaar/revcompare/internal/pipeline"
	"github.com/felixgeelhaar/revcompare/internal/scheduler"
	"github.com/felixgeelhaar/revcompare/internal/server"
	"github.com/felixgeelhaar/revcompare/internal/version"
)

var serveAddress string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run pipelines from GitHub pull_request webhooks",
	Long: `Start an HTTP server that accepts signed GitHub webhook deliveries and
schedules a run per configured flow and binding for every approved pull
request event. A newer push to the same pull request cancels the run it
supersedes; cancelled runs still clean up.

Endpoints:
  POST /webhook        GitHub webhook receiver (X-Hub-Signature-256 required)
  GET  /health/live    liveness probe
  GET  /health/ready   readiness probe (git, docker, toolkit, workspace)
  GET  /health/startup startup probe
  GET  /metrics        Prometheus metrics

The webhook secret is read from the environment variable named by
github.webhook_secret_env. SIGTERM drains connections, cancels running
pipelines and waits for their cleanup.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddress, "address", "", "listen address (default server.address)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	defer initTelemetry(cmd.Context(), cfg, logger)()

	secret := cfg.GitHub.WebhookSecret()
	if secret == "" {
		return errors.NewConfigInvalidError(fmt.Sprintf("webhook secret is empty; export %s", cfg.GitHub.WebhookSecretEnv))
	}

	m := metrics.InitDefault()
	runner, err := newRunner(cmd.Context(), cfg, logger, m)
	if err != nil {
		return err
	}
	g, err := gate.New(cfg.Gate.Labels, cfg.Gate.Events, cfg.Gate.TargetBranch)
	if err != nil {
		return errors.Wrap(errors.ErrCodeConfigInvalid, "gate", err)
	}
	bindings, err := bindingNames(cfg, nil)
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.ForRunner(runner), scheduler.Options{
		MaxConcurrent: cfg.Scheduler.MaxConcurrent,
		QueueSize:     cfg.Scheduler.QueueSize,
		Metrics:       m,
		Logger:        logger,
		OnResult: func(job scheduler.Job, res *pipeline.Result) {
			logger.Info("scheduled run finished",
				"key", job.Key(), "run_id", res.RunID, "status", res.Status, "duration", res.Duration)
		},
	})

	info := version.GetInfo()
	pm := health.NewProbeManager(info.Version)
	for _, c := range healthCheckers(cfg) {
		pm.AddChecker(c)
	}

	addr := cfg.Server.Address
	if serveAddress != "" {
		addr = serveAddress
	}
	srv := server.NewServer(pm, server.Config{
		Address:         addr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Webhook: &server.Webhook{
			Secret:    []byte(secret),
			Gate:      g,
			Submitter: sched,
			Bindings:  bindings,
			Flows:     serverFlows(cfg),
			Metrics:   m,
			Logger:    logger,
		},
		Metrics: metrics.Handler(),
	})

	logger.Info("revcompare server starting", "address", addr, "version", info.Version,
		"bindings", bindings, "max_concurrent", cfg.Scheduler.MaxConcurrent)

	eg, ctx := errgroup.WithContext(cmd.Context())
	eg.Go(func() error {
		return sched.Run(ctx)
	})
	eg.Go(func() error {
		if err := srv.Start(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down, draining connections and cancelling runs")
		return srv.Shutdown(context.WithoutCancel(ctx))
	})

	err = eg.Wait()
	if err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server stopped")
	return nil
}

// healthCheckers returns the readiness checks for the configured host
func healthCheckers(cfg *config.Config) []health.Checker {
	scripts := make([]string, 0, len(cfg.Bindings))
	for _, b := range cfg.Bindings {
		if b.CompareScript != "" {
			scripts = append(scripts, b.CompareScript)
		}
	}
	checkers := []health.Checker{
		health.NewGitChecker(),
		health.NewToolkitChecker(cfg.Bench.ToolkitDir, scripts...),
		health.NewWorkspaceChecker(cfg.Workspace.Root),
	}
	if cfg.BuildTest.Runner == "docker" {
		checkers = append(checkers, health.NewDockerChecker(cfg.BuildTest.Image))
	}
	return checkers
}

// serverFlows returns the flows submitted per approved delivery
func serverFlows(cfg *config.Config) []domain.Flow {
	if len(cfg.Server.Flows) == 0 {
		return []domain.Flow{domain.FlowCheck, domain.FlowBench}
	}
	flows := make([]domain.Flow, 0, len(cfg.Server.Flows))
	for _, f := range cfg.Server.Flows {
		flows = append(flows, domain.Flow(f))
	}
	return flows
}
