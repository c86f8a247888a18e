package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/revcompare/internal/bench"
	"github.com/felixgeelhaar/revcompare/internal/config"
	"github.com/felixgeelhaar/revcompare/internal/errors"
	"github.com/felixgeelhaar/revcompare/internal/gate"
	"github.com/felixgeelhaar/revcompare/internal/hooks"
	"github.com/felixgeelhaar/revcompare/internal/hostlock"
	"github.com/felixgeelhaar/revcompare/internal/log"
	"github.com/felixgeelhaar/revcompare/internal/metrics"
	"github.com/felixgeelhaar/revcompare/internal/objstore"
	"github.com/felixgeelhaar/revcompare/internal/pipeline"
	"github.com/felixgeelhaar/revcompare/internal/report"
	"github.com/felixgeelhaar/revcompare/internal/source"
	"github.com/felixgeelhaar/revcompare/internal/telemetry"
	"github.com/felixgeelhaar/revcompare/internal/version"
)

// loadConfig reads the configuration and applies the global flag overrides.
// The config file is optional unless --config was given explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags().Changed("config"))
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	return cfg, nil
}

// newLogger builds the process logger from configuration and installs it
// as the default.
func newLogger(cfg *config.Config) *log.Logger {
	lc := log.DefaultConfig()
	lc.Level = log.ParseLevel(cfg.Log.Level)
	lc.Format = log.ParseFormat(cfg.Log.Format)
	lc.ServiceVersion = version.GetInfo().Short()
	logger := log.New(lc)
	log.SetDefaultLogger(logger)
	return logger
}

// initTelemetry installs the tracer provider. The returned function flushes
// spans and never fails the command.
func initTelemetry(ctx context.Context, cfg *config.Config, logger *log.Logger) func() {
	tc := telemetry.ForEndpoint(cfg.Telemetry.ServiceName, version.GetInfo().Short(), cfg.Telemetry.Endpoint, cfg.Telemetry.SampleRate)
	shutdown, err := telemetry.InitProvider(ctx, tc)
	if err != nil {
		logger.Warn("tracing disabled", "error", err)
		return func() {}
	}
	return func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("failed to flush traces", "error", err)
		}
	}
}

// newObjectStore connects to the configured S3 endpoint
func newObjectStore(sc config.StoreConfig) (*objstore.Client, error) {
	client, err := objstore.New(objstore.Config{
		Endpoint:  sc.Endpoint,
		AccessKey: sc.AccessKey(),
		SecretKey: sc.SecretKey(),
		Region:    sc.Region,
		UseSSL:    sc.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "object store", err).
			WithSuggestion(fmt.Sprintf("Export %s and %s", sc.AccessKeyEnv, sc.SecretKeyEnv))
	}
	return client, nil
}

// needsObjectStore reports whether artifacts or workload assets live in S3
func needsObjectStore(cfg *config.Config) bool {
	if cfg.Report.Store.Kind == "s3" {
		return true
	}
	for _, a := range cfg.Bench.Assets {
		if objstore.IsURL(a.Source) {
			return true
		}
	}
	return false
}

// newReporter picks the comment sink and artifact store. Without a GitHub
// token comments go to the log, which is what local runs want.
func newReporter(ctx context.Context, cfg *config.Config, s3 *objstore.Client, logger *log.Logger) (*report.Reporter, error) {
	r := &report.Reporter{
		MaxCommentBytes: cfg.Report.MaxCommentBytes,
		Logger:          logger,
	}

	if token := cfg.GitHub.Token(); token != "" {
		gh, err := report.NewGitHubCommenter(ctx, token, cfg.GitHub.APIURL)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "github client", err)
		}
		r.Commenter = gh
	} else {
		logger.Warn("no GitHub token set, comments will be logged", "env", cfg.GitHub.TokenEnv)
		r.Commenter = report.LogCommenter{Logger: logger}
	}

	switch cfg.Report.Store.Kind {
	case "s3":
		r.Store = report.S3Store{Client: s3, Bucket: cfg.Report.Store.Bucket, Prefix: cfg.Report.Store.Prefix}
	default:
		r.Store = report.FSStore{Dir: cfg.Report.Store.Dir}
	}
	return r, nil
}

// newRunner wires the pipeline runner from configuration
func newRunner(ctx context.Context, cfg *config.Config, logger *log.Logger, m *metrics.Metrics) (*pipeline.Runner, error) {
	g, err := gate.New(cfg.Gate.Labels, cfg.Gate.Events, cfg.Gate.TargetBranch)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "gate", err)
	}

	registry, err := hooks.NewRegistryFromConfig(cfg.Hooks)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "hooks", err)
	}

	var s3 *objstore.Client
	if needsObjectStore(cfg) {
		if s3, err = newObjectStore(cfg.Report.Store); err != nil {
			return nil, err
		}
	}

	reporter, err := newReporter(ctx, cfg, s3, logger)
	if err != nil {
		return nil, err
	}

	stager := &bench.Stager{ToolkitDir: cfg.Bench.ToolkitDir, Logger: logger}
	if s3 != nil {
		stager.S3 = s3
	}

	return &pipeline.Runner{
		Config:       cfg,
		Gate:         g,
		Materializer: source.NewGitMaterializer(logger),
		Publisher:    reporter,
		HostLock:     hostlock.New(cfg.Host.LockPath, cfg.Host.PollInterval, logger),
		Stager:       stager,
		Hooks:        registry,
		Metrics:      m,
		Logger:       logger,
	}, nil
}

// bindingNames returns the requested bindings, or every configured binding
func bindingNames(cfg *config.Config, requested []string) ([]string, error) {
	if len(requested) == 0 {
		names := make([]string, 0, len(cfg.Bindings))
		for _, b := range cfg.Bindings {
			names = append(names, b.Name)
		}
		return names, nil
	}
	for _, name := range requested {
		if _, err := cfg.Binding(name); err != nil {
			return nil, err
		}
	}
	return requested, nil
}

// repoSlug returns owner and name from GITHUB_REPOSITORY or, failing that,
// from a GitHub clone URL.
func repoSlug(cloneURL string) (owner, repo string) {
	if slug := os.Getenv("GITHUB_REPOSITORY"); slug != "" {
		if o, r, ok := strings.Cut(slug, "/"); ok {
			return o, r
		}
	}
	trimmed := strings.TrimSuffix(strings.TrimSuffix(cloneURL, "/"), ".git")
	trimmed = strings.TrimPrefix(trimmed, "git@github.com:")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return "", ""
	}
	return parts[len(parts)-2], parts[len(parts)-1]
}
