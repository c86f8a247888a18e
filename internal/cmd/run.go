package cmd

import (
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/revcompare/internal/domain"
	"github.com/felixgeelhaar/revcompare/internal/exitcode"
	"github.com/felixgeelhaar/revcompare/internal/metrics"
	"github.com/felixgeelhaar/revcompare/internal/pipeline"
)

// flowOptions are the flags shared by check and bench
type flowOptions struct {
	runFlags
	skipGate    bool
	metricsFile string
}

func (o *flowOptions) register(cmd *cobra.Command) {
	o.runFlags.register(cmd)
	cmd.Flags().BoolVar(&o.skipGate, "skip-gate", false, "run without checking pull request labels")
	cmd.Flags().StringVar(&o.metricsFile, "metrics-file", "", "write run metrics in Prometheus text format to this file")
}

// runFlow executes flow for every selected binding. Bindings run one after
// another; a cancelled context stops the loop after the current run's
// cleanup.
func runFlow(cmd *cobra.Command, flow domain.Flow, o *flowOptions) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	defer initTelemetry(ctx, cfg, logger)()

	rc, err := o.runContext(cmd, cfg)
	if err != nil {
		return err
	}
	bindings, err := bindingNames(cfg, o.bindings)
	if err != nil {
		return err
	}

	reg, m := metrics.NewRegistry()
	runner, err := newRunner(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	if o.skipGate {
		logger.Warn("gate disabled by --skip-gate", "pr", rc.Key())
		runner.Gate = nil
	}

	results := make([]*pipeline.Result, 0, len(bindings))
	for _, binding := range bindings {
		var res *pipeline.Result
		if flow == domain.FlowBench {
			res = runner.RunBenchmark(ctx, rc, binding)
		} else {
			res = runner.RunCheck(ctx, rc, binding)
		}
		results = append(results, res)
		if ctx.Err() != nil {
			break
		}
	}

	renderSummary(cmd.OutOrStdout(), results)

	if o.metricsFile != "" {
		if err := metrics.WriteTextfile(o.metricsFile, reg); err != nil {
			logger.Warn("failed to write metrics file", "path", o.metricsFile, "error", err)
		}
	}
	return firstFailure(results)
}

func exitCodeFor(s pipeline.Status) int {
	return exitcode.FromStatus(string(s))
}
