package exec

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/revcompare/internal/log"
	"github.com/felixgeelhaar/revcompare/internal/telemetry"
)

// Executor runs steps through a Runner and leaves an audit manifest for each.
type Executor struct {
	Runner      Runner
	RunID       string
	ManifestDir string // Empty disables audit manifests
	Logger      *log.Logger
}

// Execution is the outcome of Execute
type Execution struct {
	Result       *Result
	ManifestPath string
}

// Execute runs step. inputs and outputs map logical names to files whose
// digests are recorded in the manifest; missing output files are skipped.
func (e *Executor) Execute(ctx context.Context, step Step, inputs, outputs map[string]string) (*Execution, error) {
	logger := e.logger().With("step", step.ID)

	ctx, span := telemetry.StartCommandSpan(ctx, step.ID,
		attribute.String("runner", e.Runner.Name()),
		attribute.String("workdir", step.Workdir),
	)
	defer span.End()

	logger.Info("running step", "command", step.Cmd, "runner", e.Runner.Name())
	result, err := e.Runner.Run(ctx, step)

	run := &Execution{Result: result}
	if result != nil {
		telemetry.RecordDuration(span, "step", result.Duration)
		span.SetAttributes(attribute.Int("exit_code", result.ExitCode))
		run.ManifestPath = e.record(step, result, inputs, outputs, logger)
	}

	if err != nil {
		telemetry.RecordError(span, err)
		logger.LogError(ctx, "step did not complete", err)
		return run, err
	}

	if result.ExitCode != 0 {
		logger.Warn("step exited non-zero", "exit_code", result.ExitCode, "duration", result.Duration)
	} else {
		telemetry.RecordSuccess(span)
		logger.Info("step completed", "duration", result.Duration)
	}
	return run, nil
}

func (e *Executor) record(step Step, result *Result, inputs, outputs map[string]string, logger *log.Logger) string {
	if e.ManifestDir == "" {
		return ""
	}

	manifest := CreateManifest(e.RunID, e.Runner.Name(), step, result)
	for name, path := range inputs {
		if err := manifest.AddInputHash(name, path); err != nil {
			logger.Warn("failed to hash input", "input", name, "error", err)
		}
	}
	for name, path := range outputs {
		if err := manifest.AddOutputHash(name, path); err != nil {
			logger.Debug("output not hashed", "output", name, "error", err)
		}
	}

	path, err := SaveManifest(manifest, e.ManifestDir)
	if err != nil {
		logger.Warn("failed to save run manifest", "error", err)
		return ""
	}
	return path
}

func (e *Executor) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Discard()
}
