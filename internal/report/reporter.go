// Package report publishes run results to the pull request and persists
// report and log artifacts.
package report

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/revcompare/internal/bench"
	"github.com/felixgeelhaar/revcompare/internal/buildtest"
	"github.com/felixgeelhaar/revcompare/internal/domain"
	"github.com/felixgeelhaar/revcompare/internal/errors"
	"github.com/felixgeelhaar/revcompare/internal/log"
	"github.com/felixgeelhaar/revcompare/internal/telemetry"
)

// DefaultMaxCommentBytes stays under GitHub's 65536 character comment limit
const DefaultMaxCommentBytes = 65000

// tailBytes is how much console output a failure comment quotes
const tailBytes = 6000

// Reporter publishes results. A nil Store skips artifact persistence.
type Reporter struct {
	Commenter       Commenter
	Store           ArtifactStore
	MaxCommentBytes int
	Logger          *log.Logger
}

// Published records what a publish call produced
type Published struct {
	Commented bool
	Artifacts []Artifact
}

// ArtifactPrefix is the key prefix for a run's artifacts
func ArtifactPrefix(rc domain.RunContext, runID string) string {
	return path.Join(rc.Owner(), rc.Repo(), fmt.Sprintf("pr-%d", rc.PR()), runID)
}

// PublishBenchmark posts the report text verbatim (capped) and stores
// {binding}-compare-report.md and {binding}-log. When the toolkit failed
// before writing a report, the comment carries the failure and the tail of
// its output instead. Every sink is attempted; failures are joined into one
// PublishError.
func (r *Reporter) PublishBenchmark(ctx context.Context, rc domain.RunContext, runID string, rep *bench.BenchmarkReport, runErr error) (Published, error) {
	ctx, span := telemetry.StartStageSpan(ctx, "publish", attribute.String("binding", rep.Binding))
	defer span.End()

	var pub Published
	var errs []error
	prefix := ArtifactPrefix(rc, runID)
	reportName := rep.Binding + "-compare-report.md"
	logName := rep.Binding + "-log"

	var reportArt *Artifact
	if rep.HasReport() {
		art, err := r.store(ctx, path.Join(prefix, reportName), rep.ReportPath)
		if err != nil {
			errs = append(errs, err)
		} else {
			reportArt = &art
			pub.Artifacts = append(pub.Artifacts, art)
		}
	}
	if dirHasFiles(rep.LogDir) {
		art, err := r.store(ctx, path.Join(prefix, logName), rep.LogDir)
		if err != nil {
			errs = append(errs, err)
		} else {
			pub.Artifacts = append(pub.Artifacts, art)
		}
	}

	var body string
	if rep.HasReport() {
		data, err := os.ReadFile(rep.ReportPath)
		if err != nil {
			errs = append(errs, errors.Wrap(errors.ErrCodePublishComment, "failed to read report", err))
		} else {
			body = string(data)
		}
	} else {
		body = benchmarkFailureBody(rc, rep, runErr)
	}

	if body != "" {
		body = r.capComment(body, reportName, reportArt)
		if err := r.comment(ctx, rc, body); err != nil {
			errs = append(errs, err)
		} else {
			pub.Commented = true
		}
	}

	return pub, r.finish(span, errs)
}

// PublishCheck stores the build-and-test log and, when the check failed,
// comments with the failing stage and the tail of the output.
func (r *Reporter) PublishCheck(ctx context.Context, rc domain.RunContext, runID, binding string, res *buildtest.TestResult, runErr error) (Published, error) {
	ctx, span := telemetry.StartStageSpan(ctx, "publish", attribute.String("binding", binding))
	defer span.End()

	var pub Published
	var errs []error
	logName := binding + "-build-test.log"

	var logArt *Artifact
	if res != nil && res.LogPath != "" {
		if _, err := os.Stat(res.LogPath); err == nil {
			art, err := r.store(ctx, path.Join(ArtifactPrefix(rc, runID), logName), res.LogPath)
			if err != nil {
				errs = append(errs, err)
			} else {
				logArt = &art
				pub.Artifacts = append(pub.Artifacts, art)
			}
		}
	}

	if res == nil || !res.Passed {
		body := r.capComment(checkFailureBody(rc, binding, res, runErr), logName, logArt)
		if err := r.comment(ctx, rc, body); err != nil {
			errs = append(errs, err)
		} else {
			pub.Commented = true
		}
	}

	return pub, r.finish(span, errs)
}

func (r *Reporter) store(ctx context.Context, key, localPath string) (Artifact, error) {
	if r.Store == nil {
		return Artifact{}, nil
	}
	art, err := r.Store.Store(ctx, key, localPath)
	if err != nil {
		return art, errors.Wrap(errors.ErrCodePublishArtifact, "failed to store artifact "+path.Base(key), err)
	}
	r.logger().Info("stored artifact", "artifact", art.Name, "location", art.Location, "files", art.Files)
	return art, nil
}

func (r *Reporter) comment(ctx context.Context, rc domain.RunContext, body string) error {
	if r.Commenter == nil {
		return nil
	}
	if err := r.Commenter.Comment(ctx, rc, body); err != nil {
		return errors.Wrap(errors.ErrCodePublishComment, "failed to comment on "+rc.Key(), err).
			WithSuggestion("Check that the token in github.token_env can write pull request comments")
	}
	return nil
}

func (r *Reporter) finish(span trace.Span, errs []error) error {
	err := stderrors.Join(errs...)
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	telemetry.RecordSuccess(span)
	return nil
}

// capComment truncates body so that it, plus a note pointing at the stored
// artifact, fits in MaxCommentBytes.
func (r *Reporter) capComment(body, artifactName string, art *Artifact) string {
	limit := r.MaxCommentBytes
	if limit <= 0 {
		limit = DefaultMaxCommentBytes
	}
	if len(body) <= limit {
		return body
	}

	note := fmt.Sprintf("\n\n---\n_Truncated to %d bytes. The full text is stored as artifact `%s`", limit, artifactName)
	if art != nil && art.Location != "" {
		note += fmt.Sprintf(" (%s)", art.Location)
	}
	note += "._\n"

	keep := limit - len(note)
	if keep < 0 {
		keep = 0
	}
	for keep > 0 && !utf8.RuneStart(body[keep]) {
		keep--
	}
	return body[:keep] + note
}

func benchmarkFailureBody(rc domain.RunContext, rep *bench.BenchmarkReport, runErr error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### :x: %s benchmark comparison failed\n\n", rep.Binding)
	fmt.Fprintf(&b, "Head commit `%s`.", rc.HeadSHA())
	if rep.ExitCode != 0 {
		fmt.Fprintf(&b, " The comparison toolkit exited with status %d.", rep.ExitCode)
	}
	b.WriteString("\n")
	if runErr != nil {
		fmt.Fprintf(&b, "\n> %s\n", headline(runErr))
	}
	writeTail(&b, rep.Output)
	return b.String()
}

func checkFailureBody(rc domain.RunContext, binding string, res *buildtest.TestResult, runErr error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### :x: %s build and test failed\n\n", binding)
	fmt.Fprintf(&b, "Head commit `%s`.", rc.HeadSHA())
	if res != nil {
		switch {
		case res.TimedOut:
			fmt.Fprintf(&b, " The %s script timed out after %s.", res.Stage, res.Duration.Round(1e9))
		default:
			fmt.Fprintf(&b, " The %s script exited with status %d.", res.Stage, res.ExitCode)
		}
		if res.TestsPassed+res.TestsFailed > 0 {
			fmt.Fprintf(&b, " Tests: %d passed, %d failed, %d ignored.", res.TestsPassed, res.TestsFailed, res.TestsIgnored)
		}
	}
	b.WriteString("\n")
	if runErr != nil {
		fmt.Fprintf(&b, "\n> %s\n", headline(runErr))
	}
	if res != nil {
		writeTail(&b, res.Output)
	}
	return b.String()
}

func writeTail(b *strings.Builder, output string) {
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return
	}
	if len(output) > tailBytes {
		output = output[len(output)-tailBytes:]
		if i := strings.IndexByte(output, '\n'); i >= 0 {
			output = output[i+1:]
		}
	}
	b.WriteString("\n<details><summary>Output (tail)</summary>\n\n```\n")
	b.WriteString(output)
	b.WriteString("\n```\n</details>\n")
}

// headline drops the suggestion block PipelineError appends
func headline(err error) string {
	msg, _, _ := strings.Cut(err.Error(), "\n")
	return msg
}

func dirHasFiles(dir string) bool {
	if dir == "" {
		return false
	}
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

func (r *Reporter) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Discard()
}
