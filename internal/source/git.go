package source

import (
	"context"
	"os"
	"regexp"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/revcompare/internal/domain"
	"github.com/felixgeelhaar/revcompare/internal/errors"
	"github.com/felixgeelhaar/revcompare/internal/exec"
	"github.com/felixgeelhaar/revcompare/internal/log"
	"github.com/felixgeelhaar/revcompare/internal/telemetry"
)

var (
	commitish = regexp.MustCompile(`^[0-9a-f]{7,40}$`)

	refMissingMarkers = []string{
		"couldn't find remote ref",
		"not our ref",
		"unknown revision",
		"did not match any",
		"invalid reference",
		"needed a single revision",
	}
)

// GitMaterializer checks out repositories with the git CLI. It fetches only
// the requested ref when the remote allows it and falls back to a full fetch
// for abbreviated commit ids.
type GitMaterializer struct {
	Runner exec.Runner
	Git    string // git binary, defaults to "git"
	Logger *log.Logger
}

// NewGitMaterializer returns a materializer running git on the local host
func NewGitMaterializer(logger *log.Logger) *GitMaterializer {
	return &GitMaterializer{Runner: exec.LocalRunner{}, Git: "git", Logger: logger}
}

// Materialize produces a full working tree of req.Repo at exactly req.Ref
func (g *GitMaterializer) Materialize(ctx context.Context, req Request) (domain.MaterializedSource, error) {
	ctx, span := telemetry.StartCommandSpan(ctx, "git.materialize",
		attribute.String("slot", req.Slot.String()),
		attribute.String("repo", req.Repo),
		attribute.String("ref", req.Ref),
		attribute.Bool("submodules", req.Submodules),
	)
	defer span.End()

	src, err := g.materialize(ctx, req)
	if err != nil {
		telemetry.RecordError(span, err)
		return domain.MaterializedSource{}, err
	}
	telemetry.RecordSuccess(span, attribute.String("commit", src.Commit))
	return src, nil
}

func (g *GitMaterializer) materialize(ctx context.Context, req Request) (domain.MaterializedSource, error) {
	acqErr := func(code errors.ErrorCode, cause error) error {
		return errors.NewAcquisitionError(code, req.Slot.String(), req.Repo, req.Ref, cause)
	}

	if err := prepareDir(req.Dir); err != nil {
		return domain.MaterializedSource{}, acqErr(errors.ErrCodeAcquireWorkspace, err)
	}

	if _, err := g.git(ctx, req.Dir, "init", "--quiet"); err != nil {
		return domain.MaterializedSource{}, acqErr(errors.ErrCodeAcquireWorkspace, err)
	}
	if _, err := g.git(ctx, req.Dir, "remote", "add", "origin", req.Repo); err != nil {
		return domain.MaterializedSource{}, acqErr(errors.ErrCodeAcquireWorkspace, err)
	}

	target := "FETCH_HEAD"
	if _, err := g.git(ctx, req.Dir, "fetch", "--no-tags", "origin", req.Ref); err != nil {
		if ctx.Err() != nil {
			return domain.MaterializedSource{}, ctx.Err()
		}
		if !commitish.MatchString(req.Ref) {
			return domain.MaterializedSource{}, acqErr(classify(err), err)
		}
		// Abbreviated ids cannot be fetched directly.
		if _, err := g.git(ctx, req.Dir, "fetch", "--tags", "origin", "+refs/heads/*:refs/remotes/origin/*"); err != nil {
			return domain.MaterializedSource{}, acqErr(classify(err), err)
		}
		target = req.Ref
	}

	commit, err := g.git(ctx, req.Dir, "rev-parse", "--verify", target+"^{commit}")
	if err != nil {
		return domain.MaterializedSource{}, acqErr(errors.ErrCodeAcquireRefNotFound, err)
	}
	if _, err := g.git(ctx, req.Dir, "checkout", "--quiet", "--detach", commit); err != nil {
		return domain.MaterializedSource{}, acqErr(errors.ErrCodeAcquireFetch, err)
	}

	if req.Submodules {
		if _, err := g.git(ctx, req.Dir, "submodule", "update", "--init", "--recursive"); err != nil {
			if ctx.Err() != nil {
				return domain.MaterializedSource{}, ctx.Err()
			}
			return domain.MaterializedSource{}, acqErr(errors.ErrCodeAcquireSubmodules, err)
		}
	}

	return domain.MaterializedSource{
		Slot:   req.Slot,
		Dir:    req.Dir,
		Repo:   req.Repo,
		Ref:    req.Ref,
		Commit: commit,
	}, nil
}

// git runs one git command and returns its trimmed output. A non-zero exit
// is returned as an error carrying git's output.
func (g *GitMaterializer) git(ctx context.Context, dir string, args ...string) (string, error) {
	bin := g.Git
	if bin == "" {
		bin = "git"
	}
	step := exec.Step{
		ID:      "git-" + args[0],
		Cmd:     append([]string{bin}, args...),
		Workdir: dir,
		Env: map[string]string{
			"GIT_TERMINAL_PROMPT": "0",
			"LC_ALL":              "C",
		},
	}
	res, err := g.Runner.Run(ctx, step)
	if err != nil {
		return "", err
	}
	out := strings.TrimSpace(res.Output)
	if res.ExitCode != 0 {
		if g.Logger != nil {
			g.Logger.Debug("git command failed", "args", args, "exit_code", res.ExitCode, "output", out)
		}
		return out, &gitError{args: args, exitCode: res.ExitCode, output: out}
	}
	return out, nil
}

type gitError struct {
	args     []string
	exitCode int
	output   string
}

func (e *gitError) Error() string {
	return "git " + strings.Join(e.args, " ") + ": " + lastLine(e.output)
}

// classify maps a failed fetch to ref-not-found or a transport failure
func classify(err error) errors.ErrorCode {
	ge, ok := err.(*gitError)
	if !ok {
		return errors.ErrCodeAcquireFetch
	}
	lower := strings.ToLower(ge.output)
	for _, marker := range refMissingMarkers {
		if strings.Contains(lower, marker) {
			return errors.ErrCodeAcquireRefNotFound
		}
	}
	return errors.ErrCodeAcquireFetch
}

func prepareDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err == nil && len(entries) > 0 {
		return &os.PathError{Op: "materialize", Path: dir, Err: os.ErrExist}
	}
	return os.MkdirAll(dir, 0750)
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
