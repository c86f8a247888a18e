package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/revcompare/internal/config"
	"github.com/felixgeelhaar/revcompare/internal/domain"
	"github.com/felixgeelhaar/revcompare/internal/errors"
	"github.com/felixgeelhaar/revcompare/internal/exitcode"
	"github.com/felixgeelhaar/revcompare/internal/gate"
	"github.com/felixgeelhaar/revcompare/internal/log"
	"github.com/felixgeelhaar/revcompare/internal/pipeline"
	"github.com/felixgeelhaar/revcompare/internal/report"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	require.NoError(t, err)
	return cfg
}

// parseRunFlags registers runFlags on a fresh command and parses args
func parseRunFlags(t *testing.T, args ...string) (*cobra.Command, *runFlags) {
	t.Helper()
	f := &runFlags{}
	c := &cobra.Command{Use: "test"}
	f.register(c)
	require.NoError(t, c.ParseFlags(args))
	return c, f
}

func TestRepoSlug(t *testing.T) {
	t.Setenv("GITHUB_REPOSITORY", "")

	tests := []struct {
		url         string
		owner, repo string
	}{
		{"https://github.com/mmtk/mmtk-core.git", "mmtk", "mmtk-core"},
		{"https://github.com/mmtk/mmtk-core/", "mmtk", "mmtk-core"},
		{"git@github.com:mmtk/mmtk-openjdk.git", "mmtk", "mmtk-openjdk"},
		{"mmtk-core", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			owner, repo := repoSlug(tt.url)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.repo, repo)
		})
	}

	t.Run("actions environment wins", func(t *testing.T) {
		t.Setenv("GITHUB_REPOSITORY", "fork/mmtk-core")
		owner, repo := repoSlug("https://github.com/mmtk/mmtk-core.git")
		assert.Equal(t, "fork", owner)
		assert.Equal(t, "mmtk-core", repo)
	})
}

func TestRunContextFromFlags(t *testing.T) {
	t.Setenv("GITHUB_REPOSITORY", "")
	cfg := testConfig(t)

	t.Run("labels absent fail closed", func(t *testing.T) {
		c, f := parseRunFlags(t, "--pr", "42", "--head", "abc123")
		rc, err := f.runContext(c, cfg)
		require.NoError(t, err)
		assert.False(t, rc.HasLabels())
		assert.Equal(t, "mmtk", rc.Owner())
		assert.Equal(t, "mmtk-core", rc.Repo())
		assert.Equal(t, domain.EventSynchronize, rc.Event())
	})

	t.Run("labels given", func(t *testing.T) {
		c, f := parseRunFlags(t, "--pr", "42", "--head", "abc123", "--label", "PR-approved,docs")
		rc, err := f.runContext(c, cfg)
		require.NoError(t, err)
		assert.True(t, rc.HasLabel("PR-approved"))
		assert.True(t, rc.HasLabel("docs"))
	})

	t.Run("body from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "body.md")
		require.NoError(t, os.WriteFile(path, []byte("BRANCH_CORE_REF=sha1\n"), 0o644))
		c, f := parseRunFlags(t, "--pr", "7", "--head", "abc", "--body-file", path)
		rc, err := f.runContext(c, cfg)
		require.NoError(t, err)
		assert.Equal(t, "BRANCH_CORE_REF=sha1\n", rc.Body())
	})

	t.Run("body from stdin", func(t *testing.T) {
		c, f := parseRunFlags(t, "--pr", "7", "--head", "abc", "--body-file", "-")
		c.SetIn(strings.NewReader("TRUNK_CORE_REF=v0.1\n"))
		rc, err := f.runContext(c, cfg)
		require.NoError(t, err)
		assert.Equal(t, "TRUNK_CORE_REF=v0.1\n", rc.Body())
	})

	t.Run("invalid event", func(t *testing.T) {
		c, f := parseRunFlags(t, "--pr", "7", "--head", "abc", "--event", "closed")
		_, err := f.runContext(c, cfg)
		require.Error(t, err)
		assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
	})
}

func TestBindingNames(t *testing.T) {
	cfg := testConfig(t)

	names, err := bindingNames(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"jikesrvm", "openjdk"}, names)

	names, err = bindingNames(cfg, []string{"openjdk"})
	require.NoError(t, err)
	assert.Equal(t, []string{"openjdk"}, names)

	_, err = bindingNames(cfg, []string{"v8"})
	assert.Error(t, err)
}

func TestResolveRevisions(t *testing.T) {
	cfg := testConfig(t)
	rc, err := domain.NewRunContext(domain.RunContextParams{
		PR:      42,
		HeadSHA: "head1",
		Event:   domain.EventOpened,
		Body:    "Speeds up marking.\n\nBRANCH_CORE_REF=sha1\nOPENJDK_BINDING_REF=feature-x\n",
	})
	require.NoError(t, err)

	resolved, err := resolveRevisions(cfg, rc, []string{"jikesrvm", "openjdk"})
	require.NoError(t, err)
	require.Len(t, resolved, 2)

	assert.Equal(t, domain.RevisionSet{
		TrunkBindingRef:  "master",
		TrunkCoreRef:     "master",
		BranchBindingRef: "master",
		BranchCoreRef:    "sha1",
	}, resolved[0].Revisions)
	assert.Equal(t, "feature-x", resolved[1].Revisions.BranchBindingRef)

	t.Run("env output", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printRevisions(&buf, cfg, resolved[1:], "env"))
		assert.Equal(t, "TRUNK_CORE_REF=master\nBRANCH_CORE_REF=sha1\n"+
			"OPENJDK_BINDING_TRUNK_REF=master\nOPENJDK_BINDING_REF=feature-x\n", buf.String())
	})

	t.Run("json output", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printRevisions(&buf, cfg, resolved, "json"))
		var out []resolvedBinding
		require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
		assert.Equal(t, resolved, out)
	})

	t.Run("text output", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, printRevisions(&buf, cfg, resolved, "text"))
		assert.Contains(t, buf.String(), "feature-x")
		assert.Contains(t, buf.String(), "jikesrvm")
	})

	t.Run("unknown output", func(t *testing.T) {
		err := printRevisions(&bytes.Buffer{}, cfg, resolved, "xml")
		assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
	})

	t.Run("typo in directive", func(t *testing.T) {
		bad, err := domain.NewRunContext(domain.RunContextParams{
			PR: 42, HeadSHA: "head1", Event: domain.EventOpened,
			Body: "JIKESRVM_BINDNG_REF=sha2\n",
		})
		require.NoError(t, err)
		_, err = resolveRevisions(cfg, bad, []string{"jikesrvm"})
		require.Error(t, err)
		assert.Equal(t, errors.KindConfiguration, errors.KindOf(err))
	})
}

func TestPrintDecision(t *testing.T) {
	rc, err := domain.NewRunContext(domain.RunContextParams{PR: 42, HeadSHA: "abc", Event: domain.EventOpened, Owner: "mmtk", Repo: "mmtk-core"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printDecision(&buf, rc, gate.Decision{Reason: "label data unavailable"}, true))

	var out struct {
		PR     string `json:"pr"`
		Run    bool   `json:"run"`
		Reason string `json:"reason"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	assert.False(t, out.Run)
	assert.Equal(t, "label data unavailable", out.Reason)
	assert.Equal(t, rc.Key(), out.PR)

	buf.Reset()
	require.NoError(t, printDecision(&buf, rc, gate.Decision{Run: true, Reason: "approved"}, false))
	assert.Contains(t, buf.String(), "approved")
}

func TestRenderSummaryAndExitCode(t *testing.T) {
	results := []*pipeline.Result{
		{
			RunID: "run-1", Flow: domain.FlowCheck, Binding: "jikesrvm", PR: "mmtk/mmtk-core#42",
			Status: pipeline.StatusSuccess, Duration: 2 * time.Second,
			Stages: []pipeline.StageRecord{{Name: pipeline.StageResolve}, {Name: pipeline.StageBuildTest, Duration: time.Second}},
		},
		{
			RunID: "run-2", Flow: domain.FlowCheck, Binding: "openjdk", PR: "mmtk/mmtk-core#42",
			Status:   pipeline.Status(errors.KindBuildTest),
			Err:      errors.NewBuildTestError(errors.ErrCodeBuildTestFailed, "ci-test.sh", 1),
			Warnings: []string{"cleanup: 1 path(s) could not be removed"},
			Stages:   []pipeline.StageRecord{{Name: pipeline.StageBuildTest, Err: stderrors.New("exit 1")}},
		},
	}

	var buf bytes.Buffer
	renderSummary(&buf, results)
	out := buf.String()
	assert.Contains(t, out, "jikesrvm")
	assert.Contains(t, out, "BuildTestFailure")
	assert.Contains(t, out, "ci-test.sh exited with status 1")
	assert.Contains(t, out, "cleanup: 1 path(s)")

	err := firstFailure(results)
	require.Error(t, err)
	assert.Equal(t, exitcode.BuildTestFailure, exitcode.DetermineExitCode(err))
	assert.True(t, errors.Is(err, errors.ErrCodeBuildTestFailed))

	assert.NoError(t, firstFailure(results[:1]))
	assert.Equal(t, exitcode.Cancelled, exitcode.DetermineExitCode(firstFailure([]*pipeline.Result{{Status: pipeline.StatusCancelled}})))
}

func TestExitError(t *testing.T) {
	err := &ExitError{Code: exitcode.GateClosed}
	assert.Equal(t, exitcode.GateClosed, exitcode.DetermineExitCode(err))
	assert.Equal(t, "exit status 3", err.Error())
}

func TestNewReporterWithoutToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.GitHub.TokenEnv = "REVCOMPARE_TEST_NO_TOKEN"
	cfg.Report.Store.Dir = t.TempDir()

	r, err := newReporter(context.Background(), cfg, nil, log.Discard())
	require.NoError(t, err)
	assert.IsType(t, report.LogCommenter{}, r.Commenter)
	assert.Equal(t, report.FSStore{Dir: cfg.Report.Store.Dir}, r.Store)
	assert.False(t, needsObjectStore(cfg))

	cfg.Bench.Assets = append(cfg.Bench.Assets, config.AssetConfig{Source: "s3://workloads/dacapo.jar", Dest: "dacapo.jar"})
	assert.True(t, needsObjectStore(cfg))
}

func TestNewRunnerWiring(t *testing.T) {
	cfg := testConfig(t)
	cfg.GitHub.TokenEnv = "REVCOMPARE_TEST_NO_TOKEN"

	r, err := newRunner(context.Background(), cfg, log.Discard(), nil)
	require.NoError(t, err)
	assert.NotNil(t, r.Gate)
	assert.NotNil(t, r.Materializer)
	assert.NotNil(t, r.HostLock)
	assert.Equal(t, cfg.Bench.ToolkitDir, r.Stager.ToolkitDir)
	assert.Nil(t, r.Stager.S3)
}

func TestServeHelpers(t *testing.T) {
	cfg := testConfig(t)

	names := make([]string, 0)
	for _, c := range healthCheckers(cfg) {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"git-binary", "bench-toolkit", "workspace-root"}, names)

	cfg.BuildTest.Runner = "docker"
	cfg.BuildTest.Image = "mmtk/ci:latest"
	assert.Len(t, healthCheckers(cfg), 4)

	assert.Equal(t, []domain.Flow{domain.FlowCheck, domain.FlowBench}, serverFlows(cfg))
	cfg.Server.Flows = []string{"check"}
	assert.Equal(t, []domain.Flow{domain.FlowCheck}, serverFlows(cfg))
}
