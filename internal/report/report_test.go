package report

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/google/go-github/v73/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/revcompare/internal/bench"
	"github.com/felixgeelhaar/revcompare/internal/buildtest"
	"github.com/felixgeelhaar/revcompare/internal/domain"
	"github.com/felixgeelhaar/revcompare/internal/errors"
	"github.com/felixgeelhaar/revcompare/internal/objstore"
	"github.com/felixgeelhaar/revcompare/internal/objstore/objstoretest"
)

func testRunContext(t *testing.T) domain.RunContext {
	t.Helper()
	rc, err := domain.NewRunContext(domain.RunContextParams{
		Owner: "mmtk", Repo: "mmtk-core", PR: 7, HeadSHA: "abc123", Event: domain.EventOpened,
	})
	require.NoError(t, err)
	return rc
}

type recordingCommenter struct {
	mu     sync.Mutex
	bodies []string
	err    error
}

func (c *recordingCommenter) Comment(_ context.Context, _ domain.RunContext, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.bodies = append(c.bodies, body)
	return nil
}

type failingStore struct{}

func (failingStore) Store(context.Context, string, string) (Artifact, error) {
	return Artifact{}, fmt.Errorf("disk full")
}

func writeFile(t *testing.T, p, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0750))
	require.NoError(t, os.WriteFile(p, []byte(content), 0640))
	return p
}

func TestGitHubCommenter(t *testing.T) {
	var gotPath, gotBody, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		var c github.IssueComment
		_ = json.NewDecoder(r.Body).Decode(&c)
		gotBody = c.GetBody()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	client := github.NewClient(nil).WithAuthToken("secret")
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base

	err = NewGitHubCommenterWithClient(client).Comment(context.Background(), testRunContext(t), "hello")
	require.NoError(t, err)
	assert.Equal(t, "/repos/mmtk/mmtk-core/issues/7/comments", gotPath)
	assert.Equal(t, "hello", gotBody)
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestGitHubCommenterError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"message":"Resource not accessible by integration"}`))
	}))
	defer srv.Close()

	client := github.NewClient(nil)
	base, _ := url.Parse(srv.URL + "/")
	client.BaseURL = base

	err := NewGitHubCommenterWithClient(client).Comment(context.Background(), testRunContext(t), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 403")
}

func TestFSStore(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "logs", "a.log"), "a")
	writeFile(t, filepath.Join(src, "logs", "nested", "b.log"), "b")
	report := writeFile(t, filepath.Join(src, "report.md"), "# report")

	store := FSStore{Dir: t.TempDir()}
	ctx := context.Background()

	art, err := store.Store(ctx, "mmtk/mmtk-core/pr-7/run/openjdk-log", filepath.Join(src, "logs"))
	require.NoError(t, err)
	assert.Equal(t, "openjdk-log", art.Name)
	assert.Equal(t, 2, art.Files)
	assert.Empty(t, art.Digest)
	data, err := os.ReadFile(filepath.Join(art.Location, "nested", "b.log"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(data))

	art, err = store.Store(ctx, "mmtk/mmtk-core/pr-7/run/openjdk-compare-report.md", report)
	require.NoError(t, err)
	assert.Equal(t, 1, art.Files)
	assert.True(t, strings.HasPrefix(art.Digest, "blake3:"))
	data, err = os.ReadFile(art.Location)
	require.NoError(t, err)
	assert.Equal(t, "# report", string(data))
}

func TestFSStoreMissingSource(t *testing.T) {
	_, err := FSStore{Dir: t.TempDir()}.Store(context.Background(), "k", filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

func TestS3Store(t *testing.T) {
	srv := objstoretest.NewServer()
	defer srv.Close()
	srv.CreateBucket("results")

	client, err := objstore.New(objstore.Config{Endpoint: srv.Endpoint(), AccessKey: "ak", SecretKey: "sk"})
	require.NoError(t, err)

	src := t.TempDir()
	writeFile(t, filepath.Join(src, "x.log"), "x")
	writeFile(t, filepath.Join(src, "sub", "y.log"), "y")

	store := S3Store{Client: client, Bucket: "results", Prefix: "ci"}
	art, err := store.Store(context.Background(), "mmtk/mmtk-core/pr-7/run/jikesrvm-log", src)
	require.NoError(t, err)
	assert.Equal(t, "s3://results/ci/mmtk/mmtk-core/pr-7/run/jikesrvm-log", art.Location)
	assert.Equal(t, 2, art.Files)
	assert.ElementsMatch(t, []string{
		"ci/mmtk/mmtk-core/pr-7/run/jikesrvm-log/x.log",
		"ci/mmtk/mmtk-core/pr-7/run/jikesrvm-log/sub/y.log",
	}, srv.Keys("results"))
}

func TestCapComment(t *testing.T) {
	r := &Reporter{MaxCommentBytes: 200}

	short := "fits"
	assert.Equal(t, short, r.capComment(short, "x.md", nil))

	long := strings.Repeat("é", 300)
	capped := r.capComment(long, "openjdk-compare-report.md", &Artifact{Location: "s3://b/k"})
	assert.LessOrEqual(t, len(capped), 200)
	assert.True(t, utf8.ValidString(capped))
	assert.Contains(t, capped, "openjdk-compare-report.md")
	assert.Contains(t, capped, "s3://b/k")
}

func TestPublishBenchmarkWithReport(t *testing.T) {
	dir := t.TempDir()
	reportPath := writeFile(t, filepath.Join(dir, "report.md"), "| bench | trunk | branch |\n")
	logDir := filepath.Join(dir, "logs")
	writeFile(t, filepath.Join(logDir, "run.log"), "log")

	commenter := &recordingCommenter{}
	storeDir := t.TempDir()
	r := &Reporter{Commenter: commenter, Store: FSStore{Dir: storeDir}}

	rep := &bench.BenchmarkReport{Binding: "openjdk", ReportPath: reportPath, LogDir: logDir}
	pub, err := r.PublishBenchmark(context.Background(), testRunContext(t), "run-1", rep, nil)
	require.NoError(t, err)
	assert.True(t, pub.Commented)
	require.Len(t, commenter.bodies, 1)
	assert.Equal(t, "| bench | trunk | branch |\n", commenter.bodies[0])

	require.Len(t, pub.Artifacts, 2)
	assert.FileExists(t, filepath.Join(storeDir, "mmtk", "mmtk-core", "pr-7", "run-1", "openjdk-compare-report.md"))
	assert.FileExists(t, filepath.Join(storeDir, "mmtk", "mmtk-core", "pr-7", "run-1", "openjdk-log", "run.log"))
}

func TestPublishBenchmarkWithoutReport(t *testing.T) {
	commenter := &recordingCommenter{}
	r := &Reporter{Commenter: commenter}

	rep := &bench.BenchmarkReport{
		Binding:    "jikesrvm",
		ReportPath: filepath.Join(t.TempDir(), "missing.md"),
		ExitCode:   2,
		Output:     "building...\nerror: benchmark crashed\n",
	}
	runErr := errors.NewBenchmarkError("compare.sh", 2, nil)
	pub, err := r.PublishBenchmark(context.Background(), testRunContext(t), "run-1", rep, runErr)
	require.NoError(t, err)
	assert.True(t, pub.Commented)
	assert.Empty(t, pub.Artifacts)

	body := commenter.bodies[0]
	assert.Contains(t, body, "jikesrvm benchmark comparison failed")
	assert.Contains(t, body, "exited with status 2")
	assert.Contains(t, body, "error: benchmark crashed")
}

func TestPublishCheck(t *testing.T) {
	logPath := writeFile(t, filepath.Join(t.TempDir(), "openjdk-build-test.log"), "test output")

	t.Run("passed stores log without comment", func(t *testing.T) {
		commenter := &recordingCommenter{}
		r := &Reporter{Commenter: commenter, Store: FSStore{Dir: t.TempDir()}}
		res := &buildtest.TestResult{Passed: true, LogPath: logPath}

		pub, err := r.PublishCheck(context.Background(), testRunContext(t), "run-1", "openjdk", res, nil)
		require.NoError(t, err)
		assert.False(t, pub.Commented)
		require.Len(t, pub.Artifacts, 1)
		assert.Equal(t, "openjdk-build-test.log", pub.Artifacts[0].Name)
		assert.Empty(t, commenter.bodies)
	})

	t.Run("failed comments", func(t *testing.T) {
		commenter := &recordingCommenter{}
		r := &Reporter{Commenter: commenter, Store: FSStore{Dir: t.TempDir()}}
		res := &buildtest.TestResult{Stage: buildtest.StageTest, ExitCode: 101, LogPath: logPath, Output: "test foo ... FAILED", TestsPassed: 3, TestsFailed: 1}

		pub, err := r.PublishCheck(context.Background(), testRunContext(t), "run-1", "openjdk", res, nil)
		require.NoError(t, err)
		assert.True(t, pub.Commented)
		body := commenter.bodies[0]
		assert.Contains(t, body, "openjdk build and test failed")
		assert.Contains(t, body, "exited with status 101")
		assert.Contains(t, body, "3 passed, 1 failed")
		assert.Contains(t, body, "test foo ... FAILED")
	})
}

func TestPublishFailuresArePublishErrors(t *testing.T) {
	logPath := writeFile(t, filepath.Join(t.TempDir(), "b.log"), "x")
	r := &Reporter{
		Commenter: &recordingCommenter{err: fmt.Errorf("rate limited")},
		Store:     failingStore{},
	}
	res := &buildtest.TestResult{Stage: buildtest.StageSetup, ExitCode: 1, LogPath: logPath}

	pub, err := r.PublishCheck(context.Background(), testRunContext(t), "run-1", "jikesrvm", res, nil)
	require.Error(t, err)
	assert.False(t, pub.Commented)
	assert.Equal(t, errors.KindPublish, errors.KindOf(err))
	assert.True(t, errors.Is(err, errors.ErrCodePublishComment))
	assert.True(t, errors.Is(err, errors.ErrCodePublishArtifact))
}
