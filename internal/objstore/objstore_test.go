package objstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/revcompare/internal/objstore/objstoretest"
)

func newTestClient(t *testing.T) (*Client, *objstoretest.Server) {
	t.Helper()
	srv := objstoretest.NewServer()
	t.Cleanup(srv.Close)

	c, err := New(Config{Endpoint: srv.Endpoint(), AccessKey: "ak", SecretKey: "sk"})
	require.NoError(t, err)
	return c, srv
}

func TestConfigValidate(t *testing.T) {
	valid := Config{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"}
	assert.NoError(t, valid.Validate())

	withScheme := valid
	withScheme.Endpoint = "http://localhost:9000"
	assert.Error(t, withScheme.Validate())

	noKeys := valid
	noKeys.SecretKey = ""
	assert.Error(t, noKeys.Validate())
}

func TestUploadDownload(t *testing.T) {
	c, srv := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.EnsureBucket(ctx, "artifacts"))
	require.NoError(t, c.Ping(ctx, "artifacts"))

	src := filepath.Join(t.TempDir(), "report.md")
	require.NoError(t, os.WriteFile(src, []byte("# jikesrvm comparison\n"), 0600))
	require.NoError(t, c.Upload(ctx, "artifacts", "runs/1/report.md", src, "text/markdown"))

	stored, ok := srv.Object("artifacts", "runs/1/report.md")
	require.True(t, ok)
	assert.Equal(t, "# jikesrvm comparison\n", string(stored))

	dest := filepath.Join(t.TempDir(), "nested", "copy.md")
	require.NoError(t, c.Download(ctx, "artifacts", "runs/1/report.md", dest))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, stored, got)
}

func TestDownloadMissing(t *testing.T) {
	c, srv := newTestClient(t)
	srv.CreateBucket("assets")

	err := c.Download(context.Background(), "assets", "dacapo.jar", filepath.Join(t.TempDir(), "d.jar"))
	assert.Error(t, err)
}

func TestPingMissingBucket(t *testing.T) {
	c, _ := newTestClient(t)
	assert.Error(t, c.Ping(context.Background(), "nope"))
}

func TestParseURL(t *testing.T) {
	bucket, key, err := ParseURL("s3://benchmarks/dacapo/dacapo-2006-10-MR2.jar")
	require.NoError(t, err)
	assert.Equal(t, "benchmarks", bucket)
	assert.Equal(t, "dacapo/dacapo-2006-10-MR2.jar", key)

	for _, bad := range []string{"/local/path", "s3://bucket-only", "s3:///key"} {
		_, _, err := ParseURL(bad)
		assert.Error(t, err, bad)
	}
	assert.True(t, IsURL("s3://b/k"))
	assert.False(t, IsURL("/b/k"))
}
