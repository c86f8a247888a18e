package bench

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/revcompare/internal/errors"
	"github.com/felixgeelhaar/revcompare/internal/objstore"
	"github.com/felixgeelhaar/revcompare/internal/objstore/objstoretest"
)

func TestStage_LocalFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "dacapo.jar")
	require.NoError(t, os.WriteFile(src, []byte("jar-bytes"), 0644))
	toolkit := t.TempDir()

	s := &Stager{ToolkitDir: toolkit}
	staged, err := s.Stage(context.Background(), []Asset{{Source: src, Dest: "running/benchmarks/dacapo.jar"}})
	require.NoError(t, err)
	require.Len(t, staged, 1)

	dest := filepath.Join(toolkit, "running/benchmarks/dacapo.jar")
	assert.Equal(t, dest, staged[0])
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "jar-bytes", string(data))

	// Unchanged content is not rewritten.
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(dest, old, old))
	_, err = s.Stage(context.Background(), []Asset{{Source: src, Dest: "running/benchmarks/dacapo.jar"}})
	require.NoError(t, err)
	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.WithinDuration(t, old, info.ModTime(), time.Second)

	// Changed content is.
	require.NoError(t, os.WriteFile(src, []byte("new-jar"), 0644))
	_, err = s.Stage(context.Background(), []Asset{{Source: src, Dest: "running/benchmarks/dacapo.jar"}})
	require.NoError(t, err)
	data, err = os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "new-jar", string(data))
}

func TestStage_LocalDirectory(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "scratch"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(src, "scratch", "input.txt"), []byte("x"), 0600))

	dest := filepath.Join(t.TempDir(), "workload")
	_, err := (&Stager{}).Stage(context.Background(), []Asset{{Source: src, Dest: dest}})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dest, "scratch", "input.txt"))
}

func TestStage_S3(t *testing.T) {
	srv := objstoretest.NewServer()
	defer srv.Close()
	srv.Put("benchmarks", "dacapo/dacapo.jar", []byte("remote-jar"))

	client, err := objstore.New(objstore.Config{Endpoint: srv.Endpoint(), AccessKey: "a", SecretKey: "b"})
	require.NoError(t, err)

	toolkit := t.TempDir()
	s := &Stager{ToolkitDir: toolkit, S3: client}
	_, err = s.Stage(context.Background(), []Asset{{Source: "s3://benchmarks/dacapo/dacapo.jar", Dest: "dacapo.jar"}})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(toolkit, "dacapo.jar"))
	require.NoError(t, err)
	assert.Equal(t, "remote-jar", string(data))
}

func TestStage_Failures(t *testing.T) {
	tests := []struct {
		name  string
		s     *Stager
		asset Asset
	}{
		{name: "missing local source", s: &Stager{ToolkitDir: t.TempDir()}, asset: Asset{Source: "/nonexistent/dacapo.jar", Dest: "d.jar"}},
		{name: "s3 without store", s: &Stager{ToolkitDir: t.TempDir()}, asset: Asset{Source: "s3://b/k.jar", Dest: "k.jar"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.s.Stage(context.Background(), []Asset{tt.asset})
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrCodeBenchStageAssets))
			assert.Equal(t, errors.KindBenchmark, errors.KindOf(err))
		})
	}
}
