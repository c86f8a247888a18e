package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, p string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0750))
	require.NoError(t, os.WriteFile(p, []byte("x"), 0640))
}

func TestCleanupRemovesState(t *testing.T) {
	base := t.TempDir()
	workspace := filepath.Join(base, "run-1")
	touch(t, filepath.Join(workspace, "src", "core", "Cargo.toml"))
	report := filepath.Join(base, "report.md")
	touch(t, report)
	logDir := filepath.Join(base, "toolkit", "log")
	touch(t, filepath.Join(logDir, "a.log"))
	touch(t, filepath.Join(logDir, "nested", "b.log"))

	var c Cleaner
	s := c.Cleanup(context.Background(), WorkingState{
		Dirs:      []string{workspace},
		Files:     []string{report},
		EmptyDirs: []string{logDir},
	})

	assert.Empty(t, s.Failures)
	assert.Equal(t, 4, s.Removed)
	assert.NoDirExists(t, workspace)
	assert.NoFileExists(t, report)
	assert.DirExists(t, logDir)
	entries, err := os.ReadDir(logDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCleanupMissingPathsAreNotFailures(t *testing.T) {
	base := t.TempDir()
	var c Cleaner
	s := c.Cleanup(context.Background(), WorkingState{
		Dirs:      []string{filepath.Join(base, "never-created")},
		Files:     []string{filepath.Join(base, "no-report.md")},
		EmptyDirs: []string{filepath.Join(base, "no-logs")},
	})
	assert.Empty(t, s.Failures)
	assert.Zero(t, s.Removed)
}

func TestCleanupRunsAfterCancellation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	touch(t, filepath.Join(dir, "f"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var c Cleaner
	c.Cleanup(ctx, WorkingState{Dirs: []string{dir}})
	assert.NoDirExists(t, dir)
}

func TestCleanupReportsFailures(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permission checks do not apply")
	}
	base := t.TempDir()
	locked := filepath.Join(base, "locked")
	touch(t, filepath.Join(locked, "f"))
	require.NoError(t, os.Chmod(locked, 0500))
	t.Cleanup(func() { _ = os.Chmod(locked, 0750) })

	var reported []Failure
	c := Cleaner{OnFailure: func(f Failure) { reported = append(reported, f) }}
	s := c.Cleanup(context.Background(), WorkingState{
		EmptyDirs: []string{locked},
		Dirs:      []string{""},
	})

	assert.Len(t, s.Failures, 2)
	assert.Len(t, reported, 2)
}
