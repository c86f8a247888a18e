package health

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolkitChecker(t *testing.T) {
	dir := t.TempDir()
	scripts := filepath.Join(dir, "scripts")
	require.NoError(t, os.MkdirAll(scripts, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(scripts, "jikesrvm-compare.sh"), []byte("#!/bin/sh\n"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(scripts, "openjdk-compare.sh"), []byte("#!/bin/sh\n"), 0o644))

	tests := []struct {
		name    string
		dir     string
		scripts []string
		want    Status
	}{
		{"all present", dir, []string{"scripts/jikesrvm-compare.sh"}, StatusHealthy},
		{"not executable", dir, []string{"scripts/openjdk-compare.sh"}, StatusDegraded},
		{"missing script", dir, []string{"scripts/jikesrvm-compare.sh", "scripts/nope.sh"}, StatusDegraded},
		{"missing dir", filepath.Join(dir, "absent"), nil, StatusUnhealthy},
		{"file not dir", filepath.Join(scripts, "jikesrvm-compare.sh"), nil, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewToolkitChecker(tt.dir, tt.scripts...)
			assert.Equal(t, "bench-toolkit", c.Name())
			result := c.Check(context.Background())
			assert.Equal(t, tt.want, result.Status, result.Message)
		})
	}
}

func TestWorkspaceChecker(t *testing.T) {
	root := filepath.Join(t.TempDir(), "work")

	c := NewWorkspaceChecker(root)
	assert.Equal(t, "workspace-root", c.Name())

	result := c.Check(context.Background())
	require.Equal(t, StatusHealthy, result.Status, result.Message)
	assert.DirExists(t, root)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "probe file should be removed")
}

func TestWorkspaceCheckerReadOnly(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	root := t.TempDir()
	require.NoError(t, os.Chmod(root, 0o500))
	t.Cleanup(func() { _ = os.Chmod(root, 0o750) })

	result := NewWorkspaceChecker(root).Check(context.Background())
	assert.Equal(t, StatusUnhealthy, result.Status)
}
