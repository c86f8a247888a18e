package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// ToolkitChecker checks that the benchmark toolkit directory is present and
// holds every compare script the bindings reference.
type ToolkitChecker struct {
	dir     string
	scripts []string
}

// NewToolkitChecker creates a toolkit checker. Scripts are relative to dir.
func NewToolkitChecker(dir string, scripts ...string) *ToolkitChecker {
	return &ToolkitChecker{dir: dir, scripts: scripts}
}

// Name returns the name of this health check.
func (c *ToolkitChecker) Name() string {
	return "bench-toolkit"
}

// Check returns Unhealthy when the directory is missing and Degraded when
// only some compare scripts are missing or not executable.
func (c *ToolkitChecker) Check(ctx context.Context) *Result {
	info, err := os.Stat(c.dir)
	if err != nil {
		return Unhealthy("benchmark toolkit directory not found").
			WithDetail("dir", c.dir).
			WithDetail("error", err.Error()).
			WithDetail("suggestion", "Install the toolkit or set bench.toolkit_dir")
	}
	if !info.IsDir() {
		return Unhealthy("benchmark toolkit path is not a directory").
			WithDetail("dir", c.dir)
	}

	var missing []string
	for _, script := range c.scripts {
		if err := ctx.Err(); err != nil {
			return Unhealthy("check cancelled").WithDetail("error", err.Error())
		}
		fi, err := os.Stat(filepath.Join(c.dir, script))
		switch {
		case err != nil:
			missing = append(missing, script)
		case fi.Mode()&0o111 == 0:
			missing = append(missing, script+" (not executable)")
		}
	}
	if len(missing) > 0 {
		return Degraded(fmt.Sprintf("%d compare script(s) unavailable", len(missing))).
			WithDetail("dir", c.dir).
			WithDetail("missing", missing)
	}

	return Healthy("benchmark toolkit is installed").
		WithDetail("dir", c.dir).
		WithDetail("scripts", len(c.scripts))
}

// WorkspaceChecker checks that per-run workspaces can be created under root.
type WorkspaceChecker struct {
	root string
}

// NewWorkspaceChecker creates a workspace root checker.
func NewWorkspaceChecker(root string) *WorkspaceChecker {
	return &WorkspaceChecker{root: root}
}

// Name returns the name of this health check.
func (c *WorkspaceChecker) Name() string {
	return "workspace-root"
}

// Check creates the root if needed and probes it with a temporary file.
func (c *WorkspaceChecker) Check(ctx context.Context) *Result {
	if err := os.MkdirAll(c.root, 0750); err != nil {
		return Unhealthy("workspace root cannot be created").
			WithDetail("root", c.root).
			WithDetail("error", err.Error())
	}

	f, err := os.CreateTemp(c.root, ".probe-*")
	if err != nil {
		return Unhealthy("workspace root is not writable").
			WithDetail("root", c.root).
			WithDetail("error", err.Error())
	}
	name := f.Name()
	_ = f.Close()
	if err := os.Remove(name); err != nil {
		return Degraded("workspace probe file could not be removed").
			WithDetail("root", c.root).
			WithDetail("error", err.Error())
	}

	return Healthy("workspace root is writable").WithDetail("root", c.root)
}
