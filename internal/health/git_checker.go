package health

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Fetching a single commit by SHA with --depth needs protocol v2 fetch
// negotiation, which git has shipped since 2.18.
const (
	minGitMajor = 2
	minGitMinor = 18
)

// GitChecker checks that the git binary used for source acquisition is
// present and recent enough to fetch revisions by commit id.
type GitChecker struct{}

// NewGitChecker creates a new Git health checker.
func NewGitChecker() *GitChecker {
	return &GitChecker{}
}

// Name returns the name of this health check.
func (c *GitChecker) Name() string {
	return "git-binary"
}

// Check runs `git --version`.
// Returns:
//   - Healthy if git is installed with version >= 2.18
//   - Degraded if git is older or its version cannot be parsed
//   - Unhealthy if git is not installed or not executable
func (c *GitChecker) Check(ctx context.Context) *Result {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return Unhealthy("git command not found in PATH").
			WithDetail("error", err.Error()).
			WithDetail("suggestion", "Install git on the runner host")
	}

	output, err := exec.CommandContext(ctx, gitPath, "--version").CombinedOutput()
	if err != nil {
		return Unhealthy("failed to execute git command").
			WithDetail("error", err.Error()).
			WithDetail("output", strings.TrimSpace(string(output)))
	}

	versionStr := strings.TrimSpace(string(output))
	version := parseGitVersion(versionStr)
	if version == "" {
		return Degraded("git installed but version cannot be parsed").
			WithDetail("git_path", gitPath).
			WithDetail("version_output", versionStr)
	}

	major, minor, ok := splitVersion(version)
	if !ok || major < minGitMajor || (major == minGitMajor && minor < minGitMinor) {
		return Degraded(fmt.Sprintf("git %s cannot fetch commits by id", version)).
			WithDetail("git_path", gitPath).
			WithDetail("version", version).
			WithDetail("suggestion", fmt.Sprintf("Upgrade git to %d.%d or later", minGitMajor, minGitMinor))
	}

	return Healthy("git is installed and accessible").
		WithDetail("git_path", gitPath).
		WithDetail("version", version)
}

// parseGitVersion extracts the version from "git version X.Y.Z" output,
// dropping platform suffixes such as ".windows.1".
func parseGitVersion(versionOutput string) string {
	parts := strings.Fields(versionOutput)
	if len(parts) < 3 {
		return ""
	}
	version := parts[2]
	if version == "" || version[0] < '0' || version[0] > '9' {
		return ""
	}

	for _, suffix := range []string{".windows", ".darwin", ".linux", ".vfs"} {
		if idx := strings.Index(version, suffix); idx > 0 {
			version = version[:idx]
		}
	}
	return version
}

// splitVersion returns the numeric major and minor components. A bare
// major version reports minor 0.
func splitVersion(version string) (major, minor int, ok bool) {
	parts := strings.Split(version, ".")
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, false
	}
	if len(parts) > 1 {
		if minor, err = strconv.Atoi(parts[1]); err != nil {
			return 0, 0, false
		}
	}
	return major, minor, true
}
