package health

import (
	"context"
	"os/exec"
	"strings"
)

// DockerChecker checks that the docker daemon used by the containerized
// build/test runner is reachable and reports which pinned images are cached.
type DockerChecker struct {
	images []string
}

// NewDockerChecker creates a Docker health checker. Images that are not
// present locally degrade the result, since the first run pays for the pull.
func NewDockerChecker(images ...string) *DockerChecker {
	return &DockerChecker{images: images}
}

// Name returns the name of this health check.
func (c *DockerChecker) Name() string {
	return "docker-daemon"
}

// Check runs `docker info` and `docker image inspect` for each image.
func (c *DockerChecker) Check(ctx context.Context) *Result {
	dockerPath, err := exec.LookPath("docker")
	if err != nil {
		return Unhealthy("docker command not found in PATH").
			WithDetail("error", err.Error()).
			WithDetail("suggestion", "Install Docker Engine or set build_test.runner to local")
	}

	output, err := exec.CommandContext(ctx, dockerPath, "info", "--format", "{{.ServerVersion}}").CombinedOutput()
	if err != nil {
		errMsg := strings.TrimSpace(string(output))
		if strings.Contains(errMsg, "Cannot connect to the Docker daemon") {
			return Unhealthy("Docker daemon is not running").
				WithDetail("error", errMsg).
				WithDetail("suggestion", "Start the Docker daemon")
		}
		return Unhealthy("Failed to connect to Docker daemon").
			WithDetail("error", err.Error()).
			WithDetail("output", errMsg)
	}

	version := strings.TrimSpace(string(output))
	if version == "" {
		return Degraded("Docker daemon responding but version unknown").
			WithDetail("docker_path", dockerPath)
	}

	var missing []string
	for _, image := range c.images {
		if image == "" {
			continue
		}
		if err := exec.CommandContext(ctx, dockerPath, "image", "inspect", image).Run(); err != nil {
			missing = append(missing, image)
		}
	}
	if len(missing) > 0 {
		return Degraded("Docker daemon is running but images are not cached").
			WithDetail("docker_path", dockerPath).
			WithDetail("server_version", version).
			WithDetail("missing_images", missing)
	}

	return Healthy("Docker daemon is running").
		WithDetail("docker_path", dockerPath).
		WithDetail("server_version", version)
}
