package exec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	perrors "github.com/felixgeelhaar/revcompare/internal/errors"
)

// DockerRunner executes steps inside a container. Host paths are mounted at
// identical paths so that absolute paths written into manifests resolve the
// same way inside and outside the container.
type DockerRunner struct {
	// Defaults supplies Image, Network, CPU and Mem when a step leaves them empty.
	Defaults Step
}

// Name returns "docker"
func (*DockerRunner) Name() string { return RunnerDocker }

// Run executes the step in a fresh container
func (d *DockerRunner) Run(ctx context.Context, step Step) (*Result, error) {
	step = d.withDefaults(step)
	if step.Image == "" {
		return nil, perrors.NewConfigInvalidError("docker runner requires build_test.image")
	}
	if err := ValidateDockerAvailable(ctx); err != nil {
		return nil, err
	}
	if err := EnsureImage(ctx, step.Image); err != nil {
		return nil, perrors.Wrap(perrors.ErrCodeExecStartFailed, "failed to prepare image "+step.Image, err)
	}

	cmd := exec.Command("docker", buildDockerArgs(step)...)
	return runCommand(ctx, cmd, step)
}

func (d *DockerRunner) withDefaults(step Step) Step {
	if step.Image == "" {
		step.Image = d.Defaults.Image
	}
	if step.Network == "" {
		step.Network = d.Defaults.Network
	}
	if step.CPU == "" {
		step.CPU = d.Defaults.CPU
	}
	if step.Mem == "" {
		step.Mem = d.Defaults.Mem
	}
	return step
}

// buildDockerArgs constructs the docker run arguments for a step
func buildDockerArgs(step Step) []string {
	args := []string{"run", "--rm", "--init"}

	if step.Network != "" {
		args = append(args, "--network", step.Network)
	}
	if step.CPU != "" {
		args = append(args, "--cpus", step.CPU)
	}
	if step.Mem != "" {
		args = append(args, "--memory", step.Mem)
	}

	args = append(args,
		"--pids-limit", "4096",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
	)

	mounted := make(map[string]bool)
	for _, m := range append([]string{step.Workdir}, step.Mounts...) {
		if m == "" || mounted[m] {
			continue
		}
		mounted[m] = true
		args = append(args, "-v", fmt.Sprintf("%s:%s", m, m))
	}
	if step.Workdir != "" {
		args = append(args, "-w", step.Workdir)
	}

	for _, kv := range envList(step.Env) {
		args = append(args, "-e", kv)
	}

	args = append(args, step.Image)
	return append(args, step.Cmd...)
}

// ValidateDockerAvailable checks that the docker daemon answers
func ValidateDockerAvailable(ctx context.Context) error {
	if err := exec.CommandContext(ctx, "docker", "version").Run(); err != nil {
		return perrors.NewExecDockerNotAvailableError()
	}
	return nil
}

// EnsureImage pulls image unless it is already present locally
func EnsureImage(ctx context.Context, image string) error {
	exists, err := ImageExists(ctx, image)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return PullImage(ctx, image)
}

// PullImage pulls a Docker image
func PullImage(ctx context.Context, image string) error {
	cmd := exec.CommandContext(ctx, "docker", "pull", image)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to pull image %s: %s", image, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// ImageExists checks if a Docker image exists locally
func ImageExists(ctx context.Context, image string) (bool, error) {
	cmd := exec.CommandContext(ctx, "docker", "image", "inspect", image)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := stderr.String()
		if strings.Contains(msg, "No such") || strings.Contains(err.Error(), "exit status 1") {
			return false, nil
		}
		return false, fmt.Errorf("docker image inspect failed: %w: %s", err, msg)
	}
	return true, nil
}
