package resurrector

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// DockerBackend implements Backend against the local Docker daemon. Named
// containers are resolved by name, matching the upstream killer's
// target_module naming convention.
type DockerBackend struct {
	cli *client.Client
}

// NewDockerBackend connects to the Docker daemon using the standard
// environment-derived configuration (DOCKER_HOST etc).
func NewDockerBackend() (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerBackend{cli: cli}, nil
}

func (d *DockerBackend) Lookup(ctx context.Context, targetModule string) (string, error) {
	inspect, err := d.cli.ContainerInspect(ctx, targetModule)
	if err != nil {
		return "", fmt.Errorf("container %q not found: %w", targetModule, err)
	}
	return inspect.ID, nil
}

func (d *DockerBackend) Restart(ctx context.Context, containerID string, stopTimeout time.Duration) error {
	seconds := int(stopTimeout.Seconds())
	return d.cli.ContainerRestart(ctx, containerID, container.StopOptions{Timeout: &seconds})
}

func (d *DockerBackend) Health(ctx context.Context, containerID string) (healthy, running, ok bool, err error) {
	inspect, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return false, false, false, fmt.Errorf("inspect %s: %w", containerID, err)
	}

	state := inspect.State
	if state == nil {
		return false, false, false, nil
	}
	running = state.Running

	if state.Health != nil {
		switch state.Health.Status {
		case "healthy":
			return true, running, true, nil
		case "unhealthy":
			return false, running, true, nil
		default: // "starting"
			return false, running, false, nil
		}
	}

	// No health spec: "running for >= 2s without exit" counts as healthy.
	startedAt, parseErr := time.Parse(time.RFC3339Nano, state.StartedAt)
	if parseErr != nil || time.Since(startedAt) < noHealthSpecGrace {
		return false, running, false, nil
	}
	return running, running, true, nil
}

func (d *DockerBackend) Stop(ctx context.Context, containerID string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	return d.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds})
}

// Close releases the underlying Docker client connection.
func (d *DockerBackend) Close() error {
	return d.cli.Close()
}
