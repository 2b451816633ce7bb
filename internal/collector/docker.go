package collector

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

type containerLister interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	Close() error
}

// DockerCollector reports container counts by state from a Docker daemon
type DockerCollector struct {
	docker containerLister
}

// NewDockerCollector connects to the daemon at host, or to the one described
// by the DOCKER_* environment when host is empty
func NewDockerCollector(host string) (*DockerCollector, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	docker, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerCollector{docker: docker}, nil
}

// Collect implements Collector
func (c *DockerCollector) Collect(ctx context.Context) (map[string]float64, error) {
	containers, err := c.docker.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	metrics := map[string]float64{
		"containers_total":      float64(len(containers)),
		"containers_running":    0,
		"containers_exited":     0,
		"containers_paused":     0,
		"containers_restarting": 0,
		"containers_unhealthy":  0,
	}
	for _, ctr := range containers {
		switch ctr.State {
		case "running":
			metrics["containers_running"]++
		case "exited", "dead":
			metrics["containers_exited"]++
		case "paused":
			metrics["containers_paused"]++
		case "restarting":
			metrics["containers_restarting"]++
		}
		if strings.Contains(ctr.Status, "(unhealthy)") {
			metrics["containers_unhealthy"]++
		}
	}
	return metrics, nil
}

// Close closes the docker client
func (c *DockerCollector) Close() error {
	return c.docker.Close()
}
