package collector

import (
	"context"
	"errors"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDocker struct {
	containers []types.Container
	err        error
	closed     bool
}

func (f *fakeDocker) ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error) {
	return f.containers, f.err
}

func (f *fakeDocker) Close() error {
	f.closed = true
	return nil
}

func TestDockerCollector(t *testing.T) {
	fake := &fakeDocker{containers: []types.Container{
		{ID: "a", State: "running", Status: "Up 2 hours (healthy)"},
		{ID: "b", State: "running", Status: "Up 5 minutes (unhealthy)"},
		{ID: "c", State: "exited", Status: "Exited (1) 3 hours ago"},
		{ID: "d", State: "restarting", Status: "Restarting (1) 2 seconds ago"},
	}}
	c := &DockerCollector{docker: fake}

	metrics, err := c.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4.0, metrics["containers_total"])
	assert.Equal(t, 2.0, metrics["containers_running"])
	assert.Equal(t, 1.0, metrics["containers_exited"])
	assert.Equal(t, 1.0, metrics["containers_restarting"])
	assert.Equal(t, 1.0, metrics["containers_unhealthy"])
	assert.Equal(t, 0.0, metrics["containers_paused"])

	require.NoError(t, Close(c))
	assert.True(t, fake.closed)
}

func TestDockerCollector_DaemonError(t *testing.T) {
	c := &DockerCollector{docker: &fakeDocker{err: errors.New("Cannot connect to the Docker daemon")}}
	_, err := c.Collect(context.Background())
	require.ErrorContains(t, err, "failed to list containers")
}
