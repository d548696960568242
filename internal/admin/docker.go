package admin

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/client"
)

// ContainerInspector is the part of the docker client the resolver needs.
type ContainerInspector interface {
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
}

// DockerResolver maps a container to the pid of its main process.
type DockerResolver struct {
	inspector ContainerInspector
	closer    func() error
}

// NewDockerResolver connects to the docker daemon configured in the
// environment.
func NewDockerResolver() (*DockerResolver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &DockerResolver{inspector: cli, closer: cli.Close}, nil
}

func NewDockerResolverWith(inspector ContainerInspector) *DockerResolver {
	return &DockerResolver{inspector: inspector}
}

// PID returns the host pid of the running container.
func (r *DockerResolver) PID(ctx context.Context, container string) (int, error) {
	info, err := r.inspector.ContainerInspect(ctx, container)
	if err != nil {
		if client.IsErrNotFound(err) {
			return 0, fmt.Errorf("container %s: %w", container, ErrNotFound)
		}
		return 0, fmt.Errorf("failed to inspect container %s: %w", container, err)
	}
	if info.ContainerJSONBase == nil || info.State == nil || info.State.Pid == 0 {
		return 0, fmt.Errorf("container %s is not running: %w", container, ErrNotFound)
	}
	return info.State.Pid, nil
}

func (r *DockerResolver) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
