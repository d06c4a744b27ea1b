package docker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

// ContainerInfo captures minimal runtime details about a started container.
type ContainerInfo struct {
	ID       string
	HostPort string
}

// RunContainer creates and starts a container with the source directory
// bind-mounted at /app and the app port published on an ephemeral host
// port.
func (c *Client) RunContainer(ctx context.Context, name, imageTag, sourceDir string, appPort int) (ContainerInfo, error) {
	if strings.TrimSpace(name) == "" {
		return ContainerInfo{}, fmt.Errorf("container name cannot be empty")
	}
	if strings.TrimSpace(imageTag) == "" {
		return ContainerInfo{}, fmt.Errorf("image name cannot be empty")
	}
	port, err := nat.NewPort("tcp", fmt.Sprintf("%d", appPort))
	if err != nil {
		return ContainerInfo{}, fmt.Errorf("invalid app port: %w", err)
	}

	config := &container.Config{
		Image:        imageTag,
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: ""}},
		},
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: sourceDir,
			Target: "/app",
		}},
		RestartPolicy: container.RestartPolicy{Name: "always"},
	}

	r, err := c.inner.ContainerCreate(ctx, config, hostCfg, nil, nil, name)
	if err != nil {
		return ContainerInfo{}, fmt.Errorf("container create: %w", err)
	}
	if err := c.inner.ContainerStart(ctx, r.ID, container.StartOptions{}); err != nil {
		return ContainerInfo{}, fmt.Errorf("container start: %w", err)
	}

	hostPort, err := c.waitForHostPort(ctx, r.ID, port)
	if err != nil {
		return ContainerInfo{}, err
	}
	return ContainerInfo{ID: r.ID, HostPort: hostPort}, nil
}

func (c *Client) waitForHostPort(ctx context.Context, containerID string, port nat.Port) (string, error) {
	var inspect types.ContainerJSON
	var err error
	for attempt := 0; attempt < 10; attempt++ {
		inspect, err = c.inner.ContainerInspect(ctx, containerID)
		if err != nil {
			return "", fmt.Errorf("container inspect: %w", err)
		}
		if inspect.NetworkSettings != nil {
			for _, binding := range inspect.NetworkSettings.Ports[port] {
				if hostPort := strings.TrimSpace(binding.HostPort); hostPort != "" {
					return hostPort, nil
				}
			}
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("wait for host port: %w", ctx.Err())
		case <-time.After(200 * time.Millisecond):
		}
	}
	return "", fmt.Errorf("container %s exposed no host port", containerID)
}

// RemoveContainer removes a container if it exists. Not-found is success.
func (c *Client) RemoveContainer(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("container name cannot be empty")
	}
	if err := c.inner.ContainerRemove(ctx, name, container.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove container: %w", err)
	}
	return nil
}

// RemoveImage deletes an image tag if it exists. Not-found is success.
func (c *Client) RemoveImage(ctx context.Context, tag string) error {
	if strings.TrimSpace(tag) == "" {
		return fmt.Errorf("image tag cannot be empty")
	}
	if _, err := c.inner.ImageRemove(ctx, tag, image.RemoveOptions{Force: true, PruneChildren: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("remove image: %w", err)
	}
	return nil
}
