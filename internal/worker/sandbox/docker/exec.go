package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
)

// ExecShell starts an interactive shell inside a running container and
// returns the attached duplex stream. Tty mode keeps output unmultiplexed.
func (c *Client) ExecShell(ctx context.Context, containerID string) (*ExecConn, error) {
	if containerID == "" {
		return nil, fmt.Errorf("container id cannot be empty")
	}
	created, err := c.inner.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          []string{"/bin/sh"},
		Tty:          true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create exec: %w", err)
	}
	attached, err := c.inner.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: true})
	if err != nil {
		return nil, fmt.Errorf("attach exec: %w", err)
	}
	return &ExecConn{resp: attached}, nil
}

// ExecConn adapts a hijacked exec attachment to an io.ReadWriteCloser.
type ExecConn struct {
	resp types.HijackedResponse
}

// Read consumes shell output.
func (e *ExecConn) Read(p []byte) (int, error) {
	return e.resp.Reader.Read(p)
}

// Write feeds input to the shell's stdin.
func (e *ExecConn) Write(p []byte) (int, error) {
	return e.resp.Conn.Write(p)
}

// Close tears down the attachment.
func (e *ExecConn) Close() error {
	e.resp.Close()
	return nil
}
