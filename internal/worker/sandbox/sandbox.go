package sandbox

import (
	"context"
	"io"
)

// Info captures the identity and reachable address of a started sandbox.
type Info struct {
	ContainerID string
	URL         string
}

// ExecStream is an interactive duplex shell stream inside a sandbox:
// commands in, output out.
type ExecStream interface {
	io.ReadWriteCloser
}

// Runtime is the isolated-execution capability the worker consumes. Create
// is called once per project; Destroy and DestroyImage are idempotent and
// succeed when the resource is already gone.
type Runtime interface {
	Create(ctx context.Context, projectID int64, projectType string) (Info, error)
	Exec(ctx context.Context, containerID string) (ExecStream, error)
	Destroy(ctx context.Context, containerID string) error
	DestroyImage(ctx context.Context, projectID int64) error
}
