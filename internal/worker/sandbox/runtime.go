package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"log/slog"

	"github.com/splax/coderoom/internal/scaffold"
	"github.com/splax/coderoom/internal/storage"
	"github.com/splax/coderoom/internal/worker/sandbox/docker"
	"github.com/splax/coderoom/pkg/config"
)

// DockerRuntime implements Runtime on the local Docker daemon: one image and
// one container per project, with the project's storage bind-mounted at
// /app.
type DockerRuntime struct {
	docker  *docker.Client
	storage *storage.Manager
	logger  *slog.Logger
	cfg     config.WorkerConfig
}

var _ Runtime = (*DockerRuntime)(nil)

// NewDockerRuntime returns a Docker-backed sandbox runtime.
func NewDockerRuntime(cli *docker.Client, store *storage.Manager, logger *slog.Logger, cfg config.WorkerConfig) *DockerRuntime {
	return &DockerRuntime{docker: cli, storage: store, logger: logger, cfg: cfg}
}

// Create builds the project image and starts its container, returning the
// container identity and the externally reachable URL.
func (r *DockerRuntime) Create(ctx context.Context, projectID int64, projectType string) (Info, error) {
	tpl, ok := scaffold.Lookup(projectType)
	if !ok {
		return Info{}, fmt.Errorf("unknown project type %q", projectType)
	}

	tag := r.imageTag(projectID)
	buildDir, err := r.writeBuildContext(tpl)
	if err != nil {
		return Info{}, err
	}
	defer os.RemoveAll(buildDir)

	if err := r.docker.BuildImage(ctx, buildDir, tag, func(line string) {
		r.logger.Debug("sandbox image build output", "project_id", projectID, "line", line)
	}); err != nil {
		return Info{}, fmt.Errorf("build sandbox image: %w", err)
	}

	name := r.containerName(projectID)
	// A duplicate job may have left a stale container behind.
	if err := r.docker.RemoveContainer(ctx, name); err != nil {
		r.logger.Warn("remove stale container failed", "project_id", projectID, "error", err)
	}

	info, err := r.docker.RunContainer(ctx, name, tag, r.storage.ProjectDir(projectID), r.cfg.SandboxAppPort)
	if err != nil {
		return Info{}, fmt.Errorf("start sandbox container: %w", err)
	}

	url := fmt.Sprintf("http://%s:%s", r.cfg.SandboxHost, info.HostPort)
	r.logger.Info("sandbox started", "project_id", projectID, "container_id", info.ID, "url", url)
	return Info{ContainerID: info.ID, URL: url}, nil
}

// Exec opens an interactive shell stream inside the sandbox.
func (r *DockerRuntime) Exec(ctx context.Context, containerID string) (ExecStream, error) {
	return r.docker.ExecShell(ctx, containerID)
}

// Destroy removes the sandbox container; already-gone is success.
func (r *DockerRuntime) Destroy(ctx context.Context, containerID string) error {
	if strings.TrimSpace(containerID) == "" {
		return nil
	}
	return r.docker.RemoveContainer(ctx, containerID)
}

// DestroyImage removes the project's image; already-gone is success.
func (r *DockerRuntime) DestroyImage(ctx context.Context, projectID int64) error {
	return r.docker.RemoveImage(ctx, r.imageTag(projectID))
}

func (r *DockerRuntime) imageTag(projectID int64) string {
	registry := strings.TrimSuffix(r.cfg.ImageRegistry, "/")
	if registry == "" {
		registry = "coderoom"
	}
	return fmt.Sprintf("%s/project-%d:latest", registry, projectID)
}

func (r *DockerRuntime) containerName(projectID int64) string {
	return fmt.Sprintf("coderoom-project-%d", projectID)
}

// writeBuildContext lays a minimal Dockerfile into a temp directory. The
// project sources are bind-mounted at run time, so the image is just the
// base plus the bootstrap entrypoint.
func (r *DockerRuntime) writeBuildContext(tpl scaffold.Template) (string, error) {
	dir, err := os.MkdirTemp("", "coderoom-build-")
	if err != nil {
		return "", fmt.Errorf("create build context: %w", err)
	}
	dockerfile := fmt.Sprintf("FROM %s\nWORKDIR /app\nCMD [\"/bin/sh\", \"/app/%s\"]\n", tpl.BaseImage, scaffold.BootstrapFileName)
	if err := os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(dockerfile), 0o644); err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("write dockerfile: %w", err)
	}
	return dir, nil
}
