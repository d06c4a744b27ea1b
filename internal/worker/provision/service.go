package provision

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/coderoom/internal/apperr"
	"github.com/splax/coderoom/internal/domain"
	"github.com/splax/coderoom/internal/queue"
	"github.com/splax/coderoom/internal/repository"
	"github.com/splax/coderoom/internal/storage"
	"github.com/splax/coderoom/internal/worker/bridge"
	"github.com/splax/coderoom/internal/worker/reconciler"
	"github.com/splax/coderoom/internal/worker/sandbox"
)

// Service consumes provisioning jobs: it claims the project, builds and
// starts the sandbox, records the result, and launches the file watcher.
// It also owns worker-side teardown.
type Service struct {
	projects   repository.ProjectRepository
	files      repository.FileRepository
	runtime    sandbox.Runtime
	storage    *storage.Manager
	watchers   *reconciler.Set
	terminals  *bridge.Bridge
	logger     *slog.Logger
	instanceID int64

	metricsOnce        sync.Once
	metricsInitialized bool
	provisionResults   *prometheus.CounterVec
}

// New wires a provisioning service for one worker instance.
func New(
	projects repository.ProjectRepository,
	files repository.FileRepository,
	runtime sandbox.Runtime,
	store *storage.Manager,
	watchers *reconciler.Set,
	terminals *bridge.Bridge,
	instanceID int64,
	logger *slog.Logger,
) *Service {
	s := &Service{
		projects:   projects,
		files:      files,
		runtime:    runtime,
		storage:    store,
		watchers:   watchers,
		terminals:  terminals,
		logger:     logger,
		instanceID: instanceID,
	}
	s.initMetrics()
	return s
}

// HandleJob is the queue consumer entrypoint. Delivery is at-least-once, so
// the queued->provisioning transition acts as the claim: a duplicate job
// finds the lease taken and does nothing.
func (s *Service) HandleJob(ctx context.Context, job queue.Job) error {
	claimed, err := s.projects.TransitionProjectStatus(ctx, job.ProjectID, domain.StatusQueued, domain.StatusProvisioning)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("job for missing project dropped", "project_id", job.ProjectID)
			return nil
		}
		return fmt.Errorf("claim project %d: %w", job.ProjectID, err)
	}
	if !claimed {
		s.logger.Info("duplicate job ignored", "project_id", job.ProjectID)
		return nil
	}

	info, err := s.runtime.Create(ctx, job.ProjectID, job.Type)
	if err != nil {
		s.rollback(ctx, job.ProjectID, info.ContainerID)
		s.recordOutcome("failure")
		return fmt.Errorf("%w: project %d: %v", apperr.ErrSandboxCreateFailed, job.ProjectID, err)
	}

	result := domain.ProvisionResult{
		ProjectID:   job.ProjectID,
		ContainerID: info.ContainerID,
		URL:         info.URL,
		InstanceID:  s.instanceID,
	}
	if err := s.projects.RecordProvisionResult(ctx, result); err != nil {
		s.rollback(ctx, job.ProjectID, info.ContainerID)
		s.recordOutcome("failure")
		return fmt.Errorf("record provision result for project %d: %w", job.ProjectID, err)
	}

	s.watchers.Start(ctx, job.ProjectID, s.storage.ProjectDir(job.ProjectID))
	s.recordOutcome("success")
	s.logger.Info("project provisioned", "project_id", job.ProjectID, "container_id", info.ContainerID, "url", info.URL)
	return nil
}

// rollback undoes a failed provisioning attempt completely: the sandbox, the
// file records, the on-disk tree, and the project row itself. Nothing
// half-provisioned is left for a user to observe.
func (s *Service) rollback(ctx context.Context, projectID int64, containerID string) {
	if err := s.runtime.Destroy(ctx, containerID); err != nil {
		s.logger.Warn("rollback container removal failed", "project_id", projectID, "error", err)
	}
	if err := s.runtime.DestroyImage(ctx, projectID); err != nil {
		s.logger.Warn("rollback image removal failed", "project_id", projectID, "error", err)
	}
	if err := s.files.DeleteFilesByProject(ctx, projectID); err != nil {
		s.logger.Warn("rollback file records failed", "project_id", projectID, "error", err)
	}
	if err := s.storage.CleanupProject(projectID); err != nil {
		s.logger.Warn("rollback storage cleanup failed", "project_id", projectID, "error", err)
	}
	if err := s.projects.DeleteProject(ctx, projectID); err != nil {
		s.logger.Warn("rollback project row failed", "project_id", projectID, "error", err)
	}
	s.logger.Info("provisioning rolled back", "project_id", projectID)
}

// AttachTerminal opens a shell session for a ready project owned by this
// instance and bridges it to the control plane.
func (s *Service) AttachTerminal(ctx context.Context, projectID int64) error {
	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		return err
	}
	if project.Status != domain.StatusReady {
		return apperr.Validation("project %d is not ready (status %s)", projectID, project.Status)
	}
	if project.ContainerID == "" {
		return apperr.Validation("project %d has no sandbox container", projectID)
	}
	return s.terminals.Attach(ctx, projectID, project.ContainerID)
}

// Teardown releases everything this worker holds for the project: the live
// terminal session, the file watcher, the container, and the image. A
// project that is already gone is reported as ErrNotFound so the caller can
// treat repeated teardown as success.
func (s *Service) Teardown(ctx context.Context, projectID int64) error {
	s.terminals.Detach(projectID)
	s.watchers.Stop(projectID)

	project, err := s.projects.GetProjectByID(ctx, projectID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Row already deleted; the image may still linger.
			if imgErr := s.runtime.DestroyImage(ctx, projectID); imgErr != nil {
				s.logger.Warn("image removal failed", "project_id", projectID, "error", imgErr)
			}
			return repository.ErrNotFound
		}
		return err
	}

	if err := s.runtime.Destroy(ctx, project.ContainerID); err != nil {
		return fmt.Errorf("destroy sandbox for project %d: %w", projectID, err)
	}
	if err := s.runtime.DestroyImage(ctx, projectID); err != nil {
		s.logger.Warn("image removal failed", "project_id", projectID, "error", err)
	}
	s.logger.Info("sandbox torn down", "project_id", projectID)
	return nil
}

// ResumeWatchers restarts file watchers for ready projects this instance
// already owns, after a worker restart.
func (s *Service) ResumeWatchers(ctx context.Context, projects []domain.Project) {
	for _, project := range projects {
		if project.Status != domain.StatusReady || project.InstanceID != s.instanceID {
			continue
		}
		s.watchers.Start(ctx, project.ID, s.storage.ProjectDir(project.ID))
		s.logger.Info("file watcher resumed", "project_id", project.ID)
	}
}
