package project

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/splax/coderoom/internal/apperr"
	"github.com/splax/coderoom/internal/domain"
	"github.com/splax/coderoom/internal/queue"
	"github.com/splax/coderoom/internal/repository"
	"github.com/splax/coderoom/internal/scaffold"
	"github.com/splax/coderoom/internal/storage"
	"github.com/splax/coderoom/pkg/config"
)

// CreateInput encapsulates project creation attributes.
type CreateInput struct {
	Name   string `json:"name"`
	UserID int64  `json:"userId"`
	Type   string `json:"type"`
}

// JobPublisher publishes provisioning jobs to the durable queue.
type JobPublisher interface {
	Publish(ctx context.Context, job queue.Job) error
}

// WorkerClient routes teardown requests to the owning worker.
type WorkerClient interface {
	Teardown(ctx context.Context, address string, projectID int64) error
}

// Service drives the project lifecycle on the control plane.
type Service struct {
	projects  repository.ProjectRepository
	files     repository.FileRepository
	instances repository.InstanceRepository
	publisher JobPublisher
	worker    WorkerClient
	storage   *storage.Manager
	logger    *slog.Logger
	cfg       config.APIConfig
}

// New returns a project service.
func New(projects repository.ProjectRepository, files repository.FileRepository, instances repository.InstanceRepository, publisher JobPublisher, worker WorkerClient, store *storage.Manager, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{
		projects:  projects,
		files:     files,
		instances: instances,
		publisher: publisher,
		worker:    worker,
		storage:   store,
		logger:    logger,
		cfg:       cfg,
	}
}

// Create registers a new project, scaffolds its template and hands the slow
// provisioning work to a worker via the queue. It returns as soon as the job
// is queued; callers never wait for sandbox readiness.
func (s Service) Create(ctx context.Context, input CreateInput) (*domain.Project, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, apperr.Validation("project name is required")
	}
	if input.UserID <= 0 {
		return nil, apperr.Validation("user id is required")
	}
	projectType := strings.ToLower(strings.TrimSpace(input.Type))
	if _, ok := scaffold.Lookup(projectType); !ok {
		return nil, apperr.Validation("unsupported project type %q", projectType)
	}

	count, err := s.projects.CountProjectsByUser(ctx, input.UserID)
	if err != nil {
		return nil, err
	}
	if count >= s.cfg.ProjectLimit {
		return nil, apperr.ErrQuotaExceeded
	}

	proj := &domain.Project{
		Name:      strings.TrimSpace(input.Name),
		UserID:    input.UserID,
		Type:      projectType,
		Status:    domain.StatusCreated,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.projects.CreateProject(ctx, proj); err != nil {
		return nil, err
	}

	proj.Location = s.storage.ProjectDir(proj.ID)
	if err := s.projects.SetProjectLocation(ctx, proj.ID, proj.Location); err != nil {
		s.discard(ctx, proj)
		return nil, err
	}

	if err := scaffold.Apply(ctx, s.files, proj); err != nil {
		s.discard(ctx, proj)
		return nil, fmt.Errorf("scaffold project: %w", err)
	}

	if err := s.publisher.Publish(ctx, queue.Job{ProjectID: proj.ID, Type: proj.Type}); err != nil {
		s.discard(ctx, proj)
		return nil, fmt.Errorf("queue provisioning job: %w", err)
	}

	if err := s.projects.UpdateProjectStatus(ctx, proj.ID, domain.StatusQueued); err != nil {
		return nil, err
	}
	proj.Status = domain.StatusQueued
	s.logger.Info("project queued for provisioning", "project_id", proj.ID, "user_id", proj.UserID, "type", proj.Type)
	return proj, nil
}

// Get returns project details by identifier.
func (s Service) Get(ctx context.Context, id int64) (*domain.Project, error) {
	if id <= 0 {
		return nil, apperr.Validation("project id is required")
	}
	return s.projects.GetProjectByID(ctx, id)
}

// ListByUser returns the user's projects.
func (s Service) ListByUser(ctx context.Context, userID int64) ([]domain.Project, error) {
	if userID <= 0 {
		return nil, apperr.Validation("user id is required")
	}
	return s.projects.ListProjectsByUser(ctx, userID)
}

// Files returns the recorded file tree of a project.
func (s Service) Files(ctx context.Context, projectID int64) ([]domain.File, error) {
	if projectID <= 0 {
		return nil, apperr.Validation("project id is required")
	}
	return s.files.ListFilesByProject(ctx, projectID)
}

// Delete tears down the project's sandbox, storage and records. Each step
// tolerates the previous ones having already happened, so repeating a
// deletion is a no-op success.
func (s Service) Delete(ctx context.Context, id int64) error {
	if id <= 0 {
		return apperr.Validation("project id is required")
	}
	proj, err := s.projects.GetProjectByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}

	if proj.InstanceID != 0 {
		inst, err := s.instances.GetInstanceByID(ctx, proj.InstanceID)
		if err != nil {
			s.logger.Warn("owning instance lookup failed, skipping sandbox teardown", "project_id", id, "instance_id", proj.InstanceID, "error", err)
		} else if err := s.worker.Teardown(ctx, inst.Address, id); err != nil {
			s.logger.Warn("sandbox teardown failed, continuing delete", "project_id", id, "error", err)
		}
	}

	if err := s.files.DeleteFilesByProject(ctx, id); err != nil {
		s.logger.Warn("file record cleanup failed, continuing delete", "project_id", id, "error", err)
	}
	if err := s.storage.CleanupProject(id); err != nil {
		s.logger.Warn("storage cleanup failed, continuing delete", "project_id", id, "error", err)
	}
	if err := s.projects.DeleteProject(ctx, id); err != nil {
		return err
	}
	s.logger.Info("project deleted", "project_id", id)
	return nil
}

// discard rolls back a half-created project so a failed creation leaves no
// trace.
func (s Service) discard(ctx context.Context, proj *domain.Project) {
	if err := s.files.DeleteFilesByProject(ctx, proj.ID); err != nil {
		s.logger.Warn("rollback file records failed", "project_id", proj.ID, "error", err)
	}
	if err := s.storage.CleanupProject(proj.ID); err != nil {
		s.logger.Warn("rollback storage failed", "project_id", proj.ID, "error", err)
	}
	if err := s.projects.DeleteProject(ctx, proj.ID); err != nil {
		s.logger.Warn("rollback project row failed", "project_id", proj.ID, "error", err)
	}
}
