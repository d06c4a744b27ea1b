package provision

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/splax/coderoom/internal/apperr"
	"github.com/splax/coderoom/internal/domain"
	"github.com/splax/coderoom/internal/queue"
	"github.com/splax/coderoom/internal/repository"
	"github.com/splax/coderoom/internal/storage"
	"github.com/splax/coderoom/internal/terminal"
	"github.com/splax/coderoom/internal/worker/bridge"
	"github.com/splax/coderoom/internal/worker/reconciler"
	"github.com/splax/coderoom/internal/worker/sandbox"
)

type stubProjectRepository struct {
	projects map[int64]*domain.Project
	results  []domain.ProvisionResult
	deleted  []int64
}

func newStubProjectRepository() *stubProjectRepository {
	return &stubProjectRepository{projects: make(map[int64]*domain.Project)}
}

func (s *stubProjectRepository) CreateProject(ctx context.Context, project *domain.Project) error {
	return nil
}
func (s *stubProjectRepository) SetProjectLocation(ctx context.Context, id int64, location string) error {
	return nil
}
func (s *stubProjectRepository) GetProjectByID(ctx context.Context, id int64) (*domain.Project, error) {
	if p, ok := s.projects[id]; ok {
		clone := *p
		return &clone, nil
	}
	return nil, repository.ErrNotFound
}
func (s *stubProjectRepository) ListProjectsByUser(ctx context.Context, userID int64) ([]domain.Project, error) {
	return nil, nil
}
func (s *stubProjectRepository) ListProjectsByInstance(ctx context.Context, instanceID int64) ([]domain.Project, error) {
	return nil, nil
}
func (s *stubProjectRepository) CountProjectsByUser(ctx context.Context, userID int64) (int, error) {
	return 0, nil
}
func (s *stubProjectRepository) UpdateProjectStatus(ctx context.Context, id int64, status string) error {
	if p, ok := s.projects[id]; ok {
		p.Status = status
	}
	return nil
}
func (s *stubProjectRepository) TransitionProjectStatus(ctx context.Context, id int64, from, to string) (bool, error) {
	p, ok := s.projects[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = to
	return true, nil
}
func (s *stubProjectRepository) RecordProvisionResult(ctx context.Context, result domain.ProvisionResult) error {
	s.results = append(s.results, result)
	if p, ok := s.projects[result.ProjectID]; ok {
		p.Status = domain.StatusReady
		p.ContainerID = result.ContainerID
		p.URL = result.URL
		p.InstanceID = result.InstanceID
	}
	return nil
}
func (s *stubProjectRepository) DeleteProject(ctx context.Context, id int64) error {
	s.deleted = append(s.deleted, id)
	delete(s.projects, id)
	return nil
}

type stubFileRepository struct {
	purged []int64
}

func (s *stubFileRepository) CreateFile(ctx context.Context, file *domain.File) error { return nil }
func (s *stubFileRepository) GetFileByID(ctx context.Context, id int64) (*domain.File, error) {
	return nil, repository.ErrNotFound
}
func (s *stubFileRepository) GetFileByPath(ctx context.Context, projectID int64, path string) (*domain.File, error) {
	return nil, repository.ErrNotFound
}
func (s *stubFileRepository) GetFileByName(ctx context.Context, projectID int64, name string) (*domain.File, error) {
	return nil, repository.ErrNotFound
}
func (s *stubFileRepository) ListFilesByProject(ctx context.Context, projectID int64) ([]domain.File, error) {
	return nil, nil
}
func (s *stubFileRepository) DeleteFileByPath(ctx context.Context, projectID int64, path string) error {
	return nil
}
func (s *stubFileRepository) DeleteFilesByProject(ctx context.Context, projectID int64) error {
	s.purged = append(s.purged, projectID)
	return nil
}

type stubRuntime struct {
	created         []int64
	destroyed       []string
	destroyedImages []int64
	createErr       error
	info            sandbox.Info
}

func (s *stubRuntime) Create(ctx context.Context, projectID int64, projectType string) (sandbox.Info, error) {
	if s.createErr != nil {
		return sandbox.Info{}, s.createErr
	}
	s.created = append(s.created, projectID)
	return s.info, nil
}

func (s *stubRuntime) Exec(ctx context.Context, containerID string) (sandbox.ExecStream, error) {
	return nil, errors.New("not supported in stub")
}

func (s *stubRuntime) Destroy(ctx context.Context, containerID string) error {
	s.destroyed = append(s.destroyed, containerID)
	return nil
}

func (s *stubRuntime) DestroyImage(ctx context.Context, projectID int64) error {
	s.destroyedImages = append(s.destroyedImages, projectID)
	return nil
}

func newTestService(t *testing.T, projects *stubProjectRepository, files *stubFileRepository, runtime *stubRuntime) *Service {
	t.Helper()
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage init: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	watchers := reconciler.NewSet(files, log)
	t.Cleanup(watchers.Close)
	terminals := bridge.New(runtime, terminal.NewRegistry(), "ws://api:4000/ws/terminal", log)
	return New(projects, files, runtime, store, watchers, terminals, 42, log)
}

func TestHandleJobProvisionsQueuedProject(t *testing.T) {
	projects := newStubProjectRepository()
	projects.projects[5] = &domain.Project{ID: 5, Type: "node", Status: domain.StatusQueued}
	runtime := &stubRuntime{info: sandbox.Info{ContainerID: "abc123", URL: "http://localhost:32768"}}
	svc := newTestService(t, projects, &stubFileRepository{}, runtime)

	if err := svc.HandleJob(context.Background(), queue.Job{ProjectID: 5, Type: "node"}); err != nil {
		t.Fatalf("HandleJob returned error: %v", err)
	}
	if len(runtime.created) != 1 || runtime.created[0] != 5 {
		t.Fatalf("expected one sandbox creation for project 5, got %v", runtime.created)
	}
	if len(projects.results) != 1 {
		t.Fatalf("expected one recorded result, got %d", len(projects.results))
	}
	result := projects.results[0]
	if result.ContainerID != "abc123" || result.URL != "http://localhost:32768" || result.InstanceID != 42 {
		t.Fatalf("unexpected provision result: %+v", result)
	}
	if projects.projects[5].Status != domain.StatusReady {
		t.Fatalf("expected ready status, got %s", projects.projects[5].Status)
	}
}

func TestHandleJobIgnoresDuplicateDelivery(t *testing.T) {
	projects := newStubProjectRepository()
	projects.projects[5] = &domain.Project{ID: 5, Type: "node", Status: domain.StatusReady}
	runtime := &stubRuntime{}
	svc := newTestService(t, projects, &stubFileRepository{}, runtime)

	if err := svc.HandleJob(context.Background(), queue.Job{ProjectID: 5, Type: "node"}); err != nil {
		t.Fatalf("duplicate delivery should be a no-op, got %v", err)
	}
	if len(runtime.created) != 0 {
		t.Fatalf("duplicate delivery must not touch the sandbox")
	}
}

func TestHandleJobRollsBackOnSandboxFailure(t *testing.T) {
	projects := newStubProjectRepository()
	projects.projects[7] = &domain.Project{ID: 7, Type: "python", Status: domain.StatusQueued}
	files := &stubFileRepository{}
	runtime := &stubRuntime{createErr: errors.New("image build failed")}
	svc := newTestService(t, projects, files, runtime)

	err := svc.HandleJob(context.Background(), queue.Job{ProjectID: 7, Type: "python"})
	if !errors.Is(err, apperr.ErrSandboxCreateFailed) {
		t.Fatalf("expected ErrSandboxCreateFailed, got %v", err)
	}
	if len(projects.deleted) != 1 || projects.deleted[0] != 7 {
		t.Fatalf("failed provisioning must delete the project row, got %v", projects.deleted)
	}
	if len(files.purged) != 1 {
		t.Fatalf("failed provisioning must purge file records")
	}
	if len(runtime.destroyedImages) != 1 {
		t.Fatalf("failed provisioning must remove the image")
	}
	if _, ok := projects.projects[7]; ok {
		t.Fatalf("no half-provisioned project may remain visible")
	}
}

func TestTeardownDestroysSandboxAndImage(t *testing.T) {
	projects := newStubProjectRepository()
	projects.projects[9] = &domain.Project{ID: 9, Status: domain.StatusReady, ContainerID: "cid-9"}
	runtime := &stubRuntime{}
	svc := newTestService(t, projects, &stubFileRepository{}, runtime)

	if err := svc.Teardown(context.Background(), 9); err != nil {
		t.Fatalf("Teardown returned error: %v", err)
	}
	if len(runtime.destroyed) != 1 || runtime.destroyed[0] != "cid-9" {
		t.Fatalf("expected container cid-9 destroyed, got %v", runtime.destroyed)
	}
	if len(runtime.destroyedImages) != 1 || runtime.destroyedImages[0] != 9 {
		t.Fatalf("expected image for project 9 destroyed, got %v", runtime.destroyedImages)
	}
}

func TestTeardownMissingProjectReportsNotFound(t *testing.T) {
	runtime := &stubRuntime{}
	svc := newTestService(t, newStubProjectRepository(), &stubFileRepository{}, runtime)

	if err := svc.Teardown(context.Background(), 99); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown project, got %v", err)
	}
	if len(runtime.destroyedImages) != 1 {
		t.Fatalf("image cleanup should still be attempted, got %v", runtime.destroyedImages)
	}
}

func TestAttachTerminalRequiresReadyProject(t *testing.T) {
	projects := newStubProjectRepository()
	projects.projects[3] = &domain.Project{ID: 3, Status: domain.StatusProvisioning}
	svc := newTestService(t, projects, &stubFileRepository{}, &stubRuntime{})

	if err := svc.AttachTerminal(context.Background(), 3); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error for unready project, got %v", err)
	}
}
