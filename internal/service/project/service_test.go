package project

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
	"github.com/splax/coderoom/pkg/config"
)

type stubProjectRepository struct {
	projects    map[int64]*domain.Project
	count       int
	nextID      int64
	deleted     []int64
	statusByID  map[int64]string
	locationErr error
}

func newStubProjectRepository() *stubProjectRepository {
	return &stubProjectRepository{
		projects:   make(map[int64]*domain.Project),
		statusByID: make(map[int64]string),
	}
}

func (s *stubProjectRepository) CreateProject(ctx context.Context, project *domain.Project) error {
	s.nextID++
	project.ID = s.nextID
	clone := *project
	s.projects[project.ID] = &clone
	return nil
}

func (s *stubProjectRepository) SetProjectLocation(ctx context.Context, id int64, location string) error {
	if s.locationErr != nil {
		return s.locationErr
	}
	if p, ok := s.projects[id]; ok {
		p.Location = location
	}
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
	return s.count, nil
}

func (s *stubProjectRepository) UpdateProjectStatus(ctx context.Context, id int64, status string) error {
	s.statusByID[id] = status
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

type stubInstanceRepository struct {
	instances map[int64]*domain.Instance
}

func (s *stubInstanceRepository) UpsertInstance(ctx context.Context, instance *domain.Instance) error {
	return nil
}

func (s *stubInstanceRepository) GetInstanceByID(ctx context.Context, id int64) (*domain.Instance, error) {
	if inst, ok := s.instances[id]; ok {
		return inst, nil
	}
	return nil, repository.ErrNotFound
}

type stubPublisher struct {
	jobs []queue.Job
	err  error
}

func (s *stubPublisher) Publish(ctx context.Context, job queue.Job) error {
	if s.err != nil {
		return s.err
	}
	s.jobs = append(s.jobs, job)
	return nil
}

type stubWorkerClient struct {
	teardowns []int64
	addresses []string
}

func (s *stubWorkerClient) Teardown(ctx context.Context, address string, projectID int64) error {
	s.teardowns = append(s.teardowns, projectID)
	s.addresses = append(s.addresses, address)
	return nil
}

func newTestService(t *testing.T, projects *stubProjectRepository, files *stubFileRepository, instances *stubInstanceRepository, publisher *stubPublisher, worker *stubWorkerClient) Service {
	t.Helper()
	store, err := storage.New(t.TempDir())
	if err != nil {
		t.Fatalf("storage init: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(projects, files, instances, publisher, worker, store, log, config.APIConfig{ProjectLimit: 2})
}

func TestCreateQuotaExceeded(t *testing.T) {
	projects := newStubProjectRepository()
	projects.count = 2
	publisher := &stubPublisher{}
	svc := newTestService(t, projects, &stubFileRepository{}, &stubInstanceRepository{}, publisher, &stubWorkerClient{})

	_, err := svc.Create(context.Background(), CreateInput{Name: "demo", UserID: 1, Type: "node"})
	if !errors.Is(err, apperr.ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if len(publisher.jobs) != 0 {
		t.Fatalf("quota failure must not publish jobs")
	}
	if len(projects.projects) != 0 {
		t.Fatalf("quota failure must not create a project row")
	}
}

func TestCreateQueuesExactlyOneJob(t *testing.T) {
	projects := newStubProjectRepository()
	publisher := &stubPublisher{}
	svc := newTestService(t, projects, &stubFileRepository{}, &stubInstanceRepository{}, publisher, &stubWorkerClient{})

	proj, err := svc.Create(context.Background(), CreateInput{Name: "demo", UserID: 1, Type: "Node"})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if proj.Status != domain.StatusQueued {
		t.Fatalf("expected queued status, got %s", proj.Status)
	}
	if proj.Type != "node" {
		t.Fatalf("type should be normalised, got %q", proj.Type)
	}
	if proj.Location == "" {
		t.Fatalf("expected location to be assigned")
	}
	if len(publisher.jobs) != 1 {
		t.Fatalf("expected exactly one job, got %d", len(publisher.jobs))
	}
	if publisher.jobs[0].ProjectID != proj.ID || publisher.jobs[0].Type != "node" {
		t.Fatalf("unexpected job payload: %+v", publisher.jobs[0])
	}
}

func TestCreateRollsBackOnPublishFailure(t *testing.T) {
	projects := newStubProjectRepository()
	files := &stubFileRepository{}
	publisher := &stubPublisher{err: errors.New("redis down")}
	svc := newTestService(t, projects, files, &stubInstanceRepository{}, publisher, &stubWorkerClient{})

	_, err := svc.Create(context.Background(), CreateInput{Name: "demo", UserID: 1, Type: "node"})
	if err == nil {
		t.Fatalf("expected publish failure to surface")
	}
	if len(projects.projects) != 0 {
		t.Fatalf("failed creation must leave no project row")
	}
	if len(projects.deleted) != 1 {
		t.Fatalf("expected rollback to delete the row once, got %v", projects.deleted)
	}
	if len(files.purged) != 1 {
		t.Fatalf("expected rollback to purge file records")
	}
}

func TestCreateRejectsUnknownType(t *testing.T) {
	svc := newTestService(t, newStubProjectRepository(), &stubFileRepository{}, &stubInstanceRepository{}, &stubPublisher{}, &stubWorkerClient{})
	_, err := svc.Create(context.Background(), CreateInput{Name: "demo", UserID: 1, Type: "cobol"})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDeleteMissingProjectIsNoop(t *testing.T) {
	svc := newTestService(t, newStubProjectRepository(), &stubFileRepository{}, &stubInstanceRepository{}, &stubPublisher{}, &stubWorkerClient{})
	if err := svc.Delete(context.Background(), 99); err != nil {
		t.Fatalf("deleting a missing project should succeed, got %v", err)
	}
}

func TestDeleteRoutesTeardownToOwningWorker(t *testing.T) {
	projects := newStubProjectRepository()
	projects.nextID = 10
	projects.projects[11] = &domain.Project{ID: 11, Status: domain.StatusReady, InstanceID: 4}
	instances := &stubInstanceRepository{instances: map[int64]*domain.Instance{
		4: {ID: 4, Name: "worker-a", Address: "http://worker-a:5000"},
	}}
	worker := &stubWorkerClient{}
	svc := newTestService(t, projects, &stubFileRepository{}, instances, &stubPublisher{}, worker)

	if err := svc.Delete(context.Background(), 11); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if len(worker.teardowns) != 1 || worker.teardowns[0] != 11 {
		t.Fatalf("expected teardown for project 11, got %v", worker.teardowns)
	}
	if worker.addresses[0] != "http://worker-a:5000" {
		t.Fatalf("teardown routed to wrong worker: %s", worker.addresses[0])
	}
	if len(projects.deleted) != 1 {
		t.Fatalf("expected project row deletion")
	}
}
