package repository

import (
	"context"

	"github.com/splax/coderoom/internal/domain"
)

// ProjectRepository persists project lifecycle state.
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project) error
	SetProjectLocation(ctx context.Context, id int64, location string) error
	GetProjectByID(ctx context.Context, id int64) (*domain.Project, error)
	ListProjectsByUser(ctx context.Context, userID int64) ([]domain.Project, error)
	ListProjectsByInstance(ctx context.Context, instanceID int64) ([]domain.Project, error)
	CountProjectsByUser(ctx context.Context, userID int64) (int, error)
	UpdateProjectStatus(ctx context.Context, id int64, status string) error
	// TransitionProjectStatus sets the status only when the current status
	// matches from. It reports whether the transition happened, acting as the
	// idempotency lease for duplicate queue deliveries.
	TransitionProjectStatus(ctx context.Context, id int64, from, to string) (bool, error)
	RecordProvisionResult(ctx context.Context, result domain.ProvisionResult) error
	DeleteProject(ctx context.Context, id int64) error
}

// FileRepository persists the mirrored file tree.
type FileRepository interface {
	CreateFile(ctx context.Context, file *domain.File) error
	GetFileByID(ctx context.Context, id int64) (*domain.File, error)
	GetFileByPath(ctx context.Context, projectID int64, path string) (*domain.File, error)
	GetFileByName(ctx context.Context, projectID int64, name string) (*domain.File, error)
	ListFilesByProject(ctx context.Context, projectID int64) ([]domain.File, error)
	DeleteFileByPath(ctx context.Context, projectID int64, path string) error
	DeleteFilesByProject(ctx context.Context, projectID int64) error
}

// InstanceRepository persists worker service-instance registrations.
type InstanceRepository interface {
	UpsertInstance(ctx context.Context, instance *domain.Instance) error
	GetInstanceByID(ctx context.Context, id int64) (*domain.Instance, error)
}
