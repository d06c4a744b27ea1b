package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/coderoom/internal/domain"
	"github.com/splax/coderoom/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.ProjectRepository  = (*Repository)(nil)
	_ repository.FileRepository     = (*Repository)(nil)
	_ repository.InstanceRepository = (*Repository)(nil)
)

// CreateProject inserts a project and fills in its generated id.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project) error {
	const query = `INSERT INTO projects (name, user_id, location, type, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id`
	row := r.pool.QueryRow(ctx, query, project.Name, project.UserID, project.Location, project.Type, project.Status, project.CreatedAt)
	return row.Scan(&project.ID)
}

// SetProjectLocation updates the storage root after the id is known.
func (r *Repository) SetProjectLocation(ctx context.Context, id int64, location string) error {
	const query = `UPDATE projects SET location = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, query, location, id)
	return err
}

// GetProjectByID fetches project details.
func (r *Repository) GetProjectByID(ctx context.Context, id int64) (*domain.Project, error) {
	const query = `SELECT id, name, user_id, location, type, status,
		COALESCE(url, ''), COALESCE(container_id, ''), COALESCE(service_instance_id, 0),
		created_at, updated_at
		FROM projects WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var p domain.Project
	if err := row.Scan(&p.ID, &p.Name, &p.UserID, &p.Location, &p.Type, &p.Status, &p.URL, &p.ContainerID, &p.InstanceID, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListProjectsByUser returns projects owned by the user.
func (r *Repository) ListProjectsByUser(ctx context.Context, userID int64) ([]domain.Project, error) {
	const query = `SELECT id, name, user_id, location, type, status,
		COALESCE(url, ''), COALESCE(container_id, ''), COALESCE(service_instance_id, 0),
		created_at, updated_at
		FROM projects WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.UserID, &p.Location, &p.Type, &p.Status, &p.URL, &p.ContainerID, &p.InstanceID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// ListProjectsByInstance returns projects assigned to a worker instance.
func (r *Repository) ListProjectsByInstance(ctx context.Context, instanceID int64) ([]domain.Project, error) {
	const query = `SELECT id, name, user_id, location, type, status,
		COALESCE(url, ''), COALESCE(container_id, ''), COALESCE(service_instance_id, 0),
		created_at, updated_at
		FROM projects WHERE service_instance_id = $1 ORDER BY id ASC`
	rows, err := r.pool.Query(ctx, query, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.UserID, &p.Location, &p.Type, &p.Status, &p.URL, &p.ContainerID, &p.InstanceID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// CountProjectsByUser counts the user's live projects for quota checks.
func (r *Repository) CountProjectsByUser(ctx context.Context, userID int64) (int, error) {
	const query = `SELECT COUNT(1) FROM projects WHERE user_id = $1`
	row := r.pool.QueryRow(ctx, query, userID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// UpdateProjectStatus sets the lifecycle status unconditionally.
func (r *Repository) UpdateProjectStatus(ctx context.Context, id int64, status string) error {
	const query = `UPDATE projects SET status = $1, updated_at = NOW() WHERE id = $2`
	tag, err := r.pool.Exec(ctx, query, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// TransitionProjectStatus performs a conditional status transition.
func (r *Repository) TransitionProjectStatus(ctx context.Context, id int64, from, to string) (bool, error) {
	const query = `UPDATE projects SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`
	tag, err := r.pool.Exec(ctx, query, to, id, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// RecordProvisionResult stores sandbox identity, URL and owning instance in
// one statement so the url/container pair is never half set.
func (r *Repository) RecordProvisionResult(ctx context.Context, result domain.ProvisionResult) error {
	const query = `UPDATE projects
		SET container_id = $1, url = $2, service_instance_id = $3, status = $4, updated_at = NOW()
		WHERE id = $5`
	tag, err := r.pool.Exec(ctx, query, result.ContainerID, result.URL, result.InstanceID, domain.StatusReady, result.ProjectID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// DeleteProject removes the project row.
func (r *Repository) DeleteProject(ctx context.Context, id int64) error {
	const query = `DELETE FROM projects WHERE id = $1`
	_, err := r.pool.Exec(ctx, query, id)
	return err
}

// CreateFile inserts a file-tree entry and fills in its generated id.
func (r *Repository) CreateFile(ctx context.Context, file *domain.File) error {
	const query = `INSERT INTO files (name, kind, path, project_id, parent_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	row := r.pool.QueryRow(ctx, query, file.Name, file.Kind, file.Path, file.ProjectID, file.ParentID, file.CreatedAt)
	return row.Scan(&file.ID)
}

// GetFileByID fetches a file entry.
func (r *Repository) GetFileByID(ctx context.Context, id int64) (*domain.File, error) {
	const query = `SELECT id, name, kind, path, project_id, parent_id, created_at FROM files WHERE id = $1`
	return r.scanFile(r.pool.QueryRow(ctx, query, id))
}

// GetFileByPath fetches a file entry by its unique project path.
func (r *Repository) GetFileByPath(ctx context.Context, projectID int64, path string) (*domain.File, error) {
	const query = `SELECT id, name, kind, path, project_id, parent_id, created_at
		FROM files WHERE project_id = $1 AND path = $2`
	return r.scanFile(r.pool.QueryRow(ctx, query, projectID, path))
}

// GetFileByName fetches a file entry by name within a project.
func (r *Repository) GetFileByName(ctx context.Context, projectID int64, name string) (*domain.File, error) {
	const query = `SELECT id, name, kind, path, project_id, parent_id, created_at
		FROM files WHERE project_id = $1 AND name = $2
		ORDER BY created_at ASC LIMIT 1`
	return r.scanFile(r.pool.QueryRow(ctx, query, projectID, name))
}

// ListFilesByProject returns the full recorded tree of a project.
func (r *Repository) ListFilesByProject(ctx context.Context, projectID int64) ([]domain.File, error) {
	const query = `SELECT id, name, kind, path, project_id, parent_id, created_at
		FROM files WHERE project_id = $1 ORDER BY path ASC`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	files := make([]domain.File, 0)
	for rows.Next() {
		var f domain.File
		if err := rows.Scan(&f.ID, &f.Name, &f.Kind, &f.Path, &f.ProjectID, &f.ParentID, &f.CreatedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// DeleteFileByPath removes the entry whose path matches exactly.
func (r *Repository) DeleteFileByPath(ctx context.Context, projectID int64, path string) error {
	const query = `DELETE FROM files WHERE project_id = $1 AND path = $2`
	_, err := r.pool.Exec(ctx, query, projectID, path)
	return err
}

// DeleteFilesByProject removes every entry of a project.
func (r *Repository) DeleteFilesByProject(ctx context.Context, projectID int64) error {
	const query = `DELETE FROM files WHERE project_id = $1`
	_, err := r.pool.Exec(ctx, query, projectID)
	return err
}

// UpsertInstance registers a worker by stable name, refreshing its address.
func (r *Repository) UpsertInstance(ctx context.Context, instance *domain.Instance) error {
	const query = `INSERT INTO service_instances (name, address, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET address = EXCLUDED.address
		RETURNING id`
	row := r.pool.QueryRow(ctx, query, instance.Name, instance.Address, instance.CreatedAt)
	return row.Scan(&instance.ID)
}

// GetInstanceByID fetches a worker registration.
func (r *Repository) GetInstanceByID(ctx context.Context, id int64) (*domain.Instance, error) {
	const query = `SELECT id, name, address, created_at FROM service_instances WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	var inst domain.Instance
	if err := row.Scan(&inst.ID, &inst.Name, &inst.Address, &inst.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &inst, nil
}

func (r *Repository) scanFile(row pgx.Row) (*domain.File, error) {
	var f domain.File
	if err := row.Scan(&f.ID, &f.Name, &f.Kind, &f.Path, &f.ProjectID, &f.ParentID, &f.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}
