package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"log/slog"

	"github.com/splax/coderoom/internal/apperr"
	"github.com/splax/coderoom/internal/domain"
	"github.com/splax/coderoom/internal/repository"
)

// SaveInput describes an explicit editor write: file metadata plus content.
type SaveInput struct {
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	ProjectID int64  `json:"projectId"`
	ParentID  int64  `json:"parentId"`
	Content   string `json:"content"`
}

// Service persists explicit file edits: the record in the file tree and the
// content on disk.
type Service struct {
	files    repository.FileRepository
	projects repository.ProjectRepository
	logger   *slog.Logger
}

// New returns a file service.
func New(files repository.FileRepository, projects repository.ProjectRepository, logger *slog.Logger) Service {
	return Service{files: files, projects: projects, logger: logger}
}

// Save creates or updates a file-tree entry and writes its content to disk.
// Folders only create the directory; files get their content written. The
// entry's path derives from the parent record, or the project root when
// parent id is zero.
func (s Service) Save(ctx context.Context, input SaveInput) (*domain.File, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, apperr.Validation("file name is required")
	}
	if input.Kind != domain.FileKindFile && input.Kind != domain.FileKindFolder {
		return nil, apperr.Validation("kind must be file or folder")
	}
	if input.ProjectID <= 0 {
		return nil, apperr.Validation("project id is required")
	}
	name := filepath.Base(strings.TrimSpace(input.Name))

	record, err := s.files.GetFileByName(ctx, input.ProjectID, name)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		record, err = s.createRecord(ctx, input, name)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if record.IsFolder() {
		if err := os.MkdirAll(record.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create folder: %w", err)
		}
		return record, nil
	}

	if err := os.MkdirAll(filepath.Dir(record.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create parent directory: %w", err)
	}
	if err := os.WriteFile(record.Path, []byte(input.Content), 0o644); err != nil {
		return nil, fmt.Errorf("write file content: %w", err)
	}
	s.logger.Info("file saved", "project_id", input.ProjectID, "file_id", record.ID, "path", record.Path)
	return record, nil
}

// Load reads a file's content from disk by record id.
func (s Service) Load(ctx context.Context, id int64) (*domain.File, string, error) {
	if id <= 0 {
		return nil, "", apperr.Validation("file id is required")
	}
	record, err := s.files.GetFileByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if record.IsFolder() {
		return nil, "", apperr.Validation("cannot load folder content")
	}
	content, err := os.ReadFile(record.Path)
	if err != nil {
		return nil, "", fmt.Errorf("read file content: %w", err)
	}
	return record, string(content), nil
}

func (s Service) createRecord(ctx context.Context, input SaveInput, name string) (*domain.File, error) {
	var path string
	if input.ParentID == domain.RootParentID {
		proj, err := s.projects.GetProjectByID(ctx, input.ProjectID)
		if err != nil {
			return nil, err
		}
		path = filepath.Join(proj.Location, name)
	} else {
		parent, err := s.files.GetFileByID(ctx, input.ParentID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperr.Validation("parent entry %d does not exist", input.ParentID)
			}
			return nil, err
		}
		if parent.ProjectID != input.ProjectID {
			return nil, apperr.Validation("parent entry belongs to another project")
		}
		if !parent.IsFolder() {
			return nil, apperr.Validation("parent entry is not a folder")
		}
		path = filepath.Join(parent.Path, name)
	}

	record := &domain.File{
		Name:      name,
		Kind:      input.Kind,
		Path:      path,
		ProjectID: input.ProjectID,
		ParentID:  input.ParentID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.files.CreateFile(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}
