package scaffold

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/splax/coderoom/internal/domain"
	"github.com/splax/coderoom/internal/repository"
)

// Apply writes a project type's template files beneath the project's storage
// root and mirrors them into the file-tree records. It is idempotent per
// file: an existing record with the same name is kept, but the on-disk
// content is overwritten with the template content.
func Apply(ctx context.Context, files repository.FileRepository, project *domain.Project) error {
	tpl, ok := Lookup(project.Type)
	if !ok {
		return fmt.Errorf("unknown project type %q", project.Type)
	}
	if err := os.MkdirAll(project.Location, 0o755); err != nil {
		return fmt.Errorf("create storage root: %w", err)
	}

	scaffolded := append([]TemplateFile(nil), tpl.Files...)
	scaffolded = append(scaffolded, TemplateFile{Name: BootstrapFileName, Content: tpl.RunScript})

	for _, tf := range scaffolded {
		path := filepath.Join(project.Location, tf.Name)
		if err := ensureRecord(ctx, files, project.ID, tf.Name, path); err != nil {
			return err
		}
		mode := os.FileMode(0o644)
		if tf.Name == BootstrapFileName {
			mode = 0o755
		}
		if err := os.WriteFile(path, []byte(tf.Content), mode); err != nil {
			return fmt.Errorf("write template file %s: %w", tf.Name, err)
		}
	}
	return nil
}

func ensureRecord(ctx context.Context, files repository.FileRepository, projectID int64, name, path string) error {
	_, err := files.GetFileByName(ctx, projectID, name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("look up template file %s: %w", name, err)
	}
	record := &domain.File{
		Name:      name,
		Kind:      domain.FileKindFile,
		Path:      path,
		ProjectID: projectID,
		ParentID:  domain.RootParentID,
		CreatedAt: time.Now().UTC(),
	}
	if err := files.CreateFile(ctx, record); err != nil {
		return fmt.Errorf("record template file %s: %w", name, err)
	}
	return nil
}
