package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Manager owns per-project storage directories under a common root.
type Manager struct {
	root string
}

// New ensures the storage root exists and is accessible.
func New(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root cannot be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Manager{root: root}, nil
}

// ProjectDir returns the deterministic storage directory for a project id.
func (m *Manager) ProjectDir(projectID int64) string {
	return filepath.Join(m.root, fmt.Sprintf("project%d", projectID))
}

// Prepare creates the storage directory for a project.
func (m *Manager) Prepare(projectID int64) (string, error) {
	dir := m.ProjectDir(projectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create project storage: %w", err)
	}
	return dir, nil
}

// Cleanup removes a storage directory. Removing a directory that is already
// gone is not an error.
func (m *Manager) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	// Ensure we only remove directories within the configured root.
	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." || rel == "" || strings.HasPrefix(rel, "..") {
		return fmt.Errorf("refusing to cleanup path outside storage root")
	}
	return os.RemoveAll(path)
}

// CleanupProject removes the storage directory for a project id.
func (m *Manager) CleanupProject(projectID int64) error {
	return m.Cleanup(m.ProjectDir(projectID))
}
