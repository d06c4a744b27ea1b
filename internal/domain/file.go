package domain

import "time"

// File entry kinds.
const (
	FileKindFile   = "file"
	FileKindFolder = "folder"
)

// RootParentID marks a file-tree entry directly under the project root.
const RootParentID int64 = 0

// File is one entry of a project's file tree. Content lives on disk at Path;
// the record only mirrors the tree structure.
type File struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Path      string    `json:"path"`
	ProjectID int64     `json:"project_id"`
	ParentID  int64     `json:"parent_id"`
	CreatedAt time.Time `json:"created_at"`
}

// IsFolder reports whether the entry represents a directory.
func (f File) IsFolder() bool {
	return f.Kind == FileKindFolder
}
