package reconciler

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/splax/coderoom/internal/domain"
	"github.com/splax/coderoom/internal/repository"
	"github.com/splax/coderoom/internal/scaffold"
)

type memoryFileRepository struct {
	mu     sync.Mutex
	byPath map[string]*domain.File
	nextID int64
}

func newMemoryFileRepository() *memoryFileRepository {
	return &memoryFileRepository{byPath: make(map[string]*domain.File)}
}

func (m *memoryFileRepository) CreateFile(ctx context.Context, file *domain.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	file.ID = m.nextID
	clone := *file
	m.byPath[file.Path] = &clone
	return nil
}

func (m *memoryFileRepository) GetFileByID(ctx context.Context, id int64) (*domain.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.byPath {
		if f.ID == id {
			clone := *f
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryFileRepository) GetFileByPath(ctx context.Context, projectID int64, path string) (*domain.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.byPath[path]; ok && f.ProjectID == projectID {
		clone := *f
		return &clone, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memoryFileRepository) GetFileByName(ctx context.Context, projectID int64, name string) (*domain.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.byPath {
		if f.ProjectID == projectID && f.Name == name {
			clone := *f
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryFileRepository) ListFilesByProject(ctx context.Context, projectID int64) ([]domain.File, error) {
	return nil, nil
}

func (m *memoryFileRepository) DeleteFileByPath(ctx context.Context, projectID int64, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byPath, path)
	return nil
}

func (m *memoryFileRepository) DeleteFilesByProject(ctx context.Context, projectID int64) error {
	return nil
}

func (m *memoryFileRepository) lookup(path string) (domain.File, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.byPath[path]; ok {
		return *f, true
	}
	return domain.File{}, false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startWatcher(t *testing.T, root string, files *memoryFileRepository) *Watcher {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := New(1, root, files, log)
	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	t.Cleanup(func() {
		cancel()
		w.Stop()
	})
	return w
}

func TestWatcherBackfillsExistingTree(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, scaffold.BootstrapFileName), []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatalf("seed bootstrap: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "src"), 0o755); err != nil {
		t.Fatalf("seed folder: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "src", "main.go"), []byte("package main"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	files := newMemoryFileRepository()
	startWatcher(t, root, files)

	waitFor(t, "backfilled records", func() bool {
		_, folderOK := files.lookup(filepath.Join(root, "src"))
		_, fileOK := files.lookup(filepath.Join(root, "src", "main.go"))
		return folderOK && fileOK
	})

	folder, _ := files.lookup(filepath.Join(root, "src"))
	if folder.Kind != domain.FileKindFolder || folder.ParentID != domain.RootParentID {
		t.Fatalf("unexpected folder record: %+v", folder)
	}
	nested, _ := files.lookup(filepath.Join(root, "src", "main.go"))
	if nested.Kind != domain.FileKindFile || nested.ParentID != folder.ID {
		t.Fatalf("nested record not linked to folder: %+v", nested)
	}
	if _, ok := files.lookup(filepath.Join(root, scaffold.BootstrapFileName)); ok {
		t.Fatalf("bootstrap script must not be re-recorded by the watcher")
	}
}

func TestWatcherRecordsLiveChanges(t *testing.T) {
	root := t.TempDir()
	files := newMemoryFileRepository()
	startWatcher(t, root, files)

	// Give the watch loop a moment to come up before producing events.
	time.Sleep(100 * time.Millisecond)

	dir := filepath.Join(root, "assets")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("create folder: %v", err)
	}
	waitFor(t, "folder record", func() bool {
		_, ok := files.lookup(dir)
		return ok
	})

	nested := filepath.Join(dir, "logo.svg")
	if err := os.WriteFile(nested, []byte("<svg/>"), 0o644); err != nil {
		t.Fatalf("create nested file: %v", err)
	}
	waitFor(t, "nested record", func() bool {
		record, ok := files.lookup(nested)
		if !ok {
			return false
		}
		folder, _ := files.lookup(dir)
		return record.ParentID == folder.ID
	})

	if err := os.Remove(nested); err != nil {
		t.Fatalf("remove nested file: %v", err)
	}
	waitFor(t, "record removal", func() bool {
		_, ok := files.lookup(nested)
		return !ok
	})
}

func TestPendingSetParkAndReplay(t *testing.T) {
	pending := newPendingSet()
	pending.park("/p/dir", "/p/dir/a")
	pending.park("/p/dir", "/p/dir/a")
	pending.park("/p/dir", "/p/dir/b")
	if pending.size() != 2 {
		t.Fatalf("expected deduplicated parking, size=%d", pending.size())
	}

	children := pending.take("/p/dir")
	if len(children) != 2 {
		t.Fatalf("expected both children replayed, got %v", children)
	}
	if pending.size() != 0 {
		t.Fatalf("take should clear the parent entry")
	}

	pending.park("/p/gone", "/p/gone/x")
	pending.drop("/p/gone")
	if pending.size() != 0 {
		t.Fatalf("drop should discard parked children")
	}
}
