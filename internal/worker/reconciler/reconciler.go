package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/sethvargo/go-retry"

	"github.com/splax/coderoom/internal/domain"
	"github.com/splax/coderoom/internal/repository"
	"github.com/splax/coderoom/internal/scaffold"
)

const (
	restartBackoffBase = 500 * time.Millisecond
	restartBackoffCap  = 30 * time.Second
	healthyRunReset    = time.Minute
)

// Watcher mirrors one project's on-disk tree into its file records. It runs
// for the lifetime of the project: failures are logged and the watch loop
// restarted with backoff, never surfaced as a crash of the owning process.
type Watcher struct {
	projectID int64
	root      string
	files     repository.FileRepository
	logger    *slog.Logger
	pending   *pendingSet
	cancel    context.CancelFunc
	done      chan struct{}
}

// New constructs a watcher for a project's storage root.
func New(projectID int64, root string, files repository.FileRepository, logger *slog.Logger) *Watcher {
	return &Watcher{
		projectID: projectID,
		root:      root,
		files:     files,
		logger:    logger.With("project_id", projectID),
		pending:   newPendingSet(),
		done:      make(chan struct{}),
	}
}

// Start launches the supervised watch loop in the background.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	go w.supervise(ctx)
}

// Stop terminates the watch loop and waits for it to exit.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	<-w.done
}

func (w *Watcher) supervise(ctx context.Context) {
	defer close(w.done)
	backoff := retry.WithCappedDuration(restartBackoffCap, retry.NewExponential(restartBackoffBase))
	for {
		started := time.Now()
		err := w.run(ctx)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) >= healthyRunReset {
			backoff = retry.WithCappedDuration(restartBackoffCap, retry.NewExponential(restartBackoffBase))
		}
		delay, _ := backoff.Next()
		w.logger.Error("file watcher failed, restarting", "error", err, "restart_in", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// run sets up an fsnotify watcher over the whole tree and processes events
// until an error or cancellation. Directories are enumerated before their
// contents, so parent records always precede child records on startup; live
// out-of-order events are parked in the pending set.
func (w *Watcher) run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fs watcher: %w", err)
	}
	defer watcher.Close()

	if err := w.watchTree(ctx, watcher); err != nil {
		return err
	}
	w.logger.Info("file watcher running", "root", w.root)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return errors.New("fs watcher event channel closed")
			}
			w.handleEvent(ctx, watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("fs watcher error channel closed")
			}
			return fmt.Errorf("fs watcher: %w", err)
		}
	}
}

// watchTree registers watches breadth-first so parent directories are
// observed before their children, and backfills records missed while the
// watcher was down.
func (w *Watcher) watchTree(ctx context.Context, watcher *fsnotify.Watcher) error {
	return filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == w.root {
			return watcher.Add(path)
		}
		if d.IsDir() {
			if err := watcher.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
		w.recordPath(ctx, watcher, path, d.IsDir())
		return nil
	})
}

func (w *Watcher) handleEvent(ctx context.Context, watcher *fsnotify.Watcher, event fsnotify.Event) {
	switch {
	case event.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err != nil {
			// Deleted again before we looked; the remove event cleans up.
			return
		}
		if info.IsDir() {
			if err := watcher.Add(event.Name); err != nil {
				w.logger.Warn("watch new folder failed", "path", event.Name, "error", err)
			}
		}
		w.recordPath(ctx, watcher, event.Name, info.IsDir())
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if err := w.files.DeleteFileByPath(ctx, w.projectID, event.Name); err != nil {
			w.logger.Warn("delete file record failed", "path", event.Name, "error", err)
		}
		w.pending.drop(event.Name)
		_ = watcher.Remove(event.Name)
	}
}

// recordPath mirrors one disk entry into the file records, resolving its
// parent record from the path hierarchy. Children of not-yet-recorded
// folders are parked and replayed when the folder record lands.
func (w *Watcher) recordPath(ctx context.Context, watcher *fsnotify.Watcher, path string, isDir bool) {
	name := filepath.Base(path)
	parentDir := filepath.Dir(path)

	if !isDir && parentDir == w.root && name == scaffold.BootstrapFileName {
		// Scaffolding recorded the bootstrap script explicitly.
		return
	}
	if _, err := w.files.GetFileByPath(ctx, w.projectID, path); err == nil {
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		w.logger.Warn("file record lookup failed", "path", path, "error", err)
		return
	}

	parentID := domain.RootParentID
	if parentDir != w.root {
		parent, err := w.files.GetFileByPath(ctx, w.projectID, parentDir)
		switch {
		case err == nil:
			parentID = parent.ID
		case errors.Is(err, repository.ErrNotFound):
			w.pending.park(parentDir, path)
			return
		default:
			w.logger.Warn("parent record lookup failed", "path", path, "error", err)
			return
		}
	}

	kind := domain.FileKindFile
	if isDir {
		kind = domain.FileKindFolder
	}
	record := &domain.File{
		Name:      name,
		Kind:      kind,
		Path:      path,
		ProjectID: w.projectID,
		ParentID:  parentID,
		CreatedAt: time.Now().UTC(),
	}
	if err := w.files.CreateFile(ctx, record); err != nil {
		w.logger.Warn("create file record failed", "path", path, "error", err)
		return
	}
	w.logger.Info("file record reconciled", "path", path, "kind", kind, "parent_id", parentID)

	if isDir {
		for _, child := range w.pending.take(path) {
			info, err := os.Stat(child)
			if err != nil {
				continue
			}
			w.recordPath(ctx, watcher, child, info.IsDir())
		}
	}
}
