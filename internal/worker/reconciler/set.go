package reconciler

import (
	"context"
	"sync"

	"log/slog"

	"github.com/splax/coderoom/internal/repository"
)

// Set tracks the running watcher per project owned by this worker.
type Set struct {
	mu       sync.Mutex
	watchers map[int64]*Watcher
	files    repository.FileRepository
	logger   *slog.Logger
}

// NewSet returns an empty watcher set.
func NewSet(files repository.FileRepository, logger *slog.Logger) *Set {
	return &Set{
		watchers: make(map[int64]*Watcher),
		files:    files,
		logger:   logger,
	}
}

// Start launches a watcher for the project root, replacing any previous one.
func (s *Set) Start(ctx context.Context, projectID int64, root string) {
	s.mu.Lock()
	previous := s.watchers[projectID]
	watcher := New(projectID, root, s.files, s.logger)
	s.watchers[projectID] = watcher
	s.mu.Unlock()

	if previous != nil {
		previous.Stop()
	}
	watcher.Start(ctx)
}

// Stop terminates and forgets the project's watcher if one is running.
func (s *Set) Stop(projectID int64) {
	s.mu.Lock()
	watcher := s.watchers[projectID]
	delete(s.watchers, projectID)
	s.mu.Unlock()

	if watcher != nil {
		watcher.Stop()
	}
}

// Close stops every running watcher.
func (s *Set) Close() {
	s.mu.Lock()
	watchers := make([]*Watcher, 0, len(s.watchers))
	for id, watcher := range s.watchers {
		watchers = append(watchers, watcher)
		delete(s.watchers, id)
	}
	s.mu.Unlock()

	for _, watcher := range watchers {
		watcher.Stop()
	}
}
