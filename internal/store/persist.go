package store

import (
	"context"
	"fmt"
	"path/filepath"

	fileutil "kbtasks/internal/file"
	"kbtasks/internal/task"
)

// Persister stores and restores the whole task collection at once.
// Default implementation is file-based; SQLite and Redis adapters are
// available for deployments that already run them.
type Persister interface {
	LoadTasks(ctx context.Context) ([]task.Task, error)
	SaveTasks(ctx context.Context, tasks []task.Task) error
}

const snapshotFile = "tasks.json"

// FileStore keeps the collection as one JSON snapshot under dataDir.
type FileStore struct {
	path string
}

func NewFileStore(dataDir string) *FileStore {
	if dataDir == "" {
		dataDir = "data"
	}
	return &FileStore{path: filepath.Join(dataDir, snapshotFile)}
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) LoadTasks(ctx context.Context) ([]task.Task, error) { //nolint:revive // context reserved for future use
	var tasks []task.Task
	if _, err := fileutil.ReadJSON(s.path, &tasks); err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", s.path, err)
	}
	return tasks, nil
}

func (s *FileStore) SaveTasks(ctx context.Context, tasks []task.Task) error { //nolint:revive // context reserved for future use
	if tasks == nil {
		tasks = []task.Task{}
	}
	return fileutil.WriteJSONAtomic(s.path, tasks) //nolint:wrapcheck
}
