package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"kbtasks/internal/task"
)

const (
	DefaultMaxAge   = 24 * time.Hour
	DefaultMaxTasks = 1000
)

type Options struct {
	// Persister backs Load and Save. A nil persister keeps the store purely in memory.
	Persister Persister
	// AutoSave writes the whole collection after every mutation (best-effort).
	AutoSave bool
	MaxAge   time.Duration
	MaxTasks int
	// Now is the clock used for timestamps and retention; defaults to time.Now.
	Now func() time.Time
}

// DocumentKey identifies a document inside a knowledge base.
type DocumentKey struct {
	KBID  string `json:"kb_id"`
	DocID string `json:"doc_id"`
}

// Store is the single source of truth for tasks. Every mutation builds a new
// collection and swaps it in whole, so readers never observe partial updates.
// Lookups for unknown ids are silent no-ops.
type Store struct {
	mu    sync.RWMutex
	tasks []task.Task

	saveMu    sync.Mutex
	persister Persister
	autoSave  bool

	maxAge   time.Duration
	maxTasks int
	now      func() time.Time
}

// New creates an empty store. Call Load to populate it from the persister.
func New(opts Options) *Store {
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.MaxTasks <= 0 {
		opts.MaxTasks = DefaultMaxTasks
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		persister: opts.Persister,
		autoSave:  opts.AutoSave && opts.Persister != nil,
		maxAge:    opts.MaxAge,
		maxTasks:  opts.MaxTasks,
		now:       opts.Now,
	}
}

// Load replaces the in-memory collection with the persisted one.
func (s *Store) Load(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	loaded, err := s.persister.LoadTasks(ctx)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	next := make([]task.Task, 0, len(loaded))
	pos := make(map[string]int, len(loaded))
	for _, t := range loaded {
		if t.ID == "" {
			continue
		}
		t = normalize(t)
		if i, dup := pos[t.ID]; dup {
			next[i] = t
			continue
		}
		pos[t.ID] = len(next)
		next = append(next, t)
	}
	s.mu.Lock()
	s.tasks = next
	s.mu.Unlock()
	return nil
}

// Save writes the current collection to the persister.
func (s *Store) Save(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if err := s.persister.SaveTasks(ctx, s.List()); err != nil {
		return fmt.Errorf("save tasks: %w", err)
	}
	return nil
}

// replace runs fn against the current collection under the write lock and
// installs its result. fn must not modify cur in place.
// Returning cur itself marks the mutation as a no-op and skips the autosave.
func (s *Store) replace(fn func(cur []task.Task) []task.Task) {
	s.mu.Lock()
	cur := s.tasks
	next := fn(cur)
	s.tasks = next
	s.mu.Unlock()
	if sameSlice(cur, next) {
		return
	}
	s.autosave()
}

func sameSlice(a, b []task.Task) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}

func (s *Store) autosave() {
	if !s.autoSave {
		return
	}
	if err := s.Save(context.Background()); err != nil {
		log.Warn().Err(err).Msg("persist tasks failed")
	}
}

// AddTask inserts t, filling the id and timestamps when absent. A task with
// an existing id replaces the stored one but keeps its group and creation time.
func (s *Store) AddTask(t task.Task) task.Task {
	return s.AddTasks([]task.Task{t})[0]
}

// AddTasks inserts a batch in one mutation and returns the stored copies.
func (s *Store) AddTasks(tasks []task.Task) []task.Task {
	if len(tasks) == 0 {
		return nil
	}
	now := s.now()
	added := make([]task.Task, len(tasks))
	for i, t := range tasks {
		t = t.Clone()
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		if t.UpdatedAt.IsZero() {
			t.UpdatedAt = now
		}
		added[i] = normalize(t)
	}

	s.replace(func(cur []task.Task) []task.Task {
		next := make([]task.Task, len(cur), len(cur)+len(added))
		copy(next, cur)
		pos := indexByID(next)
		for k, t := range added {
			if i, ok := pos[t.ID]; ok {
				// a group id never changes once set
				if next[i].GroupID != "" {
					t.GroupID = next[i].GroupID
				}
				t.CreatedAt = next[i].CreatedAt
				added[k] = t
				next[i] = t
				continue
			}
			pos[t.ID] = len(next)
			next = append(next, t)
		}
		return next
	})

	out := make([]task.Task, len(added))
	for i, t := range added {
		out[i] = t.Clone()
	}
	return out
}

// UpdateTask merges patch onto the task with the given id. It reports whether
// the task exists; an unknown id changes nothing.
func (s *Store) UpdateTask(id string, patch Patch) bool {
	_, err := s.UpdateTaskChecked(id, patch, nil)
	return err == nil
}

// UpdateTaskChecked is UpdateTask with a precondition: check sees the stored
// task under the write lock, and a non-nil error from it aborts the update.
// It returns the task as stored afterwards, or task.ErrTaskNotFound.
func (s *Store) UpdateTaskChecked(id string, patch Patch, check func(current task.Task) error) (task.Task, error) {
	var (
		result task.Task
		err    error
	)
	s.replace(func(cur []task.Task) []task.Task {
		i := indexOf(cur, id)
		if i < 0 {
			err = task.ErrTaskNotFound
			return cur
		}
		if check != nil {
			if err = check(cur[i]); err != nil {
				return cur
			}
		}
		merged, ok := patch.apply(cur[i], s.now())
		if !ok {
			result = cur[i].Clone()
			return cur
		}
		next := make([]task.Task, len(cur))
		copy(next, cur)
		next[i] = merged
		result = merged.Clone()
		return next
	})
	return result, err
}

// UpdateTaskByDocID merges patch onto every upload or parse task tracking
// (kbID, docID) and returns how many tasks were changed.
func (s *Store) UpdateTaskByDocID(kbID, docID string, patch Patch) int {
	updated := 0
	s.replace(func(cur []task.Task) []task.Task {
		var next []task.Task
		now := s.now()
		for i, t := range cur {
			if !t.MatchesDocument(kbID, docID) {
				continue
			}
			merged, ok := patch.apply(t, now)
			if !ok {
				continue
			}
			if next == nil {
				next = make([]task.Task, len(cur))
				copy(next, cur)
			}
			next[i] = merged
			updated++
		}
		if next == nil {
			return cur
		}
		return next
	})
	return updated
}

func (s *Store) RemoveTask(id string) {
	s.replace(func(cur []task.Task) []task.Task {
		i := indexOf(cur, id)
		if i < 0 {
			return cur
		}
		next := make([]task.Task, 0, len(cur)-1)
		next = append(next, cur[:i]...)
		return append(next, cur[i+1:]...)
	})
}

func (s *Store) ClearTasks() {
	s.replace(func([]task.Task) []task.Task { return nil })
}

func (s *Store) GetTask(id string) (task.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := indexOf(s.tasks, id); i >= 0 {
		return s.tasks[i].Clone(), true
	}
	return task.Task{}, false
}

func (s *Store) GetTasksByGroupID(groupID string) []task.Task {
	return s.filter(func(t task.Task) bool { return groupID != "" && t.GroupID == groupID })
}

// GetTaskByDocID returns the first task, in insertion order, tracking (kbID, docID).
func (s *Store) GetTaskByDocID(kbID, docID string) (task.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tasks {
		if t.MatchesDocument(kbID, docID) {
			return t.Clone(), true
		}
	}
	return task.Task{}, false
}

// GetTasksByDocID returns every task tracking (kbID, docID).
func (s *Store) GetTasksByDocID(kbID, docID string) []task.Task {
	return s.filter(func(t task.Task) bool { return t.MatchesDocument(kbID, docID) })
}

// List returns a copy of all tasks in insertion order.
func (s *Store) List() []task.Task {
	return s.filter(func(task.Task) bool { return true })
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks)
}

// ActiveDocuments lists the documents of unfinished upload and parse tasks
// that already know their document id. Used to resume polling after a restart.
func (s *Store) ActiveDocuments() []DocumentKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[DocumentKey]struct{})
	var keys []DocumentKey
	for _, t := range s.tasks {
		if task.IsTerminal(t.Status) {
			continue
		}
		ref, ok := t.DocumentRef()
		if !ok || ref.DocID() == "" {
			continue
		}
		key := DocumentKey{KBID: ref.KBID, DocID: ref.DocID()}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

func (s *Store) filter(keep func(task.Task) bool) []task.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]task.Task, 0)
	for _, t := range s.tasks {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

func indexOf(tasks []task.Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func indexByID(tasks []task.Task) map[string]int {
	pos := make(map[string]int, len(tasks))
	for i := range tasks {
		pos[tasks[i].ID] = i
	}
	return pos
}

// normalize clamps progress and derives the total for document tasks, whose
// total is never an override.
func normalize(t task.Task) task.Task {
	t.Progress.Upload = task.ClampPercent(t.Progress.Upload)
	t.Progress.Parse = task.ClampPercent(t.Progress.Parse)
	if t.Progress.Total != nil {
		v := task.ClampPercent(*t.Progress.Total)
		t.Progress.Total = &v
	}
	switch t.Type {
	case task.TypeUploadDocument, task.TypeParseDocument:
		v := task.ComputeTaskProgress(t)
		t.Progress.Total = &v
	}
	return t
}
