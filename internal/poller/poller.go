// Package poller keeps upload and parse tasks in sync with the external
// document parsing pipeline, which can only be observed by polling.
//
// Documents are watched per knowledge base. All documents of one knowledge
// base share a single ticker, so the number of timers is bounded by the number
// of knowledge bases being watched, not by the number of documents.
package poller

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"kbtasks/internal/docstatus"
	"kbtasks/internal/store"
	"kbtasks/internal/task"
)

const (
	DefaultInterval = 3 * time.Second
	MinInterval     = 50 * time.Millisecond
)

// StatusSource reports the parsing status of a document.
type StatusSource interface {
	DocumentStatus(ctx context.Context, kbID, docID string) (docstatus.Result, error)
}

// TaskStore is the part of the task store the poller reconciles into.
type TaskStore interface {
	GetTasksByDocID(kbID, docID string) []task.Task
	UpdateTaskByDocID(kbID, docID string, patch store.Patch) int
}

type Options struct {
	// Interval between polls of one knowledge base. Zero means DefaultInterval;
	// anything below MinInterval is raised to it.
	Interval time.Duration
}

// Poller is meant to exist once per process; the composition root owns it.
type Poller struct {
	store  TaskStore
	source StatusSource

	mu      sync.Mutex
	watched map[string]map[string]struct{}
	closed  bool

	sched *scheduler
}

func New(ts TaskStore, source StatusSource, opts Options) *Poller {
	interval := opts.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	if interval < MinInterval {
		interval = MinInterval
	}
	p := &Poller{
		store:   ts,
		source:  source,
		watched: make(map[string]map[string]struct{}),
	}
	p.sched = newScheduler(interval, p.pollOnce)
	return p
}

// StartTracking watches docID under kbID. Calling it again for the same pair
// has no effect, and so does calling it after Close.
func (p *Poller) StartTracking(kbID, docID string) {
	if kbID == "" || docID == "" {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		log.Debug().Str("kb_id", kbID).Str("doc_id", docID).Msg("poller closed, not tracking document")
		return
	}
	docs, ok := p.watched[kbID]
	if !ok {
		docs = make(map[string]struct{})
		p.watched[kbID] = docs
	}
	if _, dup := docs[docID]; dup {
		p.mu.Unlock()
		return
	}
	docs[docID] = struct{}{}
	started := p.sched.acquire(kbID)
	p.mu.Unlock()

	log.Debug().Str("kb_id", kbID).Str("doc_id", docID).Bool("timer_started", started).Msg("tracking document")
}

// StopTracking stops watching docID. The knowledge base's ticker is canceled
// once its last document is released.
func (p *Poller) StopTracking(kbID, docID string) {
	p.mu.Lock()
	docs, ok := p.watched[kbID]
	if !ok {
		p.mu.Unlock()
		return
	}
	if _, ok := docs[docID]; !ok {
		p.mu.Unlock()
		return
	}
	delete(docs, docID)
	if len(docs) == 0 {
		delete(p.watched, kbID)
	}
	stopped := p.sched.release(kbID)
	p.mu.Unlock()

	log.Debug().Str("kb_id", kbID).Str("doc_id", docID).Bool("timer_stopped", stopped).Msg("stopped tracking document")
}

// Watched returns the documents currently watched under kbID, sorted.
func (p *Poller) Watched(kbID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	docs := make([]string, 0, len(p.watched[kbID]))
	for docID := range p.watched[kbID] {
		docs = append(docs, docID)
	}
	sort.Strings(docs)
	return docs
}

// ActiveTimers returns the number of knowledge bases with a running ticker.
func (p *Poller) ActiveTimers() int {
	return p.sched.active()
}

// Close cancels every ticker and forgets all watched documents. Only meant
// for process shutdown; later StartTracking calls are ignored.
func (p *Poller) Close() {
	p.mu.Lock()
	p.closed = true
	p.watched = make(map[string]map[string]struct{})
	p.mu.Unlock()
	p.sched.stopAll()
}

func (p *Poller) isWatched(kbID, docID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.watched[kbID][docID]
	return ok
}

type pollOutcome struct {
	result docstatus.Result
	err    error
}

// pollOnce queries every watched document of kbID concurrently and reconciles
// the results once all requests have returned.
func (p *Poller) pollOnce(ctx context.Context, kbID string) {
	docIDs := p.Watched(kbID)
	if len(docIDs) == 0 {
		return
	}

	outcomes := make([]pollOutcome, len(docIDs))
	var g errgroup.Group
	for i, docID := range docIDs {
		i, docID := i, docID
		g.Go(func() error {
			res, err := p.source.DocumentStatus(ctx, kbID, docID)
			outcomes[i] = pollOutcome{result: res, err: err}
			// never fail the group: one broken document must not cancel the others
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return
	}
	for i, docID := range docIDs {
		p.reconcile(kbID, docID, outcomes[i])
	}
}

func (p *Poller) reconcile(kbID, docID string, out pollOutcome) {
	logger := log.With().Str("kb_id", kbID).Str("doc_id", docID).Logger()
	if out.err != nil {
		// transient: only an authoritative terminal status may change a task
		logger.Debug().Err(out.err).Msg("document status poll failed")
		return
	}
	if !p.isWatched(kbID, docID) {
		return
	}

	matches := p.store.GetTasksByDocID(kbID, docID)
	if len(matches) == 0 {
		logger.Debug().Msg("no task tracks document any more")
		p.StopTracking(kbID, docID)
		return
	}

	status := MapState(out.result.State)
	parse := out.result.Progress
	if status == task.StatusSucceeded {
		// a completed document is fully parsed whatever progress it reports
		parse = 100
	}
	patch := store.Patch{
		Status:       &status,
		Progress:     &store.ProgressPatch{Parse: store.Ptr(parse)},
		SkipCanceled: true,
	}
	if status == task.StatusFailed {
		msg := out.result.ErrorMessage
		if msg == "" {
			msg = task.DefaultParseErrorMessage
		}
		patch.Error = &task.Error{Message: msg}
	} else {
		patch.ClearError = true
	}
	updated := p.store.UpdateTaskByDocID(kbID, docID, patch)

	switch {
	case task.IsTerminal(status):
		logger.Info().Str("status", string(status)).Int("tasks", updated).Msg("document reached terminal status")
		p.StopTracking(kbID, docID)
	case allCanceled(matches):
		logger.Info().Msg("every task for document canceled, releasing watch")
		p.StopTracking(kbID, docID)
	}
}

// MapState translates an external document state into a task status.
func MapState(s docstatus.State) task.Status {
	switch s {
	case docstatus.StateCompleted:
		return task.StatusSucceeded
	case docstatus.StateFailed:
		return task.StatusFailed
	default:
		return task.StatusRunning
	}
}

func allCanceled(tasks []task.Task) bool {
	for _, t := range tasks {
		if t.Status != task.StatusCanceled {
			return false
		}
	}
	return len(tasks) > 0
}
