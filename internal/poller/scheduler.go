package poller

import (
	"context"
	"sync"
	"time"
)

// scheduler runs one ticker per key and reference-counts its users: the
// ticker starts when the count goes from 0 to 1 and is canceled when it drops
// back to 0.
type scheduler struct {
	interval time.Duration
	tick     func(ctx context.Context, key string)

	mu      sync.Mutex
	entries map[string]*schedEntry
	wg      sync.WaitGroup
}

type schedEntry struct {
	count  int
	cancel context.CancelFunc
}

func newScheduler(interval time.Duration, tick func(ctx context.Context, key string)) *scheduler {
	return &scheduler{
		interval: interval,
		tick:     tick,
		entries:  make(map[string]*schedEntry),
	}
}

// acquire adds a reference to key and reports whether a ticker was started.
func (s *scheduler) acquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.count++
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.entries[key] = &schedEntry{count: 1, cancel: cancel}
	s.wg.Add(1)
	go s.run(ctx, key)
	return true
}

// release drops a reference to key and reports whether its ticker was stopped.
func (s *scheduler) release(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	e.count--
	if e.count > 0 {
		return false
	}
	e.cancel()
	delete(s.entries, key)
	return true
}

func (s *scheduler) active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// stopAll cancels every ticker and waits for in-flight ticks to return.
func (s *scheduler) stopAll() {
	s.mu.Lock()
	for key, e := range s.entries {
		e.cancel()
		delete(s.entries, key)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *scheduler) run(ctx context.Context, key string) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, key)
		}
	}
}
