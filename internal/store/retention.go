package store

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"kbtasks/internal/task"
)

// Cleanup applies the retention policy and returns the number of removed tasks.
//
// Terminal tasks not updated within MaxAge are dropped first. If the store is
// still above MaxTasks, the oldest terminal tasks are dropped until it fits.
// Pending, running and paused tasks are never evicted, so the store may stay
// above MaxTasks when most of it is in flight.
func (s *Store) Cleanup() int {
	now := s.now()
	removed := 0
	s.replace(func(cur []task.Task) []task.Task {
		kept := make([]task.Task, 0, len(cur))
		for _, t := range cur {
			if task.IsTerminal(t.Status) && now.Sub(t.UpdatedAt) > s.maxAge {
				continue
			}
			kept = append(kept, t)
		}

		if excess := len(kept) - s.maxTasks; excess > 0 {
			terminal := make([]int, 0, len(kept))
			for i, t := range kept {
				if task.IsTerminal(t.Status) {
					terminal = append(terminal, i)
				}
			}
			sort.SliceStable(terminal, func(a, b int) bool {
				return kept[terminal[a]].UpdatedAt.Before(kept[terminal[b]].UpdatedAt)
			})
			if excess > len(terminal) {
				excess = len(terminal)
			}
			evict := make(map[int]struct{}, excess)
			for _, i := range terminal[:excess] {
				evict[i] = struct{}{}
			}
			capped := make([]task.Task, 0, len(kept)-excess)
			for i, t := range kept {
				if _, drop := evict[i]; !drop {
					capped = append(capped, t)
				}
			}
			kept = capped
		}

		removed = len(cur) - len(kept)
		if removed == 0 {
			return cur
		}
		return kept
	})
	return removed
}

// RunRetention calls Cleanup every interval until ctx is done.
func (s *Store) RunRetention(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := s.Cleanup(); removed > 0 {
				log.Info().Int("removed", removed).Int("remaining", s.Len()).Msg("task retention sweep")
			}
		}
	}
}
