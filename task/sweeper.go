package task

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper force-fails tasks that stopped making progress, typically because
// their worker died mid-run. Swept tasks fail retryable so clients can simply
// resubmit.
type Sweeper struct {
	manager    *Manager
	staleAfter time.Duration
	interval   time.Duration
	logger     *slog.Logger
}

// NewSweeper creates a sweeper over manager. staleAfter is how long a
// non-terminal task may go without an update; interval is how often to sweep.
func NewSweeper(manager *Manager, staleAfter, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		manager:    manager,
		staleAfter: staleAfter,
		interval:   interval,
		logger:     logger,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(ctx); n > 0 {
				s.logger.Info("Swept stale tasks", "count", n)
			}
		}
	}
}

// Sweep fails every stale non-terminal task once and returns how many were
// swept.
func (s *Sweeper) Sweep(ctx context.Context) int {
	tasks, err := s.manager.store.List(ctx)
	if err != nil {
		s.logger.Warn("Stale sweep failed to list tasks", "error", err)
		return 0
	}

	cutoff := s.manager.now().UTC().Add(-s.staleAfter)
	swept := 0
	for _, t := range tasks {
		if t.Status.Terminal() || !t.UpdatedAt.Before(cutoff) {
			continue
		}

		failure := NewFailure(CodeCompositionFailure, "task stalled without progress and was abandoned")
		if _, err := s.manager.Fail(ctx, t.ID, failure); err != nil {
			s.logger.Warn("Failed to sweep stale task", "task_id", t.ID, "error", err)
			continue
		}
		s.logger.Warn("Force-failed stale task",
			"task_id", t.ID,
			"last_update", t.UpdatedAt,
			"stale_after", s.staleAfter)
		swept++
	}
	return swept
}
