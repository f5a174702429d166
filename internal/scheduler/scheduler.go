package scheduler

import (
	"context"
	"log/slog"
	"time"

	"topic_syncer/internal/domain"
)

// Syncer defines the interface for sync operations.
type Syncer interface {
	Sync(ctx context.Context) (*domain.SyncStats, error)
}

type Scheduler struct {
	syncer       Syncer
	interval     time.Duration
	cycleTimeout time.Duration
	logger       *slog.Logger
}

func NewScheduler(syncer Syncer, interval, cycleTimeout time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		syncer:       syncer,
		interval:     interval,
		cycleTimeout: cycleTimeout,
		logger:       logger.With("component", "scheduler"),
	}
}

// Start runs a cycle immediately and then once per interval until ctx is done.
// Cycles never overlap: a tick that arrives during a long cycle is dropped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "cycle_timeout", s.cycleTimeout)

	s.runSync(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.runSync(ctx)
		}
	}
}

func (s *Scheduler) runSync(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	syncCtx := ctx
	if s.cycleTimeout > 0 {
		var cancel context.CancelFunc
		syncCtx, cancel = context.WithTimeout(ctx, s.cycleTimeout)
		defer cancel()
	}

	if _, err := s.syncer.Sync(syncCtx); err != nil {
		if ctx.Err() != nil {
			s.logger.Info("sync interrupted by shutdown", "error", err)
			return
		}
		s.logger.Error("sync failed", "error", err)
	}
}
