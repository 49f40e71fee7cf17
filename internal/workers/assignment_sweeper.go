package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/sand/scrap-pickup/backend/internal/core/ports"
)

// AssignmentExpirer flips stale offers to TIMED_OUT.
type AssignmentExpirer interface {
	ExpireStaleAssignments(ctx context.Context, limit int) (int, error)
}

// AssignmentSweeper periodically marks offers whose deadline passed. Claiming
// never waits for it: deadlines are evaluated when orders are read or claimed.
type AssignmentSweeper struct {
	logger   *slog.Logger
	orders   AssignmentExpirer
	locker   ports.Locker
	lockKey  string
	interval time.Duration
	batch    int
}

func NewAssignmentSweeper(
	logger *slog.Logger,
	orders AssignmentExpirer,
	locker ports.Locker,
	lockKey string,
	interval time.Duration,
	batch int,
) *AssignmentSweeper {
	return &AssignmentSweeper{
		logger:   logger,
		orders:   orders,
		locker:   locker,
		lockKey:  lockKey,
		interval: interval,
		batch:    batch,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *AssignmentSweeper) Start(ctx context.Context) {
	s.logger.Info("Starting assignment sweeper",
		"interval", s.interval.String(),
		"batch", s.batch)

	if err := s.sweep(ctx); err != nil {
		s.logger.Error("Initial assignment sweep failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Assignment sweeper stopped")
			return
		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logger.Error("Assignment sweep failed", "error", err)
			}
		}
	}
}

// sweep expires one batch while holding the sweeper lock. Another instance
// holding the lock means this tick is skipped.
func (s *AssignmentSweeper) sweep(ctx context.Context) error {
	acquired, err := s.locker.TryLock(ctx, s.lockKey)
	if err != nil {
		return err
	}
	if !acquired {
		s.logger.Debug("Assignment sweep skipped, lock held elsewhere", "lock_key", s.lockKey)
		return nil
	}
	defer func() {
		if err := s.locker.Unlock(context.WithoutCancel(ctx), s.lockKey); err != nil {
			s.logger.Warn("Failed to release sweeper lock", "error", err)
		}
	}()

	count, err := s.orders.ExpireStaleAssignments(ctx, s.batch)
	if err != nil {
		return err
	}

	if count > 0 {
		s.logger.Info("Expired stale assignments", "count", count)
	} else {
		s.logger.Debug("No stale assignments")
	}

	return nil
}
