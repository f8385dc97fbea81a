package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/yuchialin/slotgate/internal/db"
	"github.com/yuchialin/slotgate/internal/metrics"
	"github.com/yuchialin/slotgate/internal/reminder"
)

// ReminderScanner runs one reminder pass for a kind.
type ReminderScanner interface {
	Scan(ctx context.Context, kind string) (reminder.Stats, error)
}

// LockSweeper removes expired slot locks.
type LockSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

// Config holds scheduler intervals.
type Config struct {
	ScanInterval  time.Duration // reminder pass cadence
	SweepInterval time.Duration // expired-lock sweep cadence
}

// Scheduler drives the periodic background work: reminder scans on a short
// cadence and lock sweeps on a long one. Expired locks are already ignored
// by acquisition, so the sweep is housekeeping that keeps the lock table
// small, not a correctness requirement.
type Scheduler struct {
	scanner ReminderScanner
	locks   LockSweeper
	cfg     Config
	logger  *zap.Logger
}

// New creates a scheduler.
func New(scanner ReminderScanner, locks LockSweeper, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 15 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Hour
	}

	return &Scheduler{
		scanner: scanner,
		locks:   locks,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start runs the scheduling loop until ctx is cancelled. It blocks; run it
// in its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("scheduler started",
		zap.Duration("scan_interval", s.cfg.ScanInterval),
		zap.Duration("sweep_interval", s.cfg.SweepInterval),
	)

	scanTicker := time.NewTicker(s.cfg.ScanInterval)
	defer scanTicker.Stop()
	sweepTicker := time.NewTicker(s.cfg.SweepInterval)
	defer sweepTicker.Stop()

	// First pass immediately so a restart doesn't leave a scan-interval
	// sized gap in reminder coverage.
	s.runScans(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-scanTicker.C:
			s.runScans(ctx)
		case <-sweepTicker.C:
			s.runSweep(ctx)
		}
	}
}

func (s *Scheduler) runScans(ctx context.Context) {
	for _, kind := range []string{db.Reminder24h, db.Reminder2h} {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.scanner.Scan(ctx, kind); err != nil {
			s.logger.Error("reminder scan failed",
				zap.String("kind", kind),
				zap.Error(err),
			)
		}
	}
}

func (s *Scheduler) runSweep(ctx context.Context) {
	swept, err := s.locks.SweepExpired(ctx)
	if err != nil {
		s.logger.Error("lock sweep failed", zap.Error(err))
		return
	}
	if swept > 0 {
		metrics.RecordLocksSwept(swept)
	}
}
