// Package scheduler triggers reconciliation runs and retention sweeps on a
// fixed interval.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/crimeapps/drc-integration/common/logging"
	"github.com/crimeapps/drc-integration/reconcile/internal/models"
)

// Runner performs runs for a list of categories.
type Runner interface {
	RunAll(ctx context.Context, categories []models.Category) ([]*models.RunReport, error)
}

// Purger deletes audit rows older than a cutoff.
type Purger interface {
	PurgeAuditBefore(ctx context.Context, ts time.Time) (int64, error)
	PurgeErrorsBefore(ctx context.Context, ts time.Time) (int64, error)
}

type Config struct {
	// RunInterval of zero disables scheduled runs.
	RunInterval time.Duration
	Categories  []models.Category
	// AuditDays and ErrorDays of zero keep rows forever.
	AuditDays         int
	ErrorDays         int
	RetentionInterval time.Duration
	Now               func() time.Time
}

// Scheduler runs its loops until the context is cancelled or Stop is called.
type Scheduler struct {
	runner  Runner
	purger  Purger
	cfg     Config
	logger  *slog.Logger
	stop    chan struct{}
	stopped chan struct{}
}

func New(runner Runner, purger Purger, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RetentionInterval <= 0 {
		cfg.RetentionInterval = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:  runner,
		purger:  purger,
		cfg:     cfg,
		logger:  logger,
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Enabled reports whether Start has anything to do.
func (s *Scheduler) Enabled() bool {
	return s.runsEnabled() || s.retentionEnabled()
}

func (s *Scheduler) runsEnabled() bool {
	return s.cfg.RunInterval > 0 && len(s.cfg.Categories) > 0
}

func (s *Scheduler) retentionEnabled() bool {
	return s.cfg.AuditDays > 0 || s.cfg.ErrorDays > 0
}

// Start blocks, running immediately and then on every tick. Call it in a
// goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.stopped)

	var runTick, sweepTick <-chan time.Time
	if s.runsEnabled() {
		t := time.NewTicker(s.cfg.RunInterval)
		defer t.Stop()
		runTick = t.C
		s.logger.Info("scheduled runs enabled", slog.Duration("interval", s.cfg.RunInterval))
		s.runOnce(ctx)
	}
	if s.retentionEnabled() {
		t := time.NewTicker(s.cfg.RetentionInterval)
		defer t.Stop()
		sweepTick = t.C
		s.logger.Info("retention sweep enabled",
			slog.Int("audit_days", s.cfg.AuditDays),
			slog.Int("error_days", s.cfg.ErrorDays))
		s.Sweep(ctx)
	}

	for {
		select {
		case <-runTick:
			s.runOnce(ctx)
		case <-sweepTick:
			s.Sweep(ctx)
		case <-s.stop:
			s.logger.Info("scheduler stopped")
			return
		case <-ctx.Done():
			s.logger.Info("scheduler context cancelled")
			return
		}
	}
}

// Stop signals the loop to exit and waits for it.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.stopped
}

func (s *Scheduler) runOnce(ctx context.Context) {
	reports, err := s.runner.RunAll(ctx, s.cfg.Categories)
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduled run failed", logging.Count(len(reports)), logging.Error(err))
	}
}

// Sweep purges rows past their retention period.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := s.cfg.Now().UTC()
	if s.cfg.AuditDays > 0 {
		n, err := s.purger.PurgeAuditBefore(ctx, now.AddDate(0, 0, -s.cfg.AuditDays))
		if err != nil {
			s.logger.ErrorContext(ctx, "audit retention sweep failed", logging.Error(err))
		} else {
			s.logger.InfoContext(ctx, "audit retention sweep", logging.Count(int(n)))
		}
	}
	if s.cfg.ErrorDays > 0 {
		n, err := s.purger.PurgeErrorsBefore(ctx, now.AddDate(0, 0, -s.cfg.ErrorDays))
		if err != nil {
			s.logger.ErrorContext(ctx, "error retention sweep failed", logging.Error(err))
		} else {
			s.logger.InfoContext(ctx, "error retention sweep", logging.Count(int(n)))
		}
	}
}
