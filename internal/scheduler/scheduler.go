// Package scheduler runs periodic maintenance jobs, currently the
// age-based retention sweep of notification records.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// DefaultRetentionCron runs the sweep daily at 03:00 local time.
const DefaultRetentionCron = "0 3 * * *"

// Purger deletes notification records older than a given age.
type Purger interface {
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Config holds the scheduler configuration.
type Config struct {
	Purger Purger
	Logger *slog.Logger
	// Retention is the record age after which records are purged. Zero
	// disables the sweep.
	Retention time.Duration
	// RetentionCron is a five-field cron expression.
	RetentionCron string
	// SweepTimeout bounds a single sweep. Defaults to 5 minutes.
	SweepTimeout time.Duration
}

// Scheduler manages maintenance jobs using gocron.
type Scheduler struct {
	cron   gocron.Scheduler
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	retention gocron.Job
}

// New creates a new Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Purger == nil {
		return nil, errors.New("scheduler: purger is required")
	}
	if cfg.Retention < 0 {
		return nil, fmt.Errorf("scheduler: negative retention %s", cfg.Retention)
	}
	if cfg.RetentionCron == "" {
		cfg.RetentionCron = DefaultRetentionCron
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = 5 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating gocron scheduler: %w", err)
	}

	return &Scheduler{
		cron:   cron,
		cfg:    cfg,
		logger: logger.With("component", "scheduler"),
	}, nil
}

// Start schedules the retention sweep and starts the gocron scheduler.
func (s *Scheduler) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Retention > 0 {
		job, err := s.cron.NewJob(
			gocron.CronJob(s.cfg.RetentionCron, false),
			gocron.NewTask(func() {
				s.runRetention(context.Background())
			}),
			gocron.WithName("retention"),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return fmt.Errorf("scheduling retention sweep %q: %w", s.cfg.RetentionCron, err)
		}
		s.retention = job
	}

	s.cron.Start()
	if s.retention == nil {
		s.logger.Info("maintenance scheduler started, retention sweep disabled")
		return nil
	}
	s.logger.Info("maintenance scheduler started",
		"retention", s.cfg.Retention, "cron", s.cfg.RetentionCron)
	return nil
}

// Stop shuts down the gocron scheduler.
func (s *Scheduler) Stop() error {
	return s.cron.Shutdown()
}

// NextRetentionRun reports when the retention sweep fires next. ok is false
// when the sweep is disabled or not yet scheduled.
func (s *Scheduler) NextRetentionRun() (next time.Time, ok bool) {
	s.mu.Lock()
	job := s.retention
	s.mu.Unlock()

	if job == nil {
		return time.Time{}, false
	}
	next, err := job.NextRun()
	if err != nil {
		return time.Time{}, false
	}
	return next, true
}
