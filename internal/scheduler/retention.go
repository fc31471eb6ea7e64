package scheduler

import (
	"context"
	"time"
)

// runRetention performs one retention sweep. Failures are logged and the
// next scheduled run tries again.
func (s *Scheduler) runRetention(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SweepTimeout)
	defer cancel()

	start := time.Now()
	removed, err := s.cfg.Purger.Purge(ctx, s.cfg.Retention)
	if err != nil {
		s.logger.Error("retention sweep failed", "retention", s.cfg.Retention, "error", err)
		return
	}
	s.logger.Info("retention sweep finished",
		"retention", s.cfg.Retention, "removed", removed, "duration_ms", time.Since(start).Milliseconds())
}
