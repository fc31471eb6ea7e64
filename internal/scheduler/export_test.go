package scheduler

import "context"

// ExportedRunRetention exposes the private runRetention method for external tests.
func (s *Scheduler) ExportedRunRetention(ctx context.Context) {
	s.runRetention(ctx)
}
