package scheduler_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/dispatchd/internal/scheduler"
)

// --- helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type stubPurger struct {
	mu      sync.Mutex
	calls   []time.Duration
	removed int64
	err     error
	hasDL   bool
}

func (p *stubPurger) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, olderThan)
	_, p.hasDL = ctx.Deadline()
	return p.removed, p.err
}

func (p *stubPurger) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// --- tests ---

func TestNew_Validation(t *testing.T) {
	_, err := scheduler.New(scheduler.Config{})
	assert.Error(t, err)

	_, err = scheduler.New(scheduler.Config{Purger: &stubPurger{}, Retention: -time.Hour})
	assert.Error(t, err)
}

func TestRunRetention_PurgesWithConfiguredAge(t *testing.T) {
	purger := &stubPurger{removed: 4}
	s, err := scheduler.New(scheduler.Config{
		Purger:    purger,
		Logger:    newTestLogger(),
		Retention: 30 * 24 * time.Hour,
	})
	require.NoError(t, err)

	s.ExportedRunRetention(context.Background())

	require.Equal(t, 1, purger.callCount())
	assert.Equal(t, 30*24*time.Hour, purger.calls[0])
	assert.True(t, purger.hasDL, "sweep should run under a timeout")
}

func TestRunRetention_ErrorIsContained(t *testing.T) {
	purger := &stubPurger{err: errors.New("database is locked")}
	s, err := scheduler.New(scheduler.Config{Purger: purger, Logger: newTestLogger(), Retention: time.Hour})
	require.NoError(t, err)

	assert.NotPanics(t, func() { s.ExportedRunRetention(context.Background()) })
	assert.Equal(t, 1, purger.callCount())
}

func TestStart_SchedulesRetention(t *testing.T) {
	s, err := scheduler.New(scheduler.Config{
		Purger:        &stubPurger{},
		Logger:        newTestLogger(),
		Retention:     time.Hour,
		RetentionCron: "*/5 * * * *",
	})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	next, ok := s.NextRetentionRun()
	require.True(t, ok)
	assert.True(t, next.After(time.Now()))
	assert.True(t, next.Before(time.Now().Add(6*time.Minute)))
}

func TestStart_RetentionDisabled(t *testing.T) {
	purger := &stubPurger{}
	s, err := scheduler.New(scheduler.Config{Purger: purger, Logger: newTestLogger()})
	require.NoError(t, err)

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	_, ok := s.NextRetentionRun()
	assert.False(t, ok)
	assert.Zero(t, purger.callCount())
}

func TestStart_InvalidCron(t *testing.T) {
	s, err := scheduler.New(scheduler.Config{
		Purger:        &stubPurger{},
		Logger:        newTestLogger(),
		Retention:     time.Hour,
		RetentionCron: "not a cron",
	})
	require.NoError(t, err)

	err = s.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduling retention sweep")
}
