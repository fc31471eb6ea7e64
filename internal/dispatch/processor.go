// Package dispatch drains queued notifications in fixed-size batches on a
// fixed tick and hands each one to its channel provider.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shaharia-lab/dispatchd/internal/eventbus"
	"github.com/shaharia-lab/dispatchd/internal/metrics"
	"github.com/shaharia-lab/dispatchd/internal/notification"
	"github.com/shaharia-lab/dispatchd/internal/storage"
)

// Defaults applied when Config leaves a field at zero.
const (
	DefaultInterval  = time.Second
	DefaultBatchSize = 10
)

const tracerName = "github.com/shaharia-lab/dispatchd/internal/dispatch"

// EventPublisher allows the processor to emit events without depending on a
// concrete event bus implementation.
type EventPublisher interface {
	Publish(eventType string, payload map[string]string)
}

// ProviderLookup resolves the provider for a channel kind.
type ProviderLookup interface {
	Lookup(t storage.NotificationType) (notification.Provider, error)
}

// Config holds the processor configuration.
type Config struct {
	Store     storage.NotificationStore
	Providers ProviderLookup
	Logger    *slog.Logger
	// Metrics is optional.
	Metrics *metrics.Metrics
	// EventPublisher is optional. When set, terminal outcomes are published.
	EventPublisher EventPublisher

	Interval  time.Duration
	BatchSize int
	// StaleProcessingAfter, when positive, makes Start reset records that
	// have been processing for longer than this back to pending.
	StaleProcessingAfter time.Duration
}

// Processor owns the dispatch queue and the tick that drains it. At most
// one batch is in flight at any time.
type Processor struct {
	cfg    Config
	queue  *Queue
	cron   gocron.Scheduler
	logger *slog.Logger
	tracer trace.Tracer

	inFlight atomic.Bool
	batches  sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a Processor. Call Start to begin draining the queue.
func New(cfg Config) (*Processor, error) {
	if cfg.Store == nil {
		return nil, errors.New("dispatch: store is required")
	}
	if cfg.Providers == nil {
		return nil, errors.New("dispatch: provider lookup is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cron, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("creating gocron scheduler: %w", err)
	}

	return &Processor{
		cfg:    cfg,
		queue:  NewQueue(),
		cron:   cron,
		logger: logger.With("component", "dispatch"),
		tracer: otel.Tracer(tracerName),
	}, nil
}

// Start re-enqueues persisted pending work and starts the tick.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return errors.New("dispatch: processor already started")
	}

	if p.cfg.StaleProcessingAfter > 0 {
		if err := p.reconcileStale(ctx); err != nil {
			return err
		}
	}
	if err := p.requeuePending(ctx); err != nil {
		return err
	}

	_, err := p.cron.NewJob(
		gocron.DurationJob(p.cfg.Interval),
		gocron.NewTask(func() {
			p.RunOnce(context.Background())
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("scheduling dispatch tick: %w", err)
	}

	p.cron.Start()
	p.started = true
	p.logger.Info("dispatch processor started",
		"interval", p.cfg.Interval, "batch_size", p.cfg.BatchSize, "queued", p.queue.Len())
	return nil
}

// Stop halts the tick and waits for the in-flight batch to finish. A
// stopped Processor cannot be restarted.
func (p *Processor) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}

	err := p.cron.Shutdown()
	p.batches.Wait()
	p.stopped = true
	p.logger.Info("dispatch processor stopped", "queued", p.queue.Len())
	if err != nil {
		return fmt.Errorf("stopping dispatch tick: %w", err)
	}
	return nil
}

// Enqueue appends id to the tail of the queue.
func (p *Processor) Enqueue(id string) {
	p.queue.Push(id)
	p.cfg.Metrics.SetQueueDepth(p.queue.Len())
}

// QueueDepth returns the number of ids waiting to be dispatched.
func (p *Processor) QueueDepth() int {
	return p.queue.Len()
}

// Processing reports whether a batch is in flight.
func (p *Processor) Processing() bool {
	return p.inFlight.Load()
}

// RunOnce drains one batch from the queue and dispatches it, returning the
// number of ids taken. It returns 0 without draining when a batch is
// already in flight. The batch ignores ctx cancellation so a started batch
// always runs to completion.
func (p *Processor) RunOnce(ctx context.Context) int {
	if !p.inFlight.CompareAndSwap(false, true) {
		return 0
	}
	p.batches.Add(1)
	defer func() {
		p.inFlight.Store(false)
		p.batches.Done()
	}()

	ids := p.queue.Drain(p.cfg.BatchSize)
	p.cfg.Metrics.SetQueueDepth(p.queue.Len())
	if len(ids) == 0 {
		return 0
	}

	ctx = context.WithoutCancel(ctx)
	ctx, span := p.tracer.Start(ctx, "dispatch.batch",
		trace.WithAttributes(attribute.Int("batch.size", len(ids))))
	defer span.End()

	start := time.Now()
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			p.dispatchOne(ctx, id)
		}(id)
	}
	wg.Wait()

	elapsed := time.Since(start)
	p.cfg.Metrics.ObserveBatch(elapsed)
	p.logger.Debug("dispatch batch finished", "size", len(ids), "duration", elapsed)
	return len(ids)
}

// dispatchOne claims id, sends it and records the outcome. Panics are
// contained so one member never takes down its siblings.
func (p *Processor) dispatchOne(ctx context.Context, id string) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("dispatch panicked", "notification_id", id, "panic", r)
		}
	}()

	n, err := p.cfg.Store.Update(ctx, id, storage.NotificationPatch{
		ExpectStatus: statusPtr(storage.StatusPending),
		Status:       statusPtr(storage.StatusProcessing),
	})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		p.logger.Warn("queued notification no longer exists", "notification_id", id)
		return
	case errors.Is(err, storage.ErrStatusConflict):
		p.logger.Info("skipping notification that is no longer pending", "notification_id", id, "error", err)
		return
	case err != nil:
		p.cfg.Metrics.StoreError("claim")
		p.logger.Error("failed to mark notification processing", "notification_id", id, "error", err)
		return
	}

	ctx, span := p.tracer.Start(ctx, "notification.send", trace.WithAttributes(
		attribute.String("notification.id", n.ID),
		attribute.String("notification.type", string(n.Type)),
		attribute.String("notification.priority", string(n.Priority)),
	))
	defer span.End()

	result := p.send(ctx, n)
	if !result.Success {
		span.SetStatus(codes.Error, result.Error)
	}
	span.SetAttributes(attribute.String("notification.provider", result.Provider))

	p.finish(ctx, n, result)
}

func (p *Processor) send(ctx context.Context, n *storage.Notification) storage.DeliveryResult {
	provider, err := p.cfg.Providers.Lookup(n.Type)
	if err != nil {
		return storage.DeliveryResult{
			Success:   false,
			Error:     err.Error(),
			Timestamp: time.Now().UTC(),
		}
	}

	start := time.Now()
	result := notification.SafeSend(ctx, provider, n)
	p.cfg.Metrics.ObserveProviderSend(string(n.Type), time.Since(start))
	return result
}

// finish writes the terminal state for n.
func (p *Processor) finish(ctx context.Context, n *storage.Notification, result storage.DeliveryResult) {
	now := time.Now().UTC()
	patch := storage.NotificationPatch{ExpectStatus: statusPtr(storage.StatusProcessing)}

	eventType := eventbus.EventNotificationSent
	if result.Success {
		patch.Status = statusPtr(storage.StatusSent)
		patch.ProviderResponse = &result
		patch.SentAt = &now
		patch.ClearError = true
		patch.ClearFailedAt = true
	} else {
		eventType = eventbus.EventNotificationFailed
		patch.Status = statusPtr(storage.StatusFailed)
		patch.Error = &result.Error
		patch.FailedAt = &now
		patch.ClearProviderResponse = true
		patch.ClearSentAt = true
	}

	updated, err := p.cfg.Store.Update(ctx, n.ID, patch)
	if err != nil {
		p.cfg.Metrics.StoreError("finalize")
		p.logger.Error("failed to record delivery outcome",
			"notification_id", n.ID, "success", result.Success, "error", err)
		return
	}

	if updated.Status.Terminal() {
		p.cfg.Metrics.DeliveryRecorded(string(updated.Type), string(updated.Status))
	}
	if result.Success {
		p.logger.Info("notification sent",
			"notification_id", n.ID, "type", n.Type, "provider", result.Provider, "message_id", result.MessageID)
	} else {
		p.logger.Warn("notification failed",
			"notification_id", n.ID, "type", n.Type, "provider", result.Provider, "error", result.Error)
	}

	if p.cfg.EventPublisher != nil {
		payload := map[string]string{
			"notification_id": n.ID,
			"type":            string(n.Type),
			"recipient":       n.Recipient,
			"provider":        result.Provider,
		}
		if result.Success {
			payload["message_id"] = result.MessageID
		} else {
			payload["error"] = result.Error
		}
		p.cfg.EventPublisher.Publish(eventType, payload)
	}
}

// requeuePending enqueues every persisted pending record, oldest first.
func (p *Processor) requeuePending(ctx context.Context) error {
	pending, err := p.cfg.Store.ListByStatus(ctx, storage.StatusPending, time.Now().Add(time.Minute))
	if err != nil {
		return fmt.Errorf("loading pending notifications: %w", err)
	}
	for _, n := range pending {
		p.queue.Push(n.ID)
	}
	p.cfg.Metrics.SetQueueDepth(p.queue.Len())
	if len(pending) > 0 {
		p.logger.Info("re-enqueued pending notifications", "count", len(pending))
	}
	return nil
}

// reconcileStale resets records stuck in processing back to pending.
func (p *Processor) reconcileStale(ctx context.Context) error {
	cutoff := time.Now().Add(-p.cfg.StaleProcessingAfter)
	stale, err := p.cfg.Store.ListByStatus(ctx, storage.StatusProcessing, cutoff)
	if err != nil {
		return fmt.Errorf("loading stale processing notifications: %w", err)
	}

	reset := 0
	for _, n := range stale {
		_, err := p.cfg.Store.Update(ctx, n.ID, storage.NotificationPatch{
			ExpectStatus: statusPtr(storage.StatusProcessing),
			Status:       statusPtr(storage.StatusPending),
		})
		if err != nil {
			p.logger.Warn("failed to reset stale notification", "notification_id", n.ID, "error", err)
			continue
		}
		reset++
	}
	if reset > 0 {
		p.logger.Warn("reset stale processing notifications to pending",
			"count", reset, "older_than", p.cfg.StaleProcessingAfter)
	}
	return nil
}

func statusPtr(s storage.NotificationStatus) *storage.NotificationStatus {
	return &s
}
