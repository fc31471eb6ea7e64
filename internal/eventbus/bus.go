// Package eventbus provides an in-memory, asynchronous event bus for
// notification lifecycle events. Events are dispatched through a buffered
// channel and processed by a worker pool.
package eventbus

import (
	"log/slog"
	"sync"
	"time"
)

const (
	defaultWorkers    = 3
	defaultBufferSize = 256
)

// EventBus is the interface for publishing events and managing subscribers.
type EventBus interface {
	// Publish enqueues an event with the given type and payload.
	// It never blocks: if the buffer is full or the bus is closed, the event
	// is dropped and a warning is logged.
	Publish(eventType string, payload map[string]string)

	// Subscribe registers a listener that will be called for every published event.
	Subscribe(listener Listener)

	// Close stops accepting new events and waits for pending events to be processed.
	Close()
}

// inMemoryBus is the default EventBus implementation.
type inMemoryBus struct {
	ch        chan Event
	listeners []Listener
	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
	workers   int
	logger    *slog.Logger
}

// New creates a new in-memory EventBus with the specified number of worker
// goroutines. If workers is <= 0, defaultWorkers is used. A nil logger
// falls back to slog.Default().
func New(workers int, logger *slog.Logger) EventBus {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &inMemoryBus{
		ch:      make(chan Event, defaultBufferSize),
		workers: workers,
		logger:  logger,
	}
	b.startWorkers()
	return b
}

func (b *inMemoryBus) startWorkers() {
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for e := range b.ch {
				b.dispatch(e)
			}
		}()
	}
}

// dispatch calls every listener for e, isolating listener panics.
func (b *inMemoryBus) dispatch(e Event) {
	b.mu.RLock()
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event listener panicked", "event_type", e.Type, "panic", r)
				}
			}()
			l(e)
		}()
	}
}

// Publish enqueues an event. If the buffer is full the event is dropped.
func (b *inMemoryBus) Publish(eventType string, payload map[string]string) {
	e := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.Warn("event bus closed, dropping event", "event_type", eventType)
		return
	}

	select {
	case b.ch <- e:
	default:
		b.logger.Warn("event bus buffer full, dropping event", "event_type", eventType)
	}
}

// Subscribe adds a listener to receive all future events.
func (b *inMemoryBus) Subscribe(listener Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, listener)
}

// Close drains and closes the event channel, then waits for all workers to
// finish. Calling Close more than once is a no-op.
func (b *inMemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.ch)
	b.mu.Unlock()

	b.wg.Wait()
}
