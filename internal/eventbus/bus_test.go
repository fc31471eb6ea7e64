package eventbus_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/dispatchd/internal/eventbus"
)

func TestPublishAndReceive(t *testing.T) {
	bus := eventbus.New(2, nil)
	defer bus.Close()

	var received []eventbus.Event
	var mu sync.Mutex

	bus.Subscribe(func(e eventbus.Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})

	bus.Publish(eventbus.EventNotificationSent, map[string]string{"notification_id": "n-1"})

	// Give workers time to process
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, eventbus.EventNotificationSent, received[0].Type)
	assert.Equal(t, "n-1", received[0].Payload["notification_id"])
	assert.False(t, received[0].Timestamp.IsZero())
}

func TestMultipleListeners(t *testing.T) {
	bus := eventbus.New(2, nil)
	defer bus.Close()

	var count int32

	for i := 0; i < 3; i++ {
		bus.Subscribe(func(_ eventbus.Event) {
			atomic.AddInt32(&count, 1)
		})
	}

	bus.Publish(eventbus.EventNotificationQueued, nil)
	time.Sleep(50 * time.Millisecond)

	assert.EqualValues(t, 3, atomic.LoadInt32(&count))
}

func TestListenerPanicDoesNotCrash(t *testing.T) {
	bus := eventbus.New(1, nil)
	defer bus.Close()

	var goodCalled int32

	bus.Subscribe(func(_ eventbus.Event) {
		panic("intentional panic in listener")
	})
	bus.Subscribe(func(_ eventbus.Event) {
		atomic.AddInt32(&goodCalled, 1)
	})

	bus.Publish(eventbus.EventNotificationFailed, nil)
	time.Sleep(50 * time.Millisecond)

	// The second listener should still have been called.
	assert.EqualValues(t, 1, atomic.LoadInt32(&goodCalled))
}

func TestClose(t *testing.T) {
	bus := eventbus.New(2, nil)

	var count int32
	bus.Subscribe(func(_ eventbus.Event) {
		atomic.AddInt32(&count, 1)
	})

	for i := 0; i < 5; i++ {
		bus.Publish(eventbus.EventNotificationRetried, map[string]string{"n": "x"})
	}

	// Close waits for all workers to finish processing.
	bus.Close()

	assert.EqualValues(t, 5, atomic.LoadInt32(&count))
}

func TestDefaultWorkers(t *testing.T) {
	// workers <= 0 should use default without panicking.
	bus := eventbus.New(0, nil)
	require.NotNil(t, bus)
	bus.Close()
}

func TestPublishAfterCloseIsDropped(t *testing.T) {
	bus := eventbus.New(1, nil)

	var count int32
	bus.Subscribe(func(_ eventbus.Event) {
		atomic.AddInt32(&count, 1)
	})
	bus.Close()

	assert.NotPanics(t, func() {
		bus.Publish(eventbus.EventNotificationSent, nil)
	})
	bus.Close()
	assert.Zero(t, atomic.LoadInt32(&count))
}
