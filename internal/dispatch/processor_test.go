package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/dispatchd/internal/dispatch"
	"github.com/shaharia-lab/dispatchd/internal/eventbus"
	"github.com/shaharia-lab/dispatchd/internal/metrics"
	"github.com/shaharia-lab/dispatchd/internal/notification"
	"github.com/shaharia-lab/dispatchd/internal/storage"
)

// --- helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newStore(t *testing.T) storage.NotificationStore {
	t.Helper()
	db, _, err := storage.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewSQLiteNotificationStore(db)
}

func createPending(t *testing.T, store storage.NotificationStore, typ storage.NotificationType) *storage.Notification {
	t.Helper()
	now := time.Now().UTC()
	n := &storage.Notification{
		ID:        uuid.NewString(),
		Recipient: "someone",
		Message:   "hello",
		Type:      typ,
		Priority:  storage.PriorityNormal,
		Status:    storage.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.Create(context.Background(), n))
	return n
}

func mustGet(t *testing.T, store storage.NotificationStore, id string) *storage.Notification {
	t.Helper()
	n, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, n)
	return n
}

// --- stub provider ---

type stubProvider struct {
	typ   storage.NotificationType
	calls atomic.Int32
	send  func(n *storage.Notification) storage.DeliveryResult
}

func (s *stubProvider) Type() storage.NotificationType { return s.typ }
func (s *stubProvider) Name() string                   { return "stub" }

func (s *stubProvider) Send(_ context.Context, n *storage.Notification) storage.DeliveryResult {
	s.calls.Add(1)
	if s.send != nil {
		return s.send(n)
	}
	return storage.DeliveryResult{Success: true, MessageID: "msg-" + n.ID, Provider: "stub", Timestamp: time.Now().UTC()}
}

func (s *stubProvider) TestConnection(_ context.Context) notification.ConnectionResult {
	return notification.ConnectionResult{Success: true}
}

func (s *stubProvider) GetDeliveryStatus(_ context.Context, id string) notification.DeliveryStatus {
	return notification.DeliveryStatus{MessageID: id, Status: "sent"}
}

// --- event recorder ---

type recordedEvent struct {
	Type    string
	Payload map[string]string
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *eventRecorder) Publish(eventType string, payload map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{eventType, payload})
}

func (r *eventRecorder) all() []recordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedEvent(nil), r.events...)
}

type fixture struct {
	store  storage.NotificationStore
	reg    *notification.Registry
	events *eventRecorder
	proc   *dispatch.Processor
}

func newFixture(t *testing.T, batchSize int, providers ...*stubProvider) *fixture {
	t.Helper()
	f := &fixture{
		store:  newStore(t),
		reg:    notification.NewRegistry(),
		events: &eventRecorder{},
	}
	for _, p := range providers {
		f.reg.Register(p, true)
	}

	proc, err := dispatch.New(dispatch.Config{
		Store:          f.store,
		Providers:      f.reg,
		Logger:         newTestLogger(),
		Metrics:        metrics.New(),
		EventPublisher: f.events,
		Interval:       time.Hour,
		BatchSize:      batchSize,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = proc.Stop() })
	f.proc = proc
	return f
}

// --- tests ---

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := dispatch.New(dispatch.Config{Providers: notification.NewRegistry()})
	assert.Error(t, err)

	_, err = dispatch.New(dispatch.Config{Store: newStore(t)})
	assert.Error(t, err)
}

func TestRunOnce_Success(t *testing.T) {
	email := &stubProvider{typ: storage.TypeEmail}
	f := newFixture(t, 10, email)
	n := createPending(t, f.store, storage.TypeEmail)

	f.proc.Enqueue(n.ID)
	assert.Equal(t, 1, f.proc.QueueDepth())

	assert.Equal(t, 1, f.proc.RunOnce(context.Background()))
	assert.Zero(t, f.proc.QueueDepth())

	got := mustGet(t, f.store, n.ID)
	assert.Equal(t, storage.StatusSent, got.Status)
	require.NotNil(t, got.ProviderResponse)
	assert.True(t, got.ProviderResponse.Success)
	assert.Equal(t, "msg-"+n.ID, got.ProviderResponse.MessageID)
	require.NotNil(t, got.SentAt)
	assert.Nil(t, got.FailedAt)
	assert.Empty(t, got.Error)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, eventbus.EventNotificationSent, events[0].Type)
	assert.Equal(t, n.ID, events[0].Payload["notification_id"])
}

func TestRunOnce_ProviderFailure(t *testing.T) {
	sms := &stubProvider{typ: storage.TypeSMS, send: func(_ *storage.Notification) storage.DeliveryResult {
		return storage.DeliveryResult{Success: false, Error: "carrier rejected"}
	}}
	f := newFixture(t, 10, sms)
	n := createPending(t, f.store, storage.TypeSMS)

	f.proc.Enqueue(n.ID)
	f.proc.RunOnce(context.Background())

	got := mustGet(t, f.store, n.ID)
	assert.Equal(t, storage.StatusFailed, got.Status)
	assert.Equal(t, "carrier rejected", got.Error)
	require.NotNil(t, got.FailedAt)
	assert.Nil(t, got.SentAt)
	assert.Nil(t, got.ProviderResponse)

	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, eventbus.EventNotificationFailed, events[0].Type)
	assert.Equal(t, "carrier rejected", events[0].Payload["error"])
}

func TestRunOnce_NoProviderFailsRecord(t *testing.T) {
	f := newFixture(t, 10)
	f.reg.Register(&stubProvider{typ: storage.TypePush}, false)

	disabled := createPending(t, f.store, storage.TypePush)
	unregistered := createPending(t, f.store, storage.TypeWebhook)
	f.proc.Enqueue(disabled.ID)
	f.proc.Enqueue(unregistered.ID)
	f.proc.RunOnce(context.Background())

	for _, id := range []string{disabled.ID, unregistered.ID} {
		got := mustGet(t, f.store, id)
		assert.Equal(t, storage.StatusFailed, got.Status)
		assert.Contains(t, got.Error, "no provider")
	}
}

func TestRunOnce_PanicIsolatedFromSiblings(t *testing.T) {
	email := &stubProvider{typ: storage.TypeEmail, send: func(_ *storage.Notification) storage.DeliveryResult {
		panic("smtp exploded")
	}}
	webhook := &stubProvider{typ: storage.TypeWebhook}
	f := newFixture(t, 10, email, webhook)

	bad := createPending(t, f.store, storage.TypeEmail)
	good := createPending(t, f.store, storage.TypeWebhook)
	f.proc.Enqueue(bad.ID)
	f.proc.Enqueue(good.ID)

	assert.Equal(t, 2, f.proc.RunOnce(context.Background()))

	gotBad := mustGet(t, f.store, bad.ID)
	assert.Equal(t, storage.StatusFailed, gotBad.Status)
	assert.Contains(t, gotBad.Error, "smtp exploded")

	assert.Equal(t, storage.StatusSent, mustGet(t, f.store, good.ID).Status)
}

func TestRunOnce_BatchSizeAndFIFO(t *testing.T) {
	var (
		mu   sync.Mutex
		sent []string
	)
	email := &stubProvider{typ: storage.TypeEmail, send: func(n *storage.Notification) storage.DeliveryResult {
		mu.Lock()
		sent = append(sent, n.ID)
		mu.Unlock()
		return storage.DeliveryResult{Success: true}
	}}
	f := newFixture(t, 3, email)

	ids := make([]string, 7)
	for i := range ids {
		ids[i] = createPending(t, f.store, storage.TypeEmail).ID
		f.proc.Enqueue(ids[i])
	}

	assert.Equal(t, 3, f.proc.RunOnce(context.Background()))
	assert.Equal(t, 4, f.proc.QueueDepth())
	assert.ElementsMatch(t, ids[:3], sent)

	assert.Equal(t, 3, f.proc.RunOnce(context.Background()))
	assert.ElementsMatch(t, ids[:6], sent)

	assert.Equal(t, 1, f.proc.RunOnce(context.Background()))
	assert.Zero(t, f.proc.RunOnce(context.Background()), "empty queue is a no-op")
	assert.ElementsMatch(t, ids, sent)
}

func TestRunOnce_BatchMembersRunConcurrently(t *testing.T) {
	const size = 4
	var arrived sync.WaitGroup
	arrived.Add(size)
	release := make(chan struct{})

	email := &stubProvider{typ: storage.TypeEmail, send: func(_ *storage.Notification) storage.DeliveryResult {
		arrived.Done()
		<-release
		return storage.DeliveryResult{Success: true}
	}}
	f := newFixture(t, size, email)
	for i := 0; i < size; i++ {
		f.proc.Enqueue(createPending(t, f.store, storage.TypeEmail).ID)
	}

	done := make(chan int)
	go func() { done <- f.proc.RunOnce(context.Background()) }()

	allArrived := make(chan struct{})
	go func() {
		arrived.Wait()
		close(allArrived)
	}()

	select {
	case <-allArrived:
	case <-time.After(5 * time.Second):
		t.Fatal("batch members did not run concurrently")
	}
	close(release)
	assert.Equal(t, size, <-done)
}

func TestRunOnce_NonReentrant(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	email := &stubProvider{typ: storage.TypeEmail, send: func(_ *storage.Notification) storage.DeliveryResult {
		once.Do(func() { close(started) })
		<-release
		return storage.DeliveryResult{Success: true}
	}}
	f := newFixture(t, 1, email)

	first := createPending(t, f.store, storage.TypeEmail)
	second := createPending(t, f.store, storage.TypeEmail)
	f.proc.Enqueue(first.ID)
	f.proc.Enqueue(second.ID)

	done := make(chan int)
	go func() { done <- f.proc.RunOnce(context.Background()) }()
	<-started

	assert.True(t, f.proc.Processing())
	assert.Zero(t, f.proc.RunOnce(context.Background()), "a second batch must not start while one is in flight")
	assert.Equal(t, 1, f.proc.QueueDepth(), "skipped tick must not drain the queue")
	assert.Equal(t, storage.StatusProcessing, mustGet(t, f.store, first.ID).Status)

	close(release)
	assert.Equal(t, 1, <-done)
	assert.False(t, f.proc.Processing())
	assert.EqualValues(t, 1, email.calls.Load())
}

func TestRunOnce_SkipsRecordsNotPending(t *testing.T) {
	email := &stubProvider{typ: storage.TypeEmail}
	f := newFixture(t, 10, email)

	n := createPending(t, f.store, storage.TypeEmail)
	f.proc.Enqueue(n.ID)
	f.proc.Enqueue(n.ID)
	f.proc.Enqueue("does-not-exist")

	assert.Equal(t, 3, f.proc.RunOnce(context.Background()))
	assert.EqualValues(t, 1, email.calls.Load(), "a duplicate id must be delivered once")
	assert.Equal(t, storage.StatusSent, mustGet(t, f.store, n.ID).Status)

	f.proc.Enqueue(n.ID)
	f.proc.RunOnce(context.Background())
	assert.EqualValues(t, 1, email.calls.Load(), "terminal records are never re-sent")
}

func TestRunOnce_IgnoresCancelledContext(t *testing.T) {
	email := &stubProvider{typ: storage.TypeEmail}
	f := newFixture(t, 10, email)
	n := createPending(t, f.store, storage.TypeEmail)
	f.proc.Enqueue(n.ID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.proc.RunOnce(ctx)

	assert.Equal(t, storage.StatusSent, mustGet(t, f.store, n.ID).Status)
}

func TestStart_RequeuesPendingAndDelivers(t *testing.T) {
	email := &stubProvider{typ: storage.TypeEmail}
	store := newStore(t)
	reg := notification.NewRegistry()
	reg.Register(email, true)

	var ids []string
	for i := 0; i < 3; i++ {
		ids = append(ids, createPending(t, store, storage.TypeEmail).ID)
	}

	proc, err := dispatch.New(dispatch.Config{
		Store:     store,
		Providers: reg,
		Logger:    newTestLogger(),
		Interval:  20 * time.Millisecond,
		BatchSize: 10,
	})
	require.NoError(t, err)
	require.NoError(t, proc.Start(context.Background()))
	defer func() { _ = proc.Stop() }()

	assert.Error(t, proc.Start(context.Background()), "double start is rejected")

	require.Eventually(t, func() bool {
		for _, id := range ids {
			n, err := store.Get(context.Background(), id)
			if err != nil || n.Status != storage.StatusSent {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStart_ReconcilesStaleProcessing(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	stale := createPending(t, store, storage.TypeEmail)
	processing := storage.StatusProcessing
	_, err := store.Update(ctx, stale.ID, storage.NotificationPatch{Status: &processing})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	proc, err := dispatch.New(dispatch.Config{
		Store:                store,
		Providers:            notification.NewRegistry(),
		Logger:               newTestLogger(),
		Interval:             time.Hour,
		StaleProcessingAfter: 10 * time.Millisecond,
	})
	require.NoError(t, err)
	require.NoError(t, proc.Start(ctx))
	defer func() { _ = proc.Stop() }()

	assert.Equal(t, storage.StatusPending, mustGet(t, store, stale.ID).Status)
	assert.Equal(t, 1, proc.QueueDepth())
}

func TestStart_LeavesProcessingWhenReconciliationDisabled(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	n := createPending(t, store, storage.TypeEmail)
	processing := storage.StatusProcessing
	_, err := store.Update(ctx, n.ID, storage.NotificationPatch{Status: &processing})
	require.NoError(t, err)

	proc, err := dispatch.New(dispatch.Config{
		Store:     store,
		Providers: notification.NewRegistry(),
		Logger:    newTestLogger(),
		Interval:  time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, proc.Start(ctx))
	defer func() { _ = proc.Stop() }()

	assert.Equal(t, storage.StatusProcessing, mustGet(t, store, n.ID).Status)
	assert.Zero(t, proc.QueueDepth())
}

func TestStop_DrainsInFlightBatch(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	email := &stubProvider{typ: storage.TypeEmail, send: func(_ *storage.Notification) storage.DeliveryResult {
		once.Do(func() { close(started) })
		<-release
		return storage.DeliveryResult{Success: true}
	}}
	store := newStore(t)
	reg := notification.NewRegistry()
	reg.Register(email, true)
	n := createPending(t, store, storage.TypeEmail)

	proc, err := dispatch.New(dispatch.Config{
		Store: store, Providers: reg, Logger: newTestLogger(),
		Interval: 10 * time.Millisecond, BatchSize: 5,
	})
	require.NoError(t, err)
	require.NoError(t, proc.Start(context.Background()))

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("batch never started")
	}

	stopped := make(chan error)
	go func() { stopped <- proc.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop returned before the in-flight batch finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-stopped)
	assert.Equal(t, storage.StatusSent, mustGet(t, store, n.ID).Status)
}

// failingStore fails the terminal write so the outcome cannot be recorded.
type failingStore struct {
	storage.NotificationStore
	failFinal bool
}

func (s *failingStore) Update(ctx context.Context, id string, p storage.NotificationPatch) (*storage.Notification, error) {
	if s.failFinal && p.Status != nil && p.Status.Terminal() {
		return nil, errors.New("disk full")
	}
	return s.NotificationStore.Update(ctx, id, p)
}

func TestRunOnce_FinalWriteFailureIsContained(t *testing.T) {
	email := &stubProvider{typ: storage.TypeEmail}
	base := newStore(t)
	store := &failingStore{NotificationStore: base, failFinal: true}
	reg := notification.NewRegistry()
	reg.Register(email, true)
	events := &eventRecorder{}

	proc, err := dispatch.New(dispatch.Config{
		Store: store, Providers: reg, Logger: newTestLogger(), EventPublisher: events,
		Interval: time.Hour,
	})
	require.NoError(t, err)
	defer func() { _ = proc.Stop() }()

	var ids []string
	for i := 0; i < 3; i++ {
		n := createPending(t, base, storage.TypeEmail)
		ids = append(ids, n.ID)
		proc.Enqueue(n.ID)
	}

	assert.Equal(t, 3, proc.RunOnce(context.Background()))
	assert.EqualValues(t, 3, email.calls.Load(), "a failing write never aborts siblings")
	for _, id := range ids {
		assert.Equal(t, storage.StatusProcessing, mustGet(t, base, id).Status, fmt.Sprintf("record %s", id))
	}
	assert.Empty(t, events.all())
}

func TestRunOnce_RecordsTerminalOutcomeMetrics(t *testing.T) {
	store := newStore(t)
	reg := notification.NewRegistry()
	reg.Register(&stubProvider{typ: storage.TypeEmail}, true)
	reg.Register(&stubProvider{typ: storage.TypeSMS, send: func(*storage.Notification) storage.DeliveryResult {
		return storage.DeliveryResult{Success: false, Error: "gateway down", Provider: "stub"}
	}}, true)
	m := metrics.New()

	proc, err := dispatch.New(dispatch.Config{
		Store:     store,
		Providers: reg,
		Logger:    newTestLogger(),
		Metrics:   m,
		Interval:  time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = proc.Stop() })

	proc.Enqueue(createPending(t, store, storage.TypeEmail).ID)
	proc.Enqueue(createPending(t, store, storage.TypeSMS).ID)
	require.Equal(t, 2, proc.RunOnce(context.Background()))

	expected := `
# HELP dispatchd_deliveries_total Terminal delivery outcomes, by channel type and status.
# TYPE dispatchd_deliveries_total counter
dispatchd_deliveries_total{status="failed",type="sms"} 1
dispatchd_deliveries_total{status="sent",type="email"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "dispatchd_deliveries_total"))
}
