package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New()

	m.NotificationSubmitted("email")
	m.NotificationSubmitted("email")
	m.DeliveryRecorded("email", "sent")
	m.DeliveryRecorded("sms", "failed")
	m.SetQueueDepth(7)
	m.ObserveBatch(20 * time.Millisecond)
	m.ObserveProviderSend("email", 5*time.Millisecond)
	m.Purged(3)
	m.Purged(0)
	m.StoreError("finalize")

	assert.InDelta(t, 2, testutil.ToFloat64(m.submitted.WithLabelValues("email")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.deliveries.WithLabelValues("email", "sent")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.deliveries.WithLabelValues("sms", "failed")), 0)
	assert.InDelta(t, 7, testutil.ToFloat64(m.queueDepth), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(m.purged), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.storeErrors.WithLabelValues("finalize")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(m.batchDuration))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.NotificationSubmitted("email")
		m.DeliveryRecorded("email", "sent")
		m.SetQueueDepth(1)
		m.ObserveBatch(time.Second)
		m.ObserveProviderSend("email", time.Second)
		m.Purged(1)
		m.StoreError("claim")
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.NotificationSubmitted("webhook")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `dispatchd_notifications_submitted_total{type="webhook"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
