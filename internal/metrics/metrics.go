// Package metrics exposes Prometheus collectors for the dispatch pipeline.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dispatchd"

// Metrics holds the dispatchd collectors and the registry they live on.
type Metrics struct {
	registry *prometheus.Registry

	submitted     *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	queueDepth    prometheus.Gauge
	batchDuration prometheus.Histogram
	providerSend  *prometheus.HistogramVec
	purged        prometheus.Counter
	storeErrors   *prometheus.CounterVec
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_submitted_total",
			Help:      "Notifications accepted for delivery, by channel type.",
		}, []string{"type"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Terminal delivery outcomes, by channel type and status.",
		}, []string{"type", "status"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Notification ids waiting in the dispatch queue.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one dispatch batch.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		providerSend: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_send_seconds",
			Help:      "Latency of provider Send calls, by channel type.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"type"}),
		purged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purged_total",
			Help:      "Records deleted by retention purges.",
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Record store writes that failed during dispatch, by operation.",
		}, []string{"operation"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.submitted, m.deliveries, m.queueDepth, m.batchDuration, m.providerSend, m.purged, m.storeErrors,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// NotificationSubmitted counts an accepted submission.
func (m *Metrics) NotificationSubmitted(typ string) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(typ).Inc()
}

// DeliveryRecorded counts a terminal outcome.
func (m *Metrics) DeliveryRecorded(typ, status string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(typ, status).Inc()
}

// SetQueueDepth records the current queue length.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// ObserveBatch records the duration of a dispatch batch.
func (m *Metrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(d.Seconds())
}

// ObserveProviderSend records the latency of one provider call.
func (m *Metrics) ObserveProviderSend(typ string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerSend.WithLabelValues(typ).Observe(d.Seconds())
}

// Purged counts records removed by a retention purge.
func (m *Metrics) Purged(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.purged.Add(float64(n))
}

// StoreError counts a failed store write during dispatch.
func (m *Metrics) StoreError(operation string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(operation).Inc()
}
