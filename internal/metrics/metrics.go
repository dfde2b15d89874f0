// Package metrics exposes delivery-pipeline health counters on the local
// daemon's /metrics endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the tracker's prometheus collectors. A nil *Metrics is
// valid and records nothing, so tests can pass nil.
type Metrics struct {
	registry *prometheus.Registry

	bufferDepth  prometheus.Gauge
	flushSuccess prometheus.Counter
	flushFailure prometheus.Counter
	sendAttempts prometheus.Counter
	sendRetries  prometheus.Counter
	sendFailures prometheus.Counter
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		bufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nobletrack_activity_buffer_depth",
			Help: "Number of activity records awaiting flush.",
		}),
		flushSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nobletrack_flush_success_total",
			Help: "Activity batches delivered to the remote store.",
		}),
		flushFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nobletrack_flush_failure_total",
			Help: "Activity batch deliveries that exhausted retries and were re-queued.",
		}),
		sendAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nobletrack_send_attempts_total",
			Help: "Individual POST attempts against the remote endpoint.",
		}),
		sendRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nobletrack_send_retries_total",
			Help: "POST attempts beyond the first for a payload.",
		}),
		sendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nobletrack_send_failures_total",
			Help: "Payloads whose delivery failed after all retry attempts.",
		}),
	}
	m.registry.MustRegister(
		m.bufferDepth, m.flushSuccess, m.flushFailure,
		m.sendAttempts, m.sendRetries, m.sendFailures,
	)
	return m
}

// Handler returns the HTTP handler serving this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetBufferDepth(n int) {
	if m != nil {
		m.bufferDepth.Set(float64(n))
	}
}

func (m *Metrics) FlushSucceeded() {
	if m != nil {
		m.flushSuccess.Inc()
	}
}

func (m *Metrics) FlushFailed() {
	if m != nil {
		m.flushFailure.Inc()
	}
}

func (m *Metrics) SendAttempted(retry bool) {
	if m == nil {
		return
	}
	m.sendAttempts.Inc()
	if retry {
		m.sendRetries.Inc()
	}
}

func (m *Metrics) SendFailed() {
	if m != nil {
		m.sendFailures.Inc()
	}
}
