// Package monitoring holds the gateway's observability: prometheus metrics,
// the sqlite request-event tracker, and token estimation.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the gateway's prometheus collectors. A nil *Metrics is
// valid and records nothing, which keeps tests free of registry setup.
type Metrics struct {
	requests        *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	streamEvents    *prometheus.CounterVec
	trackerDrops    prometheus.Counter
}

// NewMetrics registers the gateway collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Relay requests by mode, target provider and outcome.",
		}, []string{"mode", "target", "outcome"}),
		upstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_upstream_latency_seconds",
			Help:    "Upstream call latency by provider and pipeline leg.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"provider", "leg"}),
		streamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_stream_events_total",
			Help: "Stream events emitted to clients by type.",
		}, []string{"type"}),
		trackerDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_tracker_dropped_events_total",
			Help: "Telemetry events dropped because the tracker queue was full.",
		}),
	}
}

// RecordRequest counts one finished request.
func (m *Metrics) RecordRequest(mode, target, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(mode, target, outcome).Inc()
}

// ObserveUpstream records one upstream call's latency.
func (m *Metrics) ObserveUpstream(provider, leg string, seconds float64) {
	if m == nil {
		return
	}
	m.upstreamLatency.WithLabelValues(provider, leg).Observe(seconds)
}

// RecordStreamEvent counts one client-facing stream event.
func (m *Metrics) RecordStreamEvent(eventType string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(eventType).Inc()
}

// RecordTrackerDrop counts one dropped telemetry event.
func (m *Metrics) RecordTrackerDrop() {
	if m == nil {
		return
	}
	m.trackerDrops.Inc()
}
