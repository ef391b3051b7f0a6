// Package observability holds the Prometheus metrics for the ingestion
// pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters and gauges for one process. Counters with a
// provider label cover multi-feed deployments.
type Metrics struct {
	MessagesReceived *prometheus.CounterVec // labels: provider
	EventsStored     *prometheus.CounterVec // labels: provider
	Duplicates       *prometheus.CounterVec // labels: provider, kind={exact,proximity}
	ValidationErrors *prometheus.CounterVec // labels: provider, kind={invalid,implausible_time}
	PersistFailures  *prometheus.CounterVec // labels: provider
	Reconnects       *prometheus.CounterVec // labels: provider
	Published        *prometheus.CounterVec // labels: type
	Connected        *prometheus.GaugeVec   // labels: provider; 1 while connected
	DedupCacheSize   prometheus.Gauge
}

func newMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quakefeed",
			Name:      "messages_received_total",
			Help:      "Raw frames received from feeds.",
		}, []string{"provider"}),
		EventsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quakefeed",
			Name:      "events_stored_total",
			Help:      "Events persisted as new records.",
		}, []string{"provider"}),
		Duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quakefeed",
			Name:      "duplicates_total",
			Help:      "Events suppressed as duplicates.",
		}, []string{"provider", "kind"}),
		ValidationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quakefeed",
			Name:      "validation_errors_total",
			Help:      "Frames rejected at the normalization boundary.",
		}, []string{"provider", "kind"}),
		PersistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quakefeed",
			Name:      "persist_failures_total",
			Help:      "Events dropped after exhausting persistence retries.",
		}, []string{"provider"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quakefeed",
			Name:      "reconnects_total",
			Help:      "Feed reconnect attempts.",
		}, []string{"provider"}),
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "quakefeed",
			Name:      "published_total",
			Help:      "Messages handed to the fan-out hub.",
		}, []string{"type"}),
		Connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "quakefeed",
			Name:      "feed_connected",
			Help:      "1 while the feed connection is up.",
		}, []string{"provider"}),
		DedupCacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "quakefeed",
			Name:      "dedup_cache_entries",
			Help:      "Entries currently held in the dedup cache.",
		}),
	}
}

// NewMetrics creates the metrics and registers them with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.MessagesReceived,
		m.EventsStored,
		m.Duplicates,
		m.ValidationErrors,
		m.PersistFailures,
		m.Reconnects,
		m.Published,
		m.Connected,
		m.DedupCacheSize,
	)
	return m
}

// NewMetricsForTesting creates unregistered metrics so parallel tests do
// not trip the default registry's duplicate check.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
