// Package telemetry owns the prometheus series exported on /metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pulse"

// Drop reasons used as the "reason" label on Drops.
const (
	DropQueueFull = "queue_full"
	DropClosed    = "closed"
)

// Metrics groups every series the server exports. Each instance has its own
// registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	Published      prometheus.Counter
	Deliveries     prometheus.Counter
	Drops          *prometheus.CounterVec
	Ingested       prometheus.Counter
	Skipped        prometheus.Counter
	DecodeErrors   prometheus.Counter
	ActiveSessions prometheus.Gauge
	PublishSeconds prometheus.Histogram
	FilterChanges  prometheus.Counter
	UpstreamUp     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events handed to the dispatcher.",
		}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Events enqueued to a session.",
		}),
		Drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drops_total",
			Help:      "Matching events not enqueued to a session, by reason.",
		}, []string{"reason"}),
		Ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Raw messages read from the upstream source.",
		}),
		Skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "skipped_total",
			Help:      "Upstream messages without text.",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "decode_errors_total",
			Help:      "Upstream messages that failed to decode.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Connected client sessions.",
		}),
		PublishSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Time spent fanning one event out to all sessions.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
		FilterChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filter_changes_total",
			Help:      "set_filter requests applied.",
		}),
		UpstreamUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "upstream_up",
			Help:      "1 while the upstream stream is open.",
		}),
	}

	m.registry.MustRegister(
		m.Published,
		m.Deliveries,
		m.Drops,
		m.Ingested,
		m.Skipped,
		m.DecodeErrors,
		m.ActiveSessions,
		m.PublishSeconds,
		m.FilterChanges,
		m.UpstreamUp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry is exposed for tests that gather series directly.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
