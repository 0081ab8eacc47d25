// Package dispatch fans each ingested event out to the sessions whose
// predicate matches it.
package dispatch

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/stream-pulse/pulse/internal/event"
	"github.com/stream-pulse/pulse/internal/session"
	"github.com/stream-pulse/pulse/internal/telemetry"
)

// Result summarises one publish pass.
type Result struct {
	Sessions  int
	Matched   int
	Delivered int
	Dropped   int
}

// Totals are running counts since the dispatcher was created.
type Totals struct {
	Published uint64 `json:"published"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
}

// Dispatcher is driven by a single publishing goroutine. Publish never
// blocks on a session: enqueueing is a non-blocking channel send.
type Dispatcher struct {
	registry *session.Registry
	metrics  *telemetry.Metrics

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// New returns a dispatcher over reg. A nil m gets a private metrics set.
func New(reg *session.Registry, m *telemetry.Metrics) *Dispatcher {
	if m == nil {
		m = telemetry.New()
	}
	return &Dispatcher{registry: reg, metrics: m}
}

func (d *Dispatcher) Registry() *session.Registry {
	return d.registry
}

func (d *Dispatcher) Metrics() *telemetry.Metrics {
	return d.metrics
}

func (d *Dispatcher) Totals() Totals {
	return Totals{
		Published: d.published.Load(),
		Delivered: d.delivered.Load(),
		Dropped:   d.dropped.Load(),
	}
}

// Publish delivers ev to every matching session in the current registry
// snapshot. Calls must be made in upstream order from one goroutine; that
// is what keeps per-session order equal to upstream order.
func (d *Dispatcher) Publish(ev event.Event) Result {
	start := time.Now()
	sessions := d.registry.Snapshot()
	res := Result{Sessions: len(sessions)}

	for _, s := range sessions {
		if !s.Predicate().Matches(ev) {
			continue
		}
		res.Matched++
		switch err := s.Offer(ev); {
		case err == nil:
			res.Delivered++
		case errors.Is(err, session.ErrQueueFull):
			res.Dropped++
			d.metrics.Drops.WithLabelValues(telemetry.DropQueueFull).Inc()
		default:
			res.Dropped++
			d.metrics.Drops.WithLabelValues(telemetry.DropClosed).Inc()
		}
	}

	d.published.Add(1)
	d.delivered.Add(uint64(res.Delivered))
	d.dropped.Add(uint64(res.Dropped))
	d.metrics.Published.Inc()
	d.metrics.Deliveries.Add(float64(res.Delivered))
	d.metrics.PublishSeconds.Observe(time.Since(start).Seconds())
	return res
}
