// Package metrics derives per-session velocity and acceleration from the
// events a session actually receives.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// DefaultInterval is the tick length used when a session does not override
// it.
const DefaultInterval = time.Second

// Update is emitted once per tick. Acceleration may be negative when the
// rate falls; the maxima are never negative.
type Update struct {
	Velocity        int       `json:"velocity"`
	Acceleration    int       `json:"acceleration"`
	MaxVelocity     int       `json:"maxVelocity"`
	MaxAcceleration int       `json:"maxAcceleration"`
	At              time.Time `json:"at"`
}

// State is a point-in-time copy of the aggregator counters.
type State struct {
	PreviousCount   int `json:"previousCount"`
	CurrentCount    int `json:"currentCount"`
	MaxVelocity     int `json:"maxVelocity"`
	MaxAcceleration int `json:"maxAcceleration"`
}

// Aggregator counts observed events in fixed windows. It is idle until the
// first Observe, at which point a ticker goroutine is started that calls
// Tick every interval until Close.
type Aggregator struct {
	interval time.Duration
	sink     func(Update)

	current atomic.Int64
	ticking atomic.Bool

	mu       sync.Mutex
	previous int
	// primed is set by the first tick. Until then there is no previous
	// window to take a delta against.
	primed bool
	maxVel int
	maxAcc int
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

// NewAggregator returns an idle aggregator. sink receives every Update from
// the ticker goroutine and must not block for long. An interval of zero or
// less disables the internal ticker; the owner then drives Tick itself.
func NewAggregator(interval time.Duration, sink func(Update)) *Aggregator {
	if sink == nil {
		sink = func(Update) {}
	}
	return &Aggregator{
		interval: interval,
		sink:     sink,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Observe records one delivered event.
func (a *Aggregator) Observe() {
	a.current.Add(1)
	if !a.ticking.Load() {
		a.startTicker()
	}
}

func (a *Aggregator) startTicker() {
	if a.interval <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || a.ticking.Load() {
		return
	}
	a.ticking.Store(true)
	go a.run()
}

func (a *Aggregator) run() {
	defer close(a.done)
	t := time.NewTicker(a.interval)
	defer t.Stop()
	for {
		select {
		case <-a.stop:
			return
		case now := <-t.C:
			u := a.tick(now)
			select {
			case <-a.stop:
				return
			default:
			}
			a.sink(u)
		}
	}
}

// Tick closes the current window and returns the resulting update. It does
// not call the sink. The first tick only sets the baseline: it reports zero
// acceleration and leaves the acceleration maximum alone.
func (a *Aggregator) Tick() Update {
	return a.tick(time.Now())
}

func (a *Aggregator) tick(now time.Time) Update {
	cur := int(a.current.Swap(0))

	a.mu.Lock()
	defer a.mu.Unlock()
	var acc int
	if a.primed {
		acc = cur - a.previous
		a.maxAcc = max(a.maxAcc, acc)
	}
	a.primed = true
	a.maxVel = max(a.maxVel, cur)
	a.previous = cur
	return Update{
		Velocity:        cur,
		Acceleration:    acc,
		MaxVelocity:     a.maxVel,
		MaxAcceleration: a.maxAcc,
		At:              now,
	}
}

// ResetMaxima zeroes both running maxima. Counts are left untouched.
func (a *Aggregator) ResetMaxima() {
	a.mu.Lock()
	a.maxVel = 0
	a.maxAcc = 0
	a.mu.Unlock()
}

func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return State{
		PreviousCount:   a.previous,
		CurrentCount:    int(a.current.Load()),
		MaxVelocity:     a.maxVel,
		MaxAcceleration: a.maxAcc,
	}
}

// Ticking reports whether the ticker goroutine has been started.
func (a *Aggregator) Ticking() bool {
	return a.ticking.Load()
}

// Close stops the ticker and waits for it to exit. It is safe to call more
// than once and from any goroutine other than the sink.
func (a *Aggregator) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	started := a.ticking.Load()
	close(a.stop)
	a.mu.Unlock()

	if started {
		<-a.done
	}
}
