// Package session holds the server-side state of connected clients and the
// registry the dispatcher fans out over.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stream-pulse/pulse/internal/event"
	"github.com/stream-pulse/pulse/internal/filter"
	"github.com/stream-pulse/pulse/internal/metrics"
)

var (
	ErrQueueFull = errors.New("session: queue full")
	ErrClosed    = errors.New("session: closed")
)

// DefaultQueueSize bounds the per-session backlog when Options leaves it
// unset.
const DefaultQueueSize = 256

// Status is the lifecycle state of a session.
type Status int32

const (
	Active Status = iota
	Closing
	Closed
)

var statusNames = map[Status]string{
	Active:  "active",
	Closing: "closing",
	Closed:  "closed",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for st, n := range statusNames {
		if n == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown session status %q", name)
}

// Options configure a new session. The zero value gives the default queue
// and no metrics ticker.
type Options struct {
	QueueSize    int
	TickInterval time.Duration
	// Remote is the peer address, kept for the sessions endpoint.
	Remote string
}

// Session is one connected client. The dispatcher calls Offer from the
// publishing goroutine; the owning connection drains Events and calls
// MarkDelivered after each successful write.
type Session struct {
	id          string
	remote      string
	connectedAt time.Time

	pred atomic.Pointer[filter.Predicate]

	// mu orders Offer against Close: once Close holds it exclusively and
	// flips the status, no Offer can enqueue again.
	mu        sync.RWMutex
	status    atomic.Int32
	queue     chan event.Event
	done      chan struct{}
	closeOnce sync.Once
	reason    error

	agg     *metrics.Aggregator
	updates chan metrics.Update

	delivered     atomic.Uint64
	dropped       atomic.Uint64
	filterChanges atomic.Uint64
}

// New creates an Active session with a match-all predicate and an empty
// queue.
func New(id string, opts Options) *Session {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	s := &Session{
		id:          id,
		remote:      opts.Remote,
		connectedAt: time.Now(),
		queue:       make(chan event.Event, opts.QueueSize),
		done:        make(chan struct{}),
		updates:     make(chan metrics.Update, 1),
	}
	s.pred.Store(filter.MatchAll())
	s.agg = metrics.NewAggregator(opts.TickInterval, s.pushUpdate)
	return s
}

// ID is the identifier handed out in the hello frame.
func (s *Session) ID() string { return s.id }

// Remote is the peer address the session was opened from.
func (s *Session) Remote() string { return s.remote }

func (s *Session) ConnectedAt() time.Time { return s.connectedAt }

// Status reports where the session is in its lifecycle.
func (s *Session) Status() Status { return Status(s.status.Load()) }

// Predicate returns the filter currently in force.
func (s *Session) Predicate() *filter.Predicate {
	return s.pred.Load()
}

// SetPredicate compiles pattern, swaps it in and clears the running metric
// maxima. Events already queued under the previous predicate stay queued,
// but a pending metrics update carrying the old maxima is discarded.
func (s *Session) SetPredicate(pattern string) *filter.Predicate {
	p := filter.Compile(pattern)
	s.pred.Store(p)
	s.agg.ResetMaxima()
	select {
	case <-s.updates:
	default:
	}
	s.filterChanges.Add(1)
	return p
}

// Offer enqueues ev without blocking. It returns ErrClosed once the session
// has started closing and ErrQueueFull when the consumer is behind.
func (s *Session) Offer(ev event.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if Status(s.status.Load()) != Active {
		return ErrClosed
	}
	select {
	case s.queue <- ev:
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

// Enqueue is Offer reduced to a delivered/dropped bool.
func (s *Session) Enqueue(ev event.Event) bool {
	return s.Offer(ev) == nil
}

// Events is drained by the session's writer. The channel is never closed;
// select on Done alongside it.
func (s *Session) Events() <-chan event.Event {
	return s.queue
}

// MarkDelivered records that one event reached the client and feeds the
// metrics window.
func (s *Session) MarkDelivered() {
	s.delivered.Add(1)
	s.agg.Observe()
}

// Metrics carries the latest tick update. Only the most recent update is
// kept; a slow reader skips intermediate ticks.
func (s *Session) Metrics() <-chan metrics.Update {
	return s.updates
}

func (s *Session) pushUpdate(u metrics.Update) {
	for i := 0; i < 2; i++ {
		select {
		case s.updates <- u:
			return
		default:
		}
		select {
		case <-s.updates:
		default:
		}
	}
}

// Aggregator exposes the metrics window, mainly for tests and status pages.
func (s *Session) Aggregator() *metrics.Aggregator {
	return s.agg
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Reason returns the error passed to CloseWithReason, or nil.
func (s *Session) Reason() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

// QueueLen is the number of events waiting for the writer.
func (s *Session) QueueLen() int { return len(s.queue) }
func (s *Session) QueueCap() int { return cap(s.queue) }

// Close is CloseWithReason(nil).
func (s *Session) Close() {
	s.CloseWithReason(nil)
}

// CloseWithReason marks the session closed, stops its metrics ticker and
// discards anything still queued. Only the first call has any effect.
func (s *Session) CloseWithReason(reason error) {
	s.closeOnce.Do(func() {
		s.status.Store(int32(Closing))

		s.mu.Lock()
		s.reason = reason
		s.status.Store(int32(Closed))
		close(s.done)
		s.mu.Unlock()

		s.agg.Close()
		s.drain()
	})
}

func (s *Session) drain() {
	for {
		select {
		case <-s.queue:
		default:
			return
		}
	}
}

// Info is the JSON view served on the sessions endpoint.
type Info struct {
	ID            string        `json:"id"`
	Remote        string        `json:"remote,omitempty"`
	ConnectedAt   time.Time     `json:"connectedAt"`
	Status        Status        `json:"status"`
	Pattern       string        `json:"pattern"`
	PatternValid  bool          `json:"patternValid"`
	QueueLen      int           `json:"queueLen"`
	QueueCap      int           `json:"queueCap"`
	Delivered     uint64        `json:"delivered"`
	Dropped       uint64        `json:"dropped"`
	FilterChanges uint64        `json:"filterChanges"`
	Metrics       metrics.State `json:"metrics"`
}

func (s *Session) Info() Info {
	p := s.Predicate()
	return Info{
		ID:            s.id,
		Remote:        s.remote,
		ConnectedAt:   s.connectedAt,
		Status:        s.Status(),
		Pattern:       p.Pattern(),
		PatternValid:  p.Valid(),
		QueueLen:      s.QueueLen(),
		QueueCap:      s.QueueCap(),
		Delivered:     s.delivered.Load(),
		Dropped:       s.dropped.Load(),
		FilterChanges: s.filterChanges.Load(),
		Metrics:       s.agg.State(),
	}
}
