package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stream-pulse/pulse/internal/event"
	"github.com/stream-pulse/pulse/internal/metrics"
)

func ev(id, text string) event.Event {
	return event.Event{ID: id, Text: text}
}

func TestNewSessionDefaults(t *testing.T) {
	s := New("s1", Options{})
	defer s.Close()

	if s.Status() != Active {
		t.Errorf("Status() = %v, want active", s.Status())
	}
	if !s.Predicate().IsMatchAll() {
		t.Error("new session should start with a match-all predicate")
	}
	if s.QueueCap() != DefaultQueueSize {
		t.Errorf("QueueCap() = %d, want %d", s.QueueCap(), DefaultQueueSize)
	}
	if s.QueueLen() != 0 {
		t.Errorf("QueueLen() = %d, want 0", s.QueueLen())
	}
}

func TestOfferDropsWhenFull(t *testing.T) {
	s := New("s1", Options{QueueSize: 2})
	defer s.Close()

	for i := 0; i < 2; i++ {
		if err := s.Offer(ev(fmt.Sprint(i), "x")); err != nil {
			t.Fatalf("Offer %d: %v", i, err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- s.Offer(ev("2", "x")) }()
	select {
	case err := <-done:
		if !errors.Is(err, ErrQueueFull) {
			t.Fatalf("Offer on full queue = %v, want ErrQueueFull", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Offer blocked on a full queue")
	}

	if s.Enqueue(ev("3", "x")) {
		t.Error("Enqueue on full queue returned true")
	}
	if got := s.Info().Dropped; got != 2 {
		t.Errorf("Dropped = %d, want 2", got)
	}

	// The oldest events survive; the newest were dropped.
	if got := (<-s.Events()).ID; got != "0" {
		t.Errorf("first queued = %q, want 0", got)
	}
}

func TestCloseIsIdempotentAndDrains(t *testing.T) {
	s := New("s1", Options{QueueSize: 4})
	s.Enqueue(ev("a", "x"))
	s.Enqueue(ev("b", "x"))

	reason := errors.New("upstream gone")
	s.CloseWithReason(reason)
	s.Close()
	s.CloseWithReason(errors.New("second"))

	if s.Status() != Closed {
		t.Errorf("Status() = %v, want closed", s.Status())
	}
	if !errors.Is(s.Reason(), reason) {
		t.Errorf("Reason() = %v, want first reason", s.Reason())
	}
	if s.QueueLen() != 0 {
		t.Errorf("QueueLen() after close = %d, want 0", s.QueueLen())
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done not closed")
	}

	if err := s.Offer(ev("c", "x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Offer after close = %v, want ErrClosed", err)
	}
	if s.QueueLen() != 0 {
		t.Error("event enqueued after close")
	}
}

func TestSetPredicateNotRetroactive(t *testing.T) {
	s := New("s1", Options{QueueSize: 8})
	defer s.Close()

	s.Enqueue(ev("1", "beta"))
	p := s.SetPredicate("alpha")
	if p.Pattern() != "alpha" || s.Predicate() != p {
		t.Fatalf("predicate not swapped in: %q", s.Predicate().Pattern())
	}

	// Already-queued events survive the filter change.
	if got := (<-s.Events()).Text; got != "beta" {
		t.Errorf("queued event = %q, want beta", got)
	}
}

func TestSetPredicateResetsMaxima(t *testing.T) {
	s := New("s1", Options{})
	defer s.Close()

	for i := 0; i < 4; i++ {
		s.MarkDelivered()
	}
	s.Aggregator().Tick()
	s.MarkDelivered()

	if st := s.Aggregator().State(); st.MaxVelocity != 4 {
		t.Fatalf("MaxVelocity = %d, want 4", st.MaxVelocity)
	}

	s.SetPredicate("alpha")
	st := s.Aggregator().State()
	if st.MaxVelocity != 0 || st.MaxAcceleration != 0 {
		t.Errorf("maxima after SetPredicate = %d/%d, want 0/0", st.MaxVelocity, st.MaxAcceleration)
	}
	if st.PreviousCount != 4 || st.CurrentCount != 1 {
		t.Errorf("counts after SetPredicate = %d/%d, want 4/1", st.PreviousCount, st.CurrentCount)
	}
	if got := s.Info().FilterChanges; got != 1 {
		t.Errorf("FilterChanges = %d, want 1", got)
	}
}

func TestMetricsKeepsLatestUpdate(t *testing.T) {
	s := New("s1", Options{TickInterval: 5 * time.Millisecond})
	defer s.Close()

	s.MarkDelivered()
	time.Sleep(50 * time.Millisecond)

	// Several ticks have fired with nobody reading; one update is buffered.
	select {
	case <-s.Metrics():
	case <-time.After(time.Second):
		t.Fatal("no metrics update")
	}
}

func nextUpdate(t *testing.T, s *Session) metrics.Update {
	t.Helper()
	select {
	case u := <-s.Metrics():
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("no metrics update")
		return metrics.Update{}
	}
}

func TestMetricsFiveThenEight(t *testing.T) {
	s := New("s1", Options{TickInterval: 200 * time.Millisecond})
	defer s.Close()

	for i := 0; i < 5; i++ {
		s.MarkDelivered()
	}
	first := nextUpdate(t, s)
	if first.Velocity != 5 {
		t.Fatalf("tick 1 velocity = %d, want 5", first.Velocity)
	}

	for i := 0; i < 8; i++ {
		s.MarkDelivered()
	}
	got := nextUpdate(t, s)
	if got.Velocity != 8 || got.Acceleration != 3 || got.MaxVelocity != 8 || got.MaxAcceleration != 3 {
		t.Errorf("tick 2 = velocity %d acceleration %d maxVelocity %d maxAcceleration %d, want 8 3 8 3",
			got.Velocity, got.Acceleration, got.MaxVelocity, got.MaxAcceleration)
	}
}

func TestSetPredicateDropsPendingUpdate(t *testing.T) {
	s := New("s1", Options{})
	defer s.Close()

	s.pushUpdate(metrics.Update{Velocity: 9, MaxVelocity: 9})
	s.SetPredicate("alpha")

	select {
	case u := <-s.Metrics():
		t.Errorf("update from before the filter change still pending: %+v", u)
	default:
	}
}

func TestStatusString(t *testing.T) {
	for st, want := range map[Status]string{Active: "active", Closing: "closing", Closed: "closed", Status(9): "unknown"} {
		if got := st.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", st, got, want)
		}
	}
}

func TestStatusJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(Closing)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"closing"` {
		t.Fatalf("Marshal = %s", data)
	}
	var st Status
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatal(err)
	}
	if st != Closing {
		t.Errorf("Unmarshal = %v, want closing", st)
	}
	if err := json.Unmarshal([]byte(`"sleeping"`), &st); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestConcurrentOfferAndClose(t *testing.T) {
	for i := 0; i < 50; i++ {
		s := New("s", Options{QueueSize: 16})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = s.Offer(ev("x", "y"))
			}
		}()
		go func() {
			defer wg.Done()
			s.Close()
		}()
		wg.Wait()

		if err := s.Offer(ev("late", "y")); !errors.Is(err, ErrClosed) {
			t.Fatalf("Offer after close = %v", err)
		}
	}
}
