package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func observeN(a *Aggregator, n int) {
	for i := 0; i < n; i++ {
		a.Observe()
	}
}

func TestTickVelocityAndAcceleration(t *testing.T) {
	a := NewAggregator(0, nil)
	defer a.Close()

	observeN(a, 5)
	first := a.Tick()
	want := Update{Velocity: 5, Acceleration: 0, MaxVelocity: 5, MaxAcceleration: 0}
	if diff := cmp.Diff(want, first, cmpopts.IgnoreFields(Update{}, "At")); diff != "" {
		t.Fatalf("tick 1 mismatch (-want +got):\n%s", diff)
	}

	observeN(a, 8)
	got := a.Tick()
	want = Update{Velocity: 8, Acceleration: 3, MaxVelocity: 8, MaxAcceleration: 3}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(Update{}, "At")); diff != "" {
		t.Errorf("tick 2 mismatch (-want +got):\n%s", diff)
	}
}

func TestFirstTickSetsBaseline(t *testing.T) {
	a := NewAggregator(0, nil)
	defer a.Close()

	observeN(a, 40)
	if u := a.Tick(); u.Acceleration != 0 || u.MaxAcceleration != 0 {
		t.Fatalf("first tick = %+v, want no acceleration", u)
	}
	if st := a.State(); st.PreviousCount != 40 {
		t.Fatalf("PreviousCount = %d, want 40", st.PreviousCount)
	}

	observeN(a, 42)
	if u := a.Tick(); u.Acceleration != 2 || u.MaxAcceleration != 2 {
		t.Errorf("second tick = %+v, want acceleration 2", u)
	}
}

func TestTickAfterIdleWindow(t *testing.T) {
	a := NewAggregator(0, nil)
	defer a.Close()

	a.Tick()
	observeN(a, 5)
	a.Tick()
	observeN(a, 8)
	got := a.Tick()

	want := Update{Velocity: 8, Acceleration: 3, MaxVelocity: 8, MaxAcceleration: 5}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(Update{}, "At")); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestNegativeAcceleration(t *testing.T) {
	a := NewAggregator(0, nil)
	defer a.Close()

	observeN(a, 10)
	a.Tick()
	observeN(a, 4)
	u := a.Tick()

	if u.Acceleration != -6 {
		t.Errorf("Acceleration = %d, want -6", u.Acceleration)
	}
	if u.MaxAcceleration != 0 {
		t.Errorf("MaxAcceleration = %d, want 0", u.MaxAcceleration)
	}
	if u.MaxVelocity != 10 {
		t.Errorf("MaxVelocity = %d, want 10", u.MaxVelocity)
	}
}

func TestMaximaNonDecreasing(t *testing.T) {
	a := NewAggregator(0, nil)
	defer a.Close()

	var prevVel, prevAcc int
	for i, n := range []int{3, 9, 1, 0, 7, 12, 2} {
		observeN(a, n)
		u := a.Tick()
		if u.MaxVelocity < prevVel || u.MaxAcceleration < prevAcc {
			t.Fatalf("tick %d: maxima decreased: %+v after vel=%d acc=%d", i, u, prevVel, prevAcc)
		}
		if u.MaxAcceleration < 0 {
			t.Fatalf("tick %d: negative max acceleration %d", i, u.MaxAcceleration)
		}
		prevVel, prevAcc = u.MaxVelocity, u.MaxAcceleration
	}
}

func TestResetMaximaKeepsCounts(t *testing.T) {
	a := NewAggregator(0, nil)
	defer a.Close()

	observeN(a, 6)
	a.Tick()
	observeN(a, 2)
	a.ResetMaxima()

	want := State{PreviousCount: 6, CurrentCount: 2}
	if diff := cmp.Diff(want, a.State()); diff != "" {
		t.Errorf("state after reset (-want +got):\n%s", diff)
	}

	u := a.Tick()
	if u.MaxVelocity != 2 || u.MaxAcceleration != 0 {
		t.Errorf("first tick after reset = %+v, want maxVelocity 2 maxAcceleration 0", u)
	}
}

func TestCurrentCountResetsEachTick(t *testing.T) {
	a := NewAggregator(0, nil)
	defer a.Close()

	observeN(a, 4)
	a.Tick()
	if got := a.State().CurrentCount; got != 0 {
		t.Errorf("CurrentCount after tick = %d, want 0", got)
	}
	if u := a.Tick(); u.Velocity != 0 || u.Acceleration != -4 {
		t.Errorf("empty tick = %+v", u)
	}
}

func TestTickerStartsLazily(t *testing.T) {
	updates := make(chan Update, 16)
	a := NewAggregator(10*time.Millisecond, func(u Update) {
		select {
		case updates <- u:
		default:
		}
	})
	defer a.Close()

	time.Sleep(30 * time.Millisecond)
	if a.Ticking() {
		t.Fatal("ticker started before first event")
	}
	select {
	case u := <-updates:
		t.Fatalf("unexpected update before first event: %+v", u)
	default:
	}

	observeN(a, 3)
	if !a.Ticking() {
		t.Fatal("ticker not started after first event")
	}

	deadline := time.After(2 * time.Second)
	seen := 0
	for seen < 3 {
		select {
		case u := <-updates:
			seen += u.Velocity
		case <-deadline:
			t.Fatalf("timed out: updates accounted for %d of 3 events", seen)
		}
	}
}

func TestCloseStopsTicker(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	a := NewAggregator(5*time.Millisecond, func(Update) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	a.Observe()
	time.Sleep(30 * time.Millisecond)
	a.Close()
	a.Close()

	mu.Lock()
	after := calls
	mu.Unlock()

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if calls != after {
		t.Errorf("sink called %d times after Close", calls-after)
	}
}

func TestObserveAfterCloseDoesNotStart(t *testing.T) {
	a := NewAggregator(5*time.Millisecond, nil)
	a.Close()
	a.Observe()
	if a.Ticking() {
		t.Error("ticker started after Close")
	}
}
