package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/stream-pulse/pulse/internal/dispatch"
	"github.com/stream-pulse/pulse/internal/ingest"
	"github.com/stream-pulse/pulse/internal/session"
	"github.com/stream-pulse/pulse/internal/telemetry"
)

func TestRunPublishesUntilUpstreamCloses(t *testing.T) {
	m := telemetry.New()
	reg := session.NewRegistry(0)
	d := dispatch.New(reg, m)

	all := session.New("all", session.Options{QueueSize: 64, TickInterval: time.Hour})
	none := session.New("none", session.Options{QueueSize: 64, TickInterval: time.Hour})
	none.SetPredicate("^no event has this text$")
	for _, s := range []*session.Session{all, none} {
		if err := reg.Register(s); err != nil {
			t.Fatal(err)
		}
	}

	src := &ingest.MockSource{Seed: 7, Limit: 20}
	p := New(ingest.New(src, zaptest.NewLogger(t).Sugar(), m), d, zaptest.NewLogger(t).Sugar())

	var failures []error
	err := p.Run(context.Background(), func(err error) { failures = append(failures, err) })

	if !errors.Is(err, ingest.ErrStreamClosed) {
		t.Fatalf("Run error = %v, want ErrStreamClosed", err)
	}
	if len(failures) != 1 || !errors.Is(failures[0], ingest.ErrStreamClosed) {
		t.Fatalf("onFailure calls = %v, want one ErrStreamClosed", failures)
	}

	tot := d.Totals()
	if tot.Published != 20 || tot.Delivered != 20 || tot.Dropped != 0 {
		t.Errorf("totals = %+v, want 20 published and delivered to one session", tot)
	}

	for _, s := range []*session.Session{all, none} {
		if s.Status() != session.Closed {
			t.Errorf("session %s status = %s, want closed", s.ID(), s.Status())
		}
		if !errors.Is(s.Reason(), ingest.ErrStreamClosed) {
			t.Errorf("session %s reason = %v", s.ID(), s.Reason())
		}
	}
	if reg.Len() != 0 {
		t.Errorf("registry Len = %d after failure", reg.Len())
	}
}

func TestRunCancelIsNotFailure(t *testing.T) {
	reg := session.NewRegistry(0)
	d := dispatch.New(reg, nil)
	s := session.New("s", session.Options{QueueSize: 4, TickInterval: time.Hour})
	if err := reg.Register(s); err != nil {
		t.Fatal(err)
	}

	src := &ingest.MockSource{Rate: 200, Burst: 1, Seed: 1}
	p := New(ingest.New(src, nil, nil), d, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	called := false
	go func() {
		done <- p.Run(ctx, func(error) { called = true })
	}()

	deadline := time.Now().Add(2 * time.Second)
	for d.Totals().Published == 0 {
		if time.Now().After(deadline) {
			t.Fatal("nothing published")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run error = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if called {
		t.Error("onFailure called on cancellation")
	}
	if s.Status() != session.Active {
		t.Errorf("session status = %s, want active", s.Status())
	}
}
