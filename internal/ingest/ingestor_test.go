package ingest

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/stream-pulse/pulse/internal/event"
	"github.com/stream-pulse/pulse/internal/telemetry"
)

// scriptedSource replays a fixed list of messages and then returns end.
type scriptedSource struct {
	connectErr error
	messages   []string
	end        error
	block      bool
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Connect(ctx context.Context) (Stream, error) {
	if s.connectErr != nil {
		return nil, s.connectErr
	}
	return &scriptedStream{src: s}, nil
}

type scriptedStream struct {
	src    *scriptedSource
	i      int
	closed bool
}

func (s *scriptedStream) Next(ctx context.Context) ([]byte, error) {
	if s.i < len(s.src.messages) {
		m := s.src.messages[s.i]
		s.i++
		return []byte(m), nil
	}
	if s.src.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, s.src.end
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

type recorder struct {
	mu       sync.Mutex
	events   []event.Event
	failures []error
}

func (r *recorder) onEvent(ev event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) onFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Text)
	}
	return out
}

func TestRunDeliversInOrderAndFailsOnce(t *testing.T) {
	src := &scriptedSource{
		messages: []string{
			`{"id":"1","text":"alpha"}`,
			`{"limit":{"track":3}}`,
			`not json`,
			`{"id":"2","text":"beta"}`,
			`{"id":"3","text":"alphabet"}`,
		},
		end: io.EOF,
	}
	m := telemetry.New()
	in := New(src, zaptest.NewLogger(t).Sugar(), m)
	rec := &recorder{}

	err := in.Run(context.Background(), rec.onEvent, rec.onFailure)
	if !errors.Is(err, ErrStreamClosed) {
		t.Fatalf("Run() = %v, want ErrStreamClosed", err)
	}

	if diff := cmp.Diff([]string{"alpha", "beta", "alphabet"}, rec.texts()); diff != "" {
		t.Errorf("events (-want +got):\n%s", diff)
	}
	if len(rec.failures) != 1 || !errors.Is(rec.failures[0], ErrStreamClosed) {
		t.Errorf("failures = %v, want one ErrStreamClosed", rec.failures)
	}

	if got := testutil.ToFloat64(m.Ingested); got != 5 {
		t.Errorf("ingested = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.Skipped); got != 1 {
		t.Errorf("skipped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.DecodeErrors); got != 1 {
		t.Errorf("decode errors = %v, want 1", got)
	}

	snap := in.Health().Snapshot()
	if snap.Status != StatusFailed || snap.Events != 3 || snap.Skipped != 2 {
		t.Errorf("health = %+v", snap)
	}
	if snap.LastError == "" {
		t.Error("health has no last error")
	}
}

func TestRunConnectFailure(t *testing.T) {
	boom := errors.New("connection refused")
	in := New(&scriptedSource{connectErr: boom}, zaptest.NewLogger(t).Sugar(), nil)
	rec := &recorder{}

	err := in.Run(context.Background(), rec.onEvent, rec.onFailure)
	if !errors.Is(err, boom) {
		t.Fatalf("Run() = %v, want wrapped connect error", err)
	}
	if len(rec.failures) != 1 {
		t.Fatalf("onFailure called %d times, want 1", len(rec.failures))
	}
	if !in.Health().Failed() {
		t.Error("health not failed")
	}
}

func TestRunReadError(t *testing.T) {
	boom := errors.New("connection reset")
	src := &scriptedSource{messages: []string{`{"text":"x"}`}, end: boom}
	in := New(src, zaptest.NewLogger(t).Sugar(), nil)
	rec := &recorder{}

	if err := in.Run(context.Background(), rec.onEvent, rec.onFailure); !errors.Is(err, boom) {
		t.Fatalf("Run() = %v", err)
	}
	if len(rec.failures) != 1 || !errors.Is(rec.failures[0], boom) {
		t.Errorf("failures = %v", rec.failures)
	}
}

func TestRunCancelIsNotFailure(t *testing.T) {
	src := &scriptedSource{messages: []string{`{"text":"x"}`}, block: true}
	in := New(src, zaptest.NewLogger(t).Sugar(), nil)
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx, rec.onEvent, rec.onFailure) }()

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.texts()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for first event")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() after cancel = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if len(rec.failures) != 0 {
		t.Errorf("onFailure called on cancel: %v", rec.failures)
	}
	if got := in.Health().Status(); got != StatusStopped {
		t.Errorf("status = %s, want stopped", got)
	}
}

func TestRunOnlyOnce(t *testing.T) {
	in := New(&scriptedSource{end: io.EOF}, zaptest.NewLogger(t).Sugar(), nil)
	rec := &recorder{}
	in.Run(context.Background(), rec.onEvent, rec.onFailure)

	if err := in.Run(context.Background(), rec.onEvent, rec.onFailure); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Run = %v, want ErrAlreadyStarted", err)
	}
	if err := in.Start(context.Background(), rec.onEvent, rec.onFailure); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Start after Run = %v, want ErrAlreadyStarted", err)
	}
	if len(rec.failures) != 1 {
		t.Errorf("onFailure called %d times, want 1", len(rec.failures))
	}
}

func TestStartRunsInBackground(t *testing.T) {
	src := &MockSource{Limit: 5, Seed: 1}
	in := New(src, zaptest.NewLogger(t).Sugar(), nil)

	failed := make(chan error, 1)
	var mu sync.Mutex
	count := 0
	err := in.Start(context.Background(), func(event.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}, func(err error) { failed <- err })
	if err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-failed:
		if !errors.Is(err, ErrStreamClosed) {
			t.Errorf("failure = %v, want ErrStreamClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("mock stream did not end")
	}
	mu.Lock()
	defer mu.Unlock()
	if count != 5 {
		t.Errorf("received %d events, want 5", count)
	}
}
