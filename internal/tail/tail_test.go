package tail

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/stream-pulse/pulse/internal/config"
	"github.com/stream-pulse/pulse/internal/dispatch"
	"github.com/stream-pulse/pulse/internal/event"
	"github.com/stream-pulse/pulse/internal/protocol"
	"github.com/stream-pulse/pulse/internal/session"
	"github.com/stream-pulse/pulse/internal/ws"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type harness struct {
	srv  *ws.Server
	disp *dispatch.Dispatcher
	url  string
}

func newHarness(t *testing.T, token string) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Server.AuthToken = token
	cfg.Stream.TickInterval = time.Hour
	disp := dispatch.New(session.NewRegistry(0), nil)
	srv := ws.NewServer(cfg, disp, nil, nil, zaptest.NewLogger(t).Sugar())
	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.CloseAll(ws.ErrShutdown)
		srv.Wait(2 * time.Second)
		hs.Close()
	})
	return &harness{srv: srv, disp: disp, url: "ws" + strings.TrimPrefix(hs.URL, "http") + "/ws"}
}

func waitOutput(t *testing.T, out *syncBuffer, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), want) {
		if time.Now().After(deadline) {
			t.Fatalf("output never contained %q; got:\n%s", want, out.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func start(t *testing.T, opts Options) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Run(ctx, opts) }()
	t.Cleanup(cancel)
	return cancel, done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestTailPrintsFilteredEvents(t *testing.T) {
	h := newHarness(t, "secret")
	out := &syncBuffer{}
	cancel, done := start(t, Options{URL: h.url, Token: "secret", Filter: "alpha", Out: out})

	waitOutput(t, out, `# filter "alpha"`)
	h.disp.Publish(event.Event{Text: "beta only", Author: "bo", ReceivedAt: time.Now()})
	h.disp.Publish(event.Event{Text: "ALPHA\nrelease", Author: "ana", ReceivedAt: time.Now()})
	waitOutput(t, out, "ana  ALPHA release")

	cancel()
	if err := wait(t, done); err != nil {
		t.Fatalf("Run after cancel = %v", err)
	}
	if strings.Contains(out.String(), "beta only") {
		t.Errorf("filtered event printed:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "# connected session=") {
		t.Errorf("hello line missing:\n%s", out.String())
	}
}

func TestTailJSON(t *testing.T) {
	h := newHarness(t, "")
	out := &syncBuffer{}
	start(t, Options{URL: h.url, JSON: true, Out: out})

	waitFor(t, func() bool { return h.srv.ClientCount() == 1 })
	h.disp.Publish(event.Event{ID: "e1", Text: "hello"})
	waitOutput(t, out, `"id":"e1"`)

	if strings.Contains(out.String(), "# connected") {
		t.Errorf("JSON mode printed hello line:\n%s", out.String())
	}
}

func TestTailUpstreamFailure(t *testing.T) {
	h := newHarness(t, "")
	out := &syncBuffer{}
	_, done := start(t, Options{URL: h.url, Out: out})

	waitFor(t, func() bool { return h.srv.ClientCount() == 1 })
	waitOutput(t, out, "# connected")
	h.srv.CloseAll(errors.New("feed went away"))

	err := wait(t, done)
	if !errors.Is(err, ErrUpstreamFailed) {
		t.Fatalf("Run = %v, want ErrUpstreamFailed", err)
	}
	if !strings.Contains(err.Error(), "feed went away") {
		t.Errorf("error %q lacks upstream reason", err)
	}
}

func TestTailServerShutdown(t *testing.T) {
	h := newHarness(t, "")
	out := &syncBuffer{}
	_, done := start(t, Options{URL: h.url, Out: out})

	waitOutput(t, out, "# connected")
	h.srv.CloseAll(ws.ErrShutdown)

	if err := wait(t, done); err != nil {
		t.Fatalf("Run after shutdown = %v, want nil", err)
	}
}

func TestTailUnauthorized(t *testing.T) {
	h := newHarness(t, "secret")
	err := Run(context.Background(), Options{URL: h.url, Token: "wrong"})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("Run = %v, want HTTP 401 dial error", err)
	}
}

func TestPrinterMetricsLine(t *testing.T) {
	var buf bytes.Buffer
	p := printer{out: &buf, metrics: true}
	env := mustEnvelope(t, `{"type":"metrics","seq":3,"payload":{"velocity":4,"acceleration":-2,"maxVelocity":9,"maxAcceleration":5}}`)
	if err := p.frame(env); err != nil {
		t.Fatal(err)
	}
	want := "-- velocity=4 acceleration=-2 max velocity=9 max acceleration=5\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}

	buf.Reset()
	p.metrics = false
	if err := p.frame(env); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 0 {
		t.Errorf("metrics printed while disabled: %q", buf.String())
	}
}

func TestPrinterInvalidFilterAck(t *testing.T) {
	var buf bytes.Buffer
	p := printer{out: &buf}
	env := mustEnvelope(t, `{"type":"filter_ack","payload":{"pattern":"(","valid":false,"matchAll":true}}`)
	if err := p.frame(env); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "invalid, matching everything") {
		t.Errorf("got %q", buf.String())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func mustEnvelope(t *testing.T, raw string) *protocol.Envelope {
	t.Helper()
	env, err := protocol.Decode([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	return env
}
