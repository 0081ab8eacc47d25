// Package tail is a headless client for the pulse websocket: it prints the
// filtered feed and the per-tick metrics as plain lines.
package tail

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stream-pulse/pulse/internal/protocol"
)

// ErrUpstreamFailed is returned when the server reports that its upstream
// feed failed.
var ErrUpstreamFailed = errors.New("tail: upstream failed")

type Options struct {
	URL    string
	Token  string
	Filter string
	// JSON prints frame payloads verbatim instead of formatted lines.
	JSON bool
	// Metrics controls whether metrics frames are printed at all.
	Metrics bool
	Out     io.Writer
	Dialer  *websocket.Dialer
}

// Run connects and prints frames until ctx is cancelled, the server closes
// the connection, or the upstream fails.
func Run(ctx context.Context, opts Options) error {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}

	header := http.Header{}
	if opts.Token != "" {
		header.Set("X-Pulse-Token", opts.Token)
	}
	conn, resp, err := dialer.DialContext(ctx, opts.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (HTTP %d)", opts.URL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", opts.URL, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	})
	defer stop()

	if opts.Filter != "" {
		data, err := protocol.Encode(protocol.MsgSetFilter, 0, protocol.SetFilter{Pattern: opts.Filter})
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return fmt.Errorf("send filter: %w", err)
		}
	}

	p := printer{out: out, json: opts.JSON, metrics: opts.Metrics}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		env, err := protocol.Decode(data)
		if err != nil {
			fmt.Fprintf(out, "! %v\n", err)
			continue
		}
		if err := p.frame(env); err != nil {
			return err
		}
	}
}

type printer struct {
	out     io.Writer
	json    bool
	metrics bool
}

func (p printer) frame(env *protocol.Envelope) error {
	switch env.Type {
	case protocol.MsgHello:
		var h protocol.Hello
		if err := protocol.DecodeBody(env, &h); err != nil {
			return err
		}
		if !p.json {
			fmt.Fprintf(p.out, "# connected session=%s pattern=%q tick=%dms\n", h.SessionID, h.Pattern, h.TickMillis)
		}

	case protocol.MsgEvent:
		if p.json {
			fmt.Fprintf(p.out, "%s\n", env.Payload)
			return nil
		}
		var ev protocol.Event
		if err := protocol.DecodeBody(env, &ev); err != nil {
			return err
		}
		at := ev.CreatedAt
		if at.IsZero() {
			at = ev.ReceivedAt
		}
		author := ev.Author
		if author == "" {
			author = "-"
		}
		fmt.Fprintf(p.out, "%s  %s  %s\n", at.Local().Format(time.TimeOnly), author, oneLine(ev.Text))

	case protocol.MsgMetrics:
		if !p.metrics {
			return nil
		}
		if p.json {
			fmt.Fprintf(p.out, "%s\n", env.Payload)
			return nil
		}
		var m protocol.Metrics
		if err := protocol.DecodeBody(env, &m); err != nil {
			return err
		}
		fmt.Fprintf(p.out, "-- velocity=%d acceleration=%+d max velocity=%d max acceleration=%d\n",
			m.Velocity, m.Acceleration, m.MaxVelocity, m.MaxAcceleration)

	case protocol.MsgFilterAck:
		var ack protocol.FilterAck
		if err := protocol.DecodeBody(env, &ack); err != nil {
			return err
		}
		if p.json {
			return nil
		}
		switch {
		case !ack.Valid:
			fmt.Fprintf(p.out, "# filter %q is invalid, matching everything\n", ack.Pattern)
		case ack.MatchAll:
			fmt.Fprintln(p.out, "# filter cleared")
		default:
			fmt.Fprintf(p.out, "# filter %q\n", ack.Pattern)
		}

	case protocol.MsgError:
		var e protocol.ErrorBody
		if err := protocol.DecodeBody(env, &e); err != nil {
			return err
		}
		fmt.Fprintf(p.out, "! %s\n", e.Message)

	case protocol.MsgUpstream:
		var u protocol.Upstream
		if err := protocol.DecodeBody(env, &u); err != nil {
			return err
		}
		if u.Status == "failed" {
			return fmt.Errorf("%w: %s", ErrUpstreamFailed, u.Error)
		}
	}
	return nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
