package ingest

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketSource reads one JSON message per websocket frame.
type WebSocketSource struct {
	URL    string
	Header http.Header
	// Dialer defaults to a copy of websocket.DefaultDialer.
	Dialer *websocket.Dialer
	// ReadLimit caps the size of a single frame; 0 means 1 MiB.
	ReadLimit int64
}

func (s *WebSocketSource) Name() string { return "websocket" }

func (s *WebSocketSource) Connect(ctx context.Context) (Stream, error) {
	dialer := s.Dialer
	if dialer == nil {
		d := *websocket.DefaultDialer
		d.HandshakeTimeout = 10 * time.Second
		dialer = &d
	}
	conn, resp, err := dialer.DialContext(ctx, s.URL, s.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", s.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", s.URL, err)
	}

	limit := s.ReadLimit
	if limit <= 0 {
		limit = 1 << 20
	}
	conn.SetReadLimit(limit)

	ws := &wsStream{conn: conn}
	ws.stop = context.AfterFunc(ctx, func() { ws.Close() })
	return ws, nil
}

type wsStream struct {
	conn      *websocket.Conn
	stop      func() bool
	closeOnce sync.Once
	closeErr  error
}

func (w *wsStream) Next(ctx context.Context) ([]byte, error) {
	for {
		typ, data, err := w.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, ErrStreamClosed
			}
			return nil, fmt.Errorf("read upstream: %w", err)
		}
		if typ == websocket.TextMessage || typ == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (w *wsStream) Close() error {
	w.closeOnce.Do(func() {
		if w.stop != nil {
			w.stop()
		}
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}
