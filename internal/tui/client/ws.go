package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/stream-pulse/pulse/internal/protocol"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

// WSClient manages the WebSocket connection to the pulse server. The active
// filter survives reconnects: it is sent as the initial filter of every new
// connection.
type WSClient struct {
	url   string
	token string
	log   *zap.SugaredLogger

	mu      sync.Mutex
	writeMu sync.Mutex // serialises all conn writes (ping, set_filter, disconnect)
	conn    *websocket.Conn
	seq     uint64
	filter  string
	pingCtx context.CancelFunc // cancels the active ping goroutine
}

// NewWSClient creates a client that connects to the given WebSocket URL.
func NewWSClient(url, token string, log *zap.SugaredLogger) *WSClient {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &WSClient{url: url, token: token, log: log}
}

func (c *WSClient) dialURL() string {
	c.mu.Lock()
	filter := c.filter
	c.mu.Unlock()
	if filter == "" {
		return c.url
	}
	u, err := url.Parse(c.url)
	if err != nil {
		return c.url
	}
	q := u.Query()
	q.Set("filter", filter)
	u.RawQuery = q.Encode()
	return u.String()
}

// Listen returns a Bubble Tea command that connects, waits for the hello
// frame and reports WSConnectedMsg. It retries with exponential backoff.
func (c *WSClient) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		delay := reconnectBaseDelay
		for {
			if ctx.Err() != nil {
				return nil
			}

			header := http.Header{}
			if c.token != "" {
				header.Set("X-Pulse-Token", c.token)
			}
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.dialURL(), header)
			if err == nil {
				var hello Hello
				hello, err = readHello(conn)
				if err == nil {
					c.mu.Lock()
					if c.pingCtx != nil {
						c.pingCtx()
					}
					pingCtx, pingCancel := context.WithCancel(ctx)
					c.conn = conn
					c.seq = 1
					c.pingCtx = pingCancel
					c.mu.Unlock()

					go c.pingLoop(pingCtx, conn)
					return WSConnectedMsg{Hello: hello}
				}
				conn.Close()
			}

			c.log.Debugw("ws dial failed", "error", err, "retry", delay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			delay = min(delay*2, reconnectMaxDelay)
		}
	}
}

func readHello(conn *websocket.Conn) (Hello, error) {
	conn.SetReadDeadline(time.Now().Add(writeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return Hello{}, err
	}
	env, err := protocol.Decode(data)
	if err != nil {
		return Hello{}, err
	}
	if env.Type != protocol.MsgHello {
		return Hello{}, fmt.Errorf("expected hello, got %s", env.Type)
	}
	var h Hello
	err = protocol.DecodeBody(env, &h)
	return h, err
}

// ReadLoop returns a Bubble Tea command that reads until the next frame
// worth reporting. It should be re-issued after every message it returns.
func (c *WSClient) ReadLoop(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return WSDisconnectedMsg{Err: fmt.Errorf("no connection")}
		}

		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongTimeout))
			return nil
		})
		conn.SetReadDeadline(time.Now().Add(pongTimeout))

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.mu.Lock()
				if c.conn == conn {
					c.conn = nil
				}
				c.mu.Unlock()
				conn.Close()
				return WSDisconnectedMsg{Err: err}
			}
			conn.SetReadDeadline(time.Now().Add(pongTimeout))

			env, err := protocol.Decode(data)
			if err != nil {
				c.log.Debugw("dropping undecodable frame", "error", err)
				continue
			}

			c.mu.Lock()
			c.seq = env.Seq
			c.mu.Unlock()

			if msg := toMsg(env); msg != nil {
				return msg
			}
		}
	}
}

// pingLoop sends periodic pings on the given connection. It exits when the
// context is cancelled or the connection changes.
func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			cc := c.conn
			c.mu.Unlock()
			if cc != conn {
				return
			}
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// SetFilter records pattern as the active filter and sends it if connected.
// The server's filter_ack arrives through ReadLoop.
func (c *WSClient) SetFilter(pattern string) error {
	c.mu.Lock()
	c.filter = pattern
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.send(conn, protocol.MsgSetFilter, protocol.SetFilter{Pattern: pattern})
}

// Filter returns the pattern sent on the next (re)connect.
func (c *WSClient) Filter() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.filter
}

// Close asks the server to end the session and stops the ping loop.
func (c *WSClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	if c.pingCtx != nil {
		c.pingCtx()
	}
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := c.send(conn, protocol.MsgDisconnect, nil)
	conn.Close()
	return err
}

func (c *WSClient) send(conn *websocket.Conn, typ protocol.MessageType, body any) error {
	data, err := protocol.Encode(typ, 0, body)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Seq returns the last seen sequence number.
func (c *WSClient) Seq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

func toMsg(env *protocol.Envelope) tea.Msg {
	switch env.Type {
	case protocol.MsgEvent:
		var ev Event
		if protocol.DecodeBody(env, &ev) == nil {
			return WSEventMsg{Event: ev}
		}
	case protocol.MsgMetrics:
		var m Metrics
		if protocol.DecodeBody(env, &m) == nil {
			return WSMetricsMsg{Metrics: m}
		}
	case protocol.MsgFilterAck:
		var a FilterAck
		if protocol.DecodeBody(env, &a) == nil {
			return WSFilterAckMsg{Ack: a}
		}
	case protocol.MsgUpstream:
		var u Upstream
		if protocol.DecodeBody(env, &u) == nil {
			return WSUpstreamMsg{Upstream: u}
		}
	case protocol.MsgError:
		var e protocol.ErrorBody
		if protocol.DecodeBody(env, &e) == nil {
			return WSErrorMsg{Message: e.Message}
		}
	case protocol.MsgHello:
		var h Hello
		if protocol.DecodeBody(env, &h) == nil {
			return WSConnectedMsg{Hello: h}
		}
	}
	return nil
}
