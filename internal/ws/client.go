package ws

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/stream-pulse/pulse/internal/event"
	"github.com/stream-pulse/pulse/internal/protocol"
	"github.com/stream-pulse/pulse/internal/session"
)

const (
	maxControlBytes = 4096
	controlQueue    = 8
)

type outbound struct {
	typ  protocol.MessageType
	body any
}

// client couples one websocket connection to one session. writePump is the
// only goroutine that writes to conn; readPump is the only one that reads.
type client struct {
	conn    *websocket.Conn
	sess    *session.Session
	srv     *Server
	log     *zap.SugaredLogger
	limiter *rate.Limiter
	control chan outbound
	seq     uint64

	tick         time.Duration
	writeTimeout time.Duration
	pingInterval time.Duration
}

func (c *client) start() {
	go c.writePump()
	go c.readPump()
}

func (c *client) write(typ protocol.MessageType, body any) error {
	c.seq++
	data, err := protocol.Encode(typ, c.seq, body)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) writePump() {
	ping := time.NewTicker(c.pingInterval)
	defer func() {
		ping.Stop()
		c.conn.Close()
		c.srv.RemoveClient(c)
	}()

	hello := protocol.Hello{
		SessionID:  c.sess.ID(),
		Pattern:    c.sess.Predicate().Pattern(),
		TickMillis: c.tick.Milliseconds(),
		QueueSize:  c.sess.QueueCap(),
	}
	if err := c.write(protocol.MsgHello, hello); err != nil {
		c.sess.CloseWithReason(err)
		return
	}

	for {
		select {
		case <-c.sess.Done():
			c.writeClosing()
			return

		case msg := <-c.control:
			if err := c.write(msg.typ, msg.body); err != nil {
				c.fail(err)
				return
			}

		case ev := <-c.sess.Events():
			sent, err := c.writeEvent(ev)
			if err != nil {
				c.fail(err)
				return
			}
			if !sent {
				c.writeClosing()
				return
			}

		case u := <-c.sess.Metrics():
			if err := c.write(protocol.MsgMetrics, u); err != nil {
				c.fail(err)
				return
			}

		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout)); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

// writeEvent sends ev and feeds the metrics window. It reports false without
// writing when the session closed after ev was dequeued.
func (c *client) writeEvent(ev event.Event) (bool, error) {
	select {
	case <-c.sess.Done():
		return false, nil
	default:
	}
	if err := c.write(protocol.MsgEvent, ev); err != nil {
		return false, err
	}
	c.sess.MarkDelivered()
	return true, nil
}

func (c *client) fail(err error) {
	c.log.Debugw("ws write failed", "error", err)
	c.sess.CloseWithReason(err)
}

// writeClosing sends the last frames of a session that was closed from the
// server side. Errors are ignored; the connection is going away anyway.
func (c *client) writeClosing() {
	reason := c.sess.Reason()
	code, text := websocket.CloseNormalClosure, ""
	switch {
	case reason == nil:
	case errors.Is(reason, ErrShutdown):
		code, text = websocket.CloseGoingAway, "server shutting down"
	default:
		_ = c.write(protocol.MsgUpstream, protocol.Upstream{Status: "failed", Error: reason.Error()})
		code, text = websocket.CloseGoingAway, "upstream failed"
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(c.writeTimeout))
}

func (c *client) reply(typ protocol.MessageType, body any) {
	select {
	case c.control <- outbound{typ: typ, body: body}:
	default:
		// Client is not reading replies; drop rather than block the reader.
	}
}

func (c *client) readPump() {
	defer c.sess.Close()

	pongWait := c.pingInterval + c.writeTimeout
	c.conn.SetReadLimit(maxControlBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !c.limiter.Allow() {
			c.reply(protocol.MsgError, protocol.ErrorBody{Message: "too many control messages"})
			continue
		}

		env, err := protocol.Decode(data)
		if err != nil {
			c.reply(protocol.MsgError, protocol.ErrorBody{Message: err.Error()})
			continue
		}

		switch env.Type {
		case protocol.MsgSetFilter:
			var sf protocol.SetFilter
			if err := protocol.DecodeBody(env, &sf); err != nil {
				c.reply(protocol.MsgError, protocol.ErrorBody{Message: err.Error()})
				continue
			}
			p := c.sess.SetPredicate(sf.Pattern)
			c.srv.metrics.FilterChanges.Inc()
			c.log.Debugw("filter changed", "pattern", p.Pattern(), "valid", p.Valid())
			c.reply(protocol.MsgFilterAck, protocol.FilterAck{
				Pattern:  p.Pattern(),
				Valid:    p.Valid(),
				MatchAll: p.IsMatchAll(),
			})
		case protocol.MsgDisconnect:
			return
		default:
			c.reply(protocol.MsgError, protocol.ErrorBody{Message: "unknown message type " + string(env.Type)})
		}
	}
}
