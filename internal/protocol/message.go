// Package protocol defines the JSON frames exchanged over the client
// websocket. Every frame is an Envelope whose Payload depends on Type.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/stream-pulse/pulse/internal/event"
	"github.com/stream-pulse/pulse/internal/metrics"
)

type MessageType string

// Server to client.
const (
	MsgHello     MessageType = "hello"
	MsgEvent     MessageType = "event"
	MsgMetrics   MessageType = "metrics"
	MsgFilterAck MessageType = "filter_ack"
	MsgError     MessageType = "error"
	MsgUpstream  MessageType = "upstream"
)

// Client to server.
const (
	MsgSetFilter  MessageType = "set_filter"
	MsgDisconnect MessageType = "disconnect"
)

// Envelope wraps every frame. Seq is assigned per session by the server and
// increases by one per outbound frame; inbound frames leave it zero.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Seq     uint64          `json:"seq,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hello is the first frame on every connection.
type Hello struct {
	SessionID  string `json:"sessionId"`
	Pattern    string `json:"pattern"`
	TickMillis int64  `json:"tickMillis"`
	QueueSize  int    `json:"queueSize"`
}

// Event payloads carry the event as-is.
type Event = event.Event

// Metrics payloads carry one tick update.
type Metrics = metrics.Update

type FilterAck struct {
	Pattern  string `json:"pattern"`
	Valid    bool   `json:"valid"`
	MatchAll bool   `json:"matchAll"`
}

type ErrorBody struct {
	Message string `json:"message"`
}

// Upstream is sent when the upstream feed changes state. A "failed" status
// is followed by the server closing the connection.
type Upstream struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type SetFilter struct {
	Pattern string `json:"pattern"`
}

// NewEnvelope marshals body into a typed envelope. A nil body produces an
// envelope without payload.
func NewEnvelope(typ MessageType, seq uint64, body any) (*Envelope, error) {
	env := &Envelope{Type: typ, Seq: seq}
	if body == nil {
		return env, nil
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	env.Payload = raw
	return env, nil
}

// Encode marshals a complete frame.
func Encode(typ MessageType, seq uint64, body any) ([]byte, error) {
	env, err := NewEnvelope(typ, seq, body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode parses one frame. The payload is left raw; use DecodeBody.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("unmarshal envelope: missing type")
	}
	return &env, nil
}

// DecodeBody unmarshals an envelope payload into v.
func DecodeBody(env *Envelope, v any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%s payload: %w", env.Type, err)
	}
	return nil
}
