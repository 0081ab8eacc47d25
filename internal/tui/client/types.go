// Package client provides WebSocket and HTTP clients for the pulse server.
// Wire types come from the server's own packages so both sides agree on the
// JSON shape.
package client

import (
	"github.com/stream-pulse/pulse/internal/ingest"
	"github.com/stream-pulse/pulse/internal/protocol"
	"github.com/stream-pulse/pulse/internal/session"
	"github.com/stream-pulse/pulse/internal/ws"
)

type (
	Hello     = protocol.Hello
	Event     = protocol.Event
	Metrics   = protocol.Metrics
	FilterAck = protocol.FilterAck
	Upstream  = protocol.Upstream

	// Status is the body of GET /api/status.
	Status = ws.Status
	// SessionInfo is one element of GET /api/sessions.
	SessionInfo = session.Info

	UpstreamStatus = ingest.Status
)

const (
	UpstreamConnecting = ingest.StatusConnecting
	UpstreamStreaming  = ingest.StatusStreaming
	UpstreamFailed     = ingest.StatusFailed
)

// --- Bubble Tea messages ---

// WSConnectedMsg is sent once the server's hello frame arrives.
type WSConnectedMsg struct{ Hello Hello }

// WSDisconnectedMsg is sent when the connection drops.
type WSDisconnectedMsg struct{ Err error }

// WSEventMsg delivers one filtered event.
type WSEventMsg struct{ Event Event }

// WSMetricsMsg delivers one tick update.
type WSMetricsMsg struct{ Metrics Metrics }

// WSFilterAckMsg confirms a set_filter request.
type WSFilterAckMsg struct{ Ack FilterAck }

// WSUpstreamMsg reports an upstream state change; "failed" is final.
type WSUpstreamMsg struct{ Upstream Upstream }

// WSErrorMsg wraps a server-side error.
type WSErrorMsg struct{ Message string }

// StatusMsg carries a polled /api/status body or the error fetching it.
type StatusMsg struct {
	Status *Status
	Err    error
}
