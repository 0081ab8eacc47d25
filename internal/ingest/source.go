// Package ingest reads the upstream feed and turns it into events.
package ingest

import (
	"context"
	"errors"
)

// ErrStreamClosed is reported when the upstream ends the stream on its own,
// as opposed to the caller cancelling.
var ErrStreamClosed = errors.New("ingest: upstream closed the stream")

// ErrAlreadyStarted is returned by Run and Start on an ingestor that has
// already been started. An ingestor connects at most once.
var ErrAlreadyStarted = errors.New("ingest: already started")

// Source defines the interface for an upstream feed (websocket, HTTP
// streaming, a followed file, the built-in generator). The ingestor calls
// Connect exactly once and then reads from the returned Stream until it
// fails.
type Source interface {
	// Name returns a short lowercase identifier, e.g. "websocket",
	// "http", "mock". Surfaced on the status endpoint and in logs.
	Name() string

	// Connect opens the stream. ctx bounds the whole life of the
	// stream, not just the handshake: cancelling it must unblock any
	// pending Next.
	Connect(ctx context.Context) (Stream, error)
}

// Stream yields raw upstream messages in the order the upstream sent them.
//
// Next returns io.EOF or ErrStreamClosed when the upstream ends the
// stream. Implementations need only be safe for use from one goroutine,
// apart from Close, which may be called concurrently with Next.
type Stream interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}
