package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/stream-pulse/pulse/internal/event"
	"github.com/stream-pulse/pulse/internal/telemetry"
)

// Ingestor connects to one Source and feeds decoded events to a callback in
// upstream order. It never reconnects: the first connect or read failure is
// reported once and ends the run.
type Ingestor struct {
	source  Source
	log     *zap.SugaredLogger
	metrics *telemetry.Metrics
	health  *Health
	started atomic.Bool
}

func New(src Source, log *zap.SugaredLogger, m *telemetry.Metrics) *Ingestor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if m == nil {
		m = telemetry.New()
	}
	return &Ingestor{
		source:  src,
		log:     log.With("source", src.Name()),
		metrics: m,
		health:  NewHealth(src.Name()),
	}
}

func (in *Ingestor) Health() *Health {
	return in.health
}

// Start runs the ingestor on its own goroutine.
func (in *Ingestor) Start(ctx context.Context, onEvent func(event.Event), onFailure func(error)) error {
	if !in.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	go in.run(ctx, onEvent, onFailure)
	return nil
}

// Run blocks until the stream fails or ctx is cancelled. onEvent is called
// synchronously for every decoded event. onFailure is called exactly once
// if the upstream fails or closes the stream, and the same error is
// returned. Cancellation is not a failure: Run returns nil and onFailure is
// not called.
func (in *Ingestor) Run(ctx context.Context, onEvent func(event.Event), onFailure func(error)) error {
	if !in.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	return in.run(ctx, onEvent, onFailure)
}

func (in *Ingestor) run(ctx context.Context, onEvent func(event.Event), onFailure func(error)) error {
	if onFailure == nil {
		onFailure = func(error) {}
	}

	in.health.setStatus(StatusConnecting)
	in.log.Infow("connecting to upstream")

	stream, err := in.source.Connect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			in.health.setStatus(StatusStopped)
			return nil
		}
		return in.fail(fmt.Errorf("connect %s: %w", in.source.Name(), err), onFailure)
	}
	defer stream.Close()

	in.health.setStatus(StatusStreaming)
	in.metrics.UpstreamUp.Set(1)
	defer in.metrics.UpstreamUp.Set(0)
	in.log.Infow("upstream stream open")

	for {
		raw, err := stream.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				in.health.setStatus(StatusStopped)
				in.log.Infow("ingest stopped")
				return nil
			}
			if errors.Is(err, io.EOF) {
				err = ErrStreamClosed
			}
			return in.fail(err, onFailure)
		}
		in.metrics.Ingested.Inc()

		now := time.Now()
		ev, err := event.Decode(raw, now)
		switch {
		case errors.Is(err, event.ErrNoText):
			in.metrics.Skipped.Inc()
			in.health.recordSkip()
			continue
		case err != nil:
			in.metrics.DecodeErrors.Inc()
			in.health.recordSkip()
			in.log.Debugw("dropping undecodable message", "error", err, "bytes", len(raw))
			continue
		}

		in.health.recordEvent(now)
		onEvent(ev)
	}
}

func (in *Ingestor) fail(err error, onFailure func(error)) error {
	in.health.recordFailure(err)
	in.log.Errorw("upstream failed", "error", err)
	onFailure(err)
	return err
}
