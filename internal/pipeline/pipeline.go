// Package pipeline connects an ingestor to a dispatcher.
package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/stream-pulse/pulse/internal/dispatch"
	"github.com/stream-pulse/pulse/internal/event"
	"github.com/stream-pulse/pulse/internal/ingest"
)

type Pipeline struct {
	ingestor   *ingest.Ingestor
	dispatcher *dispatch.Dispatcher
	log        *zap.SugaredLogger

	failOnce sync.Once
}

func New(in *ingest.Ingestor, d *dispatch.Dispatcher, log *zap.SugaredLogger) *Pipeline {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Pipeline{ingestor: in, dispatcher: d, log: log}
}

// Run publishes every ingested event from the calling goroutine until ctx is
// cancelled or the upstream fails. On failure every live session is closed
// with the error as its reason, onFailure (if non-nil) runs once, and the
// error is returned.
func (p *Pipeline) Run(ctx context.Context, onFailure func(error)) error {
	err := p.ingestor.Run(ctx,
		func(ev event.Event) {
			p.dispatcher.Publish(ev)
		},
		func(err error) {
			p.failOnce.Do(func() {
				n := p.dispatcher.Registry().CloseAll(err)
				p.log.Errorw("upstream failed, sessions closed", "error", err, "sessions", n)
				if onFailure != nil {
					onFailure(err)
				}
			})
		})

	t := p.dispatcher.Totals()
	p.log.Infow("pipeline stopped",
		"published", t.Published,
		"delivered", t.Delivered,
		"dropped", t.Dropped)
	return err
}
