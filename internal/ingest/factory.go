package ingest

import (
	"fmt"
	"net/http"

	"github.com/stream-pulse/pulse/internal/config"
)

// FromConfig builds the upstream source named by cfg.Source.
func FromConfig(cfg config.IngestConfig) (Source, error) {
	header := http.Header{}
	for k, v := range cfg.Headers {
		header.Set(k, v)
	}

	switch cfg.Source {
	case "", "mock":
		return &MockSource{
			Rate:        cfg.Mock.Rate,
			Burst:       cfg.Mock.Burst,
			SurgePeriod: cfg.Mock.SurgePeriod,
			Vocabulary:  cfg.Mock.Vocabulary,
			Seed:        cfg.Mock.Seed,
		}, nil
	case "websocket":
		if cfg.URL == "" {
			return nil, fmt.Errorf("ingest source websocket: url is required")
		}
		return &WebSocketSource{URL: cfg.URL, Header: header}, nil
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("ingest source http: url is required")
		}
		return &HTTPSource{URL: cfg.URL, Header: header}, nil
	case "file":
		if cfg.File.Path == "" {
			return nil, fmt.Errorf("ingest source file: path is required")
		}
		return &FileSource{Path: cfg.File.Path, FromStart: cfg.File.FromStart, PollInterval: cfg.File.Poll}, nil
	default:
		return nil, fmt.Errorf("unknown ingest source %q", cfg.Source)
	}
}
