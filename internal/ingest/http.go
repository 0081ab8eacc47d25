package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

const maxLineBytes = 1 << 20

// HTTPSource reads newline-delimited JSON from a long-lived HTTP response,
// the framing used by most streaming REST APIs. Blank keep-alive lines are
// skipped.
type HTTPSource struct {
	URL    string
	Header http.Header
	// Client defaults to a client without a timeout; the request is
	// bounded by the Connect context instead.
	Client *http.Client
}

func (s *HTTPSource) Name() string { return "http" }

func (s *HTTPSource) Connect(ctx context.Context) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range s.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/x-ndjson, application/json")

	client := s.Client
	if client == nil {
		client = &http.Client{}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", s.URL, err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: unexpected status %d: %s", s.URL, resp.StatusCode, bytes.TrimSpace(body))
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &httpStream{body: resp.Body, scanner: sc}, nil
}

type httpStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func (h *httpStream) Next(ctx context.Context) ([]byte, error) {
	for h.scanner.Scan() {
		line := bytes.TrimSpace(h.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return line, nil
	}
	if err := h.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read upstream: %w", err)
	}
	return nil, io.EOF
}

func (h *httpStream) Close() error {
	return h.body.Close()
}
