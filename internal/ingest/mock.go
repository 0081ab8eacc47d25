package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var defaultVocabulary = []string{
	"alpha", "beta", "gamma", "delta", "gopher", "stream", "pulse", "latency",
	"deploy", "rollback", "incident", "cache", "queue", "shard", "replica",
	"golang", "rust", "kernel", "packet", "socket", "regex", "metric", "spike",
}

var defaultAuthors = []string{"ana", "bo", "cyd", "dee", "eli", "fox", "gus"}

// MockSource generates a synthetic feed for local runs and tests. With
// SurgePeriod set the rate swings sinusoidally around Rate, which makes the
// acceleration readout move.
type MockSource struct {
	// Rate is the mean number of events per second; zero or less means
	// as fast as the reader can take them.
	Rate        float64
	Burst       int
	SurgePeriod time.Duration
	Vocabulary  []string
	Authors     []string
	// Seed fixes the generated sequence; zero seeds from the clock.
	Seed int64
	// Limit ends the stream after that many messages; zero is unbounded.
	Limit int
}

func (m *MockSource) Name() string { return "mock" }

func (m *MockSource) Connect(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seed := m.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	vocab := m.Vocabulary
	if len(vocab) == 0 {
		vocab = defaultVocabulary
	}
	authors := m.Authors
	if len(authors) == 0 {
		authors = defaultAuthors
	}

	limit := rate.Inf
	if m.Rate > 0 {
		limit = rate.Limit(m.Rate)
	}
	burst := m.Burst
	if burst <= 0 {
		burst = 1
	}

	return &mockStream{
		src:     m,
		rng:     rand.New(rand.NewSource(seed)),
		limiter: rate.NewLimiter(limit, burst),
		vocab:   vocab,
		authors: authors,
		start:   time.Now(),
	}, nil
}

type mockStream struct {
	src     *MockSource
	rng     *rand.Rand
	limiter *rate.Limiter
	vocab   []string
	authors []string
	start   time.Time
	n       int
}

type mockMessage struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Author    string `json:"author"`
	CreatedAt string `json:"created_at"`
}

func (s *mockStream) Next(ctx context.Context) ([]byte, error) {
	if s.src.Limit > 0 && s.n >= s.src.Limit {
		return nil, io.EOF
	}
	s.surge()
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	s.n++

	words := 3 + s.rng.Intn(6)
	parts := make([]string, words)
	for i := range parts {
		parts[i] = s.vocab[s.rng.Intn(len(s.vocab))]
	}
	msg := mockMessage{
		ID:        fmt.Sprintf("mock-%d", s.n),
		Text:      strings.Join(parts, " "),
		Author:    s.authors[s.rng.Intn(len(s.authors))],
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	return json.Marshal(msg)
}

func (s *mockStream) surge() {
	if s.src.SurgePeriod <= 0 || s.src.Rate <= 0 {
		return
	}
	phase := 2 * math.Pi * float64(time.Since(s.start)) / float64(s.src.SurgePeriod)
	factor := 1 + 0.75*math.Sin(phase)
	s.limiter.SetLimit(rate.Limit(math.Max(s.src.Rate*factor, 0.1)))
}

func (s *mockStream) Close() error { return nil }
