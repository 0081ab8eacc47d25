package ingest

import (
	"encoding/json"
	"sync"
	"time"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusStreaming  Status = "streaming"
	StatusStopped    Status = "stopped"
	StatusFailed     Status = "failed"
)

// Health tracks the ingestor's connection state. Fields are protected by mu
// because the ingest goroutine writes them while HTTP handlers read them.
type Health struct {
	mu          sync.Mutex
	source      string
	status      Status
	since       time.Time
	lastErr     string
	events      uint64
	skipped     uint64
	lastEventAt time.Time
}

func NewHealth(source string) *Health {
	return &Health{
		source: source,
		status: StatusIdle,
		since:  time.Now(),
	}
}

func (h *Health) setStatus(s Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = s
	h.since = time.Now()
}

func (h *Health) recordFailure(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = StatusFailed
	h.since = time.Now()
	h.lastErr = err.Error()
}

func (h *Health) recordEvent(at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events++
	h.lastEventAt = at
}

func (h *Health) recordSkip() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.skipped++
}

func (h *Health) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Failed reports whether the upstream failed. A failed ingestor never
// recovers; the process is expected to exit.
func (h *Health) Failed() bool {
	return h.Status() == StatusFailed
}

type HealthSnapshot struct {
	Source      string    `json:"source"`
	Status      Status    `json:"status"`
	Since       time.Time `json:"since"`
	LastError   string    `json:"lastError,omitempty"`
	Events      uint64    `json:"events"`
	Skipped     uint64    `json:"skipped"`
	LastEventAt time.Time `json:"lastEventAt,omitzero"`
}

// Snapshot returns a consistent copy of all health fields under the lock.
func (h *Health) Snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HealthSnapshot{
		Source:      h.source,
		Status:      h.status,
		Since:       h.since,
		LastError:   h.lastErr,
		Events:      h.events,
		Skipped:     h.skipped,
		LastEventAt: h.lastEventAt,
	}
}

func (h *Health) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Snapshot())
}
