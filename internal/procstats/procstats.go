// Package procstats samples resource usage of the running server for the
// status endpoint.
package procstats

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

type Stats struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpuPercent"`
	RSSBytes   uint64    `json:"rssBytes"`
	Threads    int32     `json:"threads"`
	Goroutines int       `json:"goroutines"`
	SampledAt  time.Time `json:"sampledAt"`
}

// Sampler caches one sample for maxAge so a busy status endpoint does not
// hit /proc on every request.
type Sampler struct {
	proc   *process.Process
	maxAge time.Duration

	mu   sync.Mutex
	last Stats
}

func NewSampler(maxAge time.Duration) (*Sampler, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Sampler{proc: p, maxAge: maxAge}, nil
}

// Sample returns the cached sample if it is fresh enough. Fields gopsutil
// cannot read on this platform are left zero.
func (s *Sampler) Sample() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if !s.last.SampledAt.IsZero() && now.Sub(s.last.SampledAt) < s.maxAge {
		return s.last
	}

	st := Stats{
		PID:        s.proc.Pid,
		Goroutines: runtime.NumGoroutine(),
		SampledAt:  now,
	}
	if cpu, err := s.proc.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	if mem, err := s.proc.MemoryInfo(); err == nil && mem != nil {
		st.RSSBytes = mem.RSS
	}
	if n, err := s.proc.NumThreads(); err == nil {
		st.Threads = n
	}
	s.last = st
	return st
}
