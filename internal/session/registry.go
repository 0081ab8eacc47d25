package session

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrRegistryFull = errors.New("session: registry full")
	ErrDuplicateID  = errors.New("session: duplicate id")
)

// Registry is the set of live sessions. Reads are lock-free: Snapshot
// returns the current copy-on-write slice, which writers replace wholesale
// and never modify in place.
type Registry struct {
	mu       sync.Mutex
	index    map[string]*Session
	limit    int
	sessions atomic.Pointer[[]*Session]
}

// NewRegistry returns an empty registry. A limit of zero or less means
// unlimited.
func NewRegistry(limit int) *Registry {
	r := &Registry{
		index: make(map[string]*Session),
		limit: limit,
	}
	empty := []*Session{}
	r.sessions.Store(&empty)
	return r
}

func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[s.id]; ok {
		return ErrDuplicateID
	}
	cur := *r.sessions.Load()
	if r.limit > 0 && len(cur) >= r.limit {
		return ErrRegistryFull
	}

	next := make([]*Session, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, s)
	r.index[s.id] = s
	r.sessions.Store(&next)
	return nil
}

// Unregister closes the session and removes it. The session is closed
// before the new snapshot is published, so a publish pass still holding an
// older snapshot cannot deliver to it afterwards.
func (r *Registry) Unregister(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.index[id]
	if !ok {
		return nil, false
	}
	s.Close()

	cur := *r.sessions.Load()
	next := make([]*Session, 0, len(cur))
	for _, other := range cur {
		if other != s {
			next = append(next, other)
		}
	}
	delete(r.index, id)
	r.sessions.Store(&next)
	return s, true
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.index[id]
	return s, ok
}

// Snapshot returns the sessions registered at the time of the call. The
// slice is shared and must be treated as read-only.
func (r *Registry) Snapshot() []*Session {
	return *r.sessions.Load()
}

func (r *Registry) Len() int {
	return len(*r.sessions.Load())
}

func (r *Registry) SetLimit(limit int) {
	r.mu.Lock()
	r.limit = limit
	r.mu.Unlock()
}

func (r *Registry) Limit() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limit
}

func (r *Registry) Full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limit > 0 && len(*r.sessions.Load()) >= r.limit
}

// CloseAll closes every session with reason and empties the registry. It
// returns the number of sessions closed.
func (r *Registry) CloseAll(reason error) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.sessions.Load()
	for _, s := range cur {
		s.CloseWithReason(reason)
	}
	empty := []*Session{}
	r.sessions.Store(&empty)
	r.index = make(map[string]*Session)
	return len(cur)
}
