package wa

import "sync"

// Registry is the process-wide map from session id to its runtime Session.
// It is the sole owner of Session lifetimes: exactly one Session per id at
// a time. Creation is two-phase so the expensive dial happens outside the
// lock while concurrent creators for the same id still share one Session —
// Reserve is the atomic insert-if-absent point.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Reserve returns the Session for id, creating it via fresh when absent.
// The second return reports whether this caller created the entry and
// therefore owns the initial dial.
func (r *Registry) Reserve(id string, fresh func() *Session) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s, false
	}
	s := fresh()
	r.sessions[id] = s
	return s, true
}

// Get looks up a session by id.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove deletes the entry for id and returns it, if present. Removal only
// detaches the session; tearing it down is the caller's job.
func (r *Registry) Remove(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	return s, ok
}

// removeIf deletes the entry for id only if it is still the given session,
// so a stale event can never evict a replacement.
func (r *Registry) removeIf(id string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[id]; ok && cur == s {
		delete(r.sessions, id)
		return true
	}
	return false
}

// List returns a point-in-time copy of all sessions, safe to iterate while
// the registry keeps changing.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
