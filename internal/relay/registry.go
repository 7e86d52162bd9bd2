package relay

import (
	"sync"

	"confab/internal/domain"
)

// Registry maps usernames to live sessions. It is the only state shared
// across connections; every insert, uniqueness lookup, removal and
// broadcast snapshot goes through its mutex.
//
// A session is inserted exactly once, when key exchange completes, and
// removed exactly once, by the owning handler's teardown.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.Username]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[domain.Username]*Session)}
}

// Add inserts s under its username. It reports false, inserting nothing,
// when the username is already present (exact match).
func (r *Registry) Add(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.sessions[s.Username]; taken {
		return false
	}
	r.sessions[s.Username] = s
	return true
}

// Remove deletes the session registered under name, if any.
func (r *Registry) Remove(name domain.Username) {
	r.mu.Lock()
	delete(r.sessions, name)
	r.mu.Unlock()
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns the currently authenticated sessions. Broadcasts iterate
// over a snapshot so delivery happens outside the lock.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.Authenticated() {
			out = append(out, s)
		}
	}
	return out
}

// All returns every registered session, authenticated or not. Used for
// server shutdown.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
