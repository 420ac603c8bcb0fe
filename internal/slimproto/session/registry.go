package session

import "sync"

// Registry maps stable player ids to their currently-connected Session.
// It is the transport-layer counterpart of player.Registry: the player
// registry tracks logical device state, this tracks which live socket (if
// any) currently speaks for that device.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry builds an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Bind associates playerID with sess, returning the previously-bound
// session (if any) so the caller can evict it. Binding happens once a
// session's HELO completes and its player id is known.
func (r *Registry) Bind(playerID string, sess *Session) (previous *Session, hadPrevious bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous, hadPrevious = r.sessions[playerID]
	r.sessions[playerID] = sess
	return previous, hadPrevious
}

// Unbind removes playerID's binding if it still points at sess (a stale
// Unbind from an already-superseded session is a no-op).
func (r *Registry) Unbind(playerID string, sess *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[playerID]; ok && cur == sess {
		delete(r.sessions, playerID)
	}
}

// Get returns the live session bound to playerID, if any.
func (r *Registry) Get(playerID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[playerID]
	return s, ok
}
