package orchestrator

import "github.com/syncbeam/slimproto/internal/slimproto/session"

// SessionRegistryAdapter satisfies the Sessions interface over a
// *session.Registry, whose Get returns a concrete *session.Session rather
// than the SessionTransport interface this package depends on.
type SessionRegistryAdapter struct {
	Registry *session.Registry
}

// Get implements Sessions.
func (a SessionRegistryAdapter) Get(playerID string) (SessionTransport, bool) {
	s, ok := a.Registry.Get(playerID)
	if !ok {
		return nil, false
	}
	return s, true
}
