// Package syncgroup implements the many-to-one relationship between
// follower players and a leader: membership, join/leave semantics, and
// fan-out resolution for commands that must reach a whole group in
// lock-step.
//
// The relationship is modeled as a follower→leader map plus a derived
// leader→set<follower> index maintained together under one lock, per the
// re-architecture called for over the source's bidirectional pointer
// fields. Acyclicity is enforced at Sync's entry point.
package syncgroup

import (
	"context"
	"sync"

	slimerrors "github.com/syncbeam/slimproto/internal/errors"
)

// QueueController is the subset of the external queue collaborator the
// group manager needs to restart playback when a player joins a currently
// playing leader.
type QueueController interface {
	Restart(ctx context.Context, leaderID string) error
}

// Transport is the subset of session operations the group manager needs
// to send a stop to a player leaving a group.
type Transport interface {
	Stop(ctx context.Context, playerID string) error
}

// PlaybackState reports whether a leader is currently playing, to decide
// whether Sync must restart the active queue.
type PlaybackState interface {
	IsPlaying(playerID string) bool
}

// Manager owns the follower→leader map and its derived leader→followers
// index. All methods are safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	leaderOf  map[string]string   // follower id -> leader id
	followers map[string][]string // leader id -> follower ids, includes the leader itself

	queue     QueueController
	transport Transport
	playback  PlaybackState
}

// New builds an empty Manager.
func New(queue QueueController, transport Transport, playback PlaybackState) *Manager {
	return &Manager{
		leaderOf:  make(map[string]string),
		followers: make(map[string][]string),
		queue:     queue,
		transport: transport,
		playback:  playback,
	}
}

// exists reports whether a given id is registered; callers must supply
// this since the group manager is decoupled from the player registry.
type Exists func(id string) bool

// Sync joins childID to leaderID's group. It is a no-op if childID ==
// leaderID. Transitive sync (leaderID already following someone else) is
// rejected. If the leader is currently playing, the queue controller is
// asked to restart its active queue so a fresh multi-client stream session
// forms and is joined by both; if idle, only membership changes.
func (m *Manager) Sync(ctx context.Context, childID, leaderID string, exists Exists) error {
	if childID == leaderID {
		return nil
	}
	if !exists(childID) || !exists(leaderID) {
		return slimerrors.NewProtocolError("syncgroup.sync: unknown player", nil)
	}

	m.mu.Lock()
	if _, transitive := m.leaderOf[leaderID]; transitive {
		m.mu.Unlock()
		return slimerrors.NewProtocolError("syncgroup.sync: transitive sync rejected", nil)
	}
	// If the child was itself a leader of its own group, fold its followers
	// under the new leader is out of scope; callers unsync first.
	if _, wasLeader := m.followers[childID]; wasLeader {
		m.mu.Unlock()
		return slimerrors.NewProtocolError("syncgroup.sync: child is itself a group leader", nil)
	}

	if m.followers[leaderID] == nil {
		m.followers[leaderID] = []string{leaderID}
	}
	if !contains(m.followers[leaderID], childID) {
		m.followers[leaderID] = append(m.followers[leaderID], childID)
	}
	m.leaderOf[childID] = leaderID
	m.mu.Unlock()

	if m.playback != nil && m.playback.IsPlaying(leaderID) && m.queue != nil {
		return m.queue.Restart(ctx, leaderID)
	}
	return nil
}

// Unsync sends a stop to childID, then removes it from its leader's group.
// If the leader's follower set becomes a singleton containing only itself,
// the group is dissolved (the index entry is deleted).
func (m *Manager) Unsync(ctx context.Context, childID string) error {
	m.mu.Lock()
	leaderID, ok := m.leaderOf[childID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if m.transport != nil {
		if err := m.transport.Stop(ctx, childID); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.leaderOf, childID)
	remaining := removeValue(m.followers[leaderID], childID)
	if len(remaining) <= 1 {
		delete(m.followers, leaderID)
	} else {
		m.followers[leaderID] = remaining
	}
	return nil
}

// Resolve returns the set of player ids that must receive a command
// addressed to id: the singleton {id} if id has no followers and no
// leader, otherwise the full group (leader plus all followers). If id is a
// follower, its group is resolved through its leader.
func (m *Manager) Resolve(id string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if followers, ok := m.followers[id]; ok {
		out := make([]string, len(followers))
		copy(out, followers)
		return out
	}
	if leaderID, ok := m.leaderOf[id]; ok {
		followers := m.followers[leaderID]
		out := make([]string, len(followers))
		copy(out, followers)
		return out
	}
	return []string{id}
}

// IsLeader reports whether id currently owns a non-empty follower set.
func (m *Manager) IsLeader(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.followers[id]
	return ok
}

// LeaderOf returns the leader id a follower currently points to, if any.
func (m *Manager) LeaderOf(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	leaderID, ok := m.leaderOf[id]
	return leaderID, ok
}

// Dissolve removes all group bookkeeping for id as both a potential leader
// and a potential follower, without sending any transport commands. It is
// not called when a leader disconnects: followers are NOT torn down
// structurally then (they are rediscovered on leader reconnect). Dissolve
// is only for permanent removal paths such as a player being forgotten
// entirely, which this core does not otherwise do.
func (m *Manager) Dissolve(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.followers, id)
	delete(m.leaderOf, id)
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

func removeValue(ss []string, v string) []string {
	out := ss[:0:0]
	for _, s := range ss {
		if s != v {
			out = append(out, s)
		}
	}
	return out
}
