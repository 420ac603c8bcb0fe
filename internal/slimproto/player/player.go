// Package player implements the registry mapping stable player ids to
// their live Player state: registration, reattachment on reconnect, and
// the coalesced can_sync_with recomputation fan-out.
package player

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// TransportState is one of {idle, paused, playing}, derived from the
// client's STAT sub-opcodes.
type TransportState int

const (
	TransportIdle TransportState = iota
	TransportPaused
	TransportPlaying
)

func (t TransportState) String() string {
	switch t {
	case TransportPaused:
		return "paused"
	case TransportPlaying:
		return "playing"
	default:
		return "idle"
	}
}

// Cache is the external collaborator used to persist and restore
// last-known power/volume across reconnects and restarts.
type Cache interface {
	Get(ctx context.Context, key string) (PowerVolume, bool, error)
	Set(ctx context.Context, key string, value PowerVolume) error
}

// PowerVolume is the small tuple persisted under the
// slimproto_prev_state.<player_id> cache key.
type PowerVolume struct {
	Powered bool
	Volume  int
}

func cacheKey(playerID string) string { return "slimproto_prev_state." + playerID }

// Player is the logical device, independent of its current transport
// connection.
type Player struct {
	ID              string
	Name            string
	Model           string
	DeviceType      byte
	MaxSampleRate   int
	Codecs          []string
	Powered         bool
	Muted           bool
	Volume          int
	Transport       TransportState
	StreamURL       string
	Elapsed         time.Duration
	ElapsedAt       time.Time
	SyncedTo        string   // not maintained by the registry (always ""); syncgroup.Manager holds leaders
	Followers       []string // not maintained by the registry (always nil); syncgroup.Manager holds groups
	CanSyncWith     []string
	SessionID       string
	Available       bool
	SyncOffsetMS    int // operator-configured acoustic compensation, 0..1500
}

// Registry is the single writer of the Player table, guarded by a single
// RWMutex as called for by a process-wide coordinator.
type Registry struct {
	mu      sync.RWMutex
	players map[string]*Player

	cache Cache
	log   *slog.Logger

	subMu sync.Mutex
	subs  []chan []Player
}

// New builds an empty registry. cache may be nil to disable power/volume
// persistence (tests, or a deployment with no cache collaborator wired).
func New(cache Cache, log *slog.Logger) *Registry {
	return &Registry{
		players: make(map[string]*Player),
		cache:   cache,
		log:     log,
	}
}

// Subscribe returns a channel that receives a coalesced snapshot of all
// players every time any player changes. The channel is buffered; slow
// subscribers receive the latest snapshot, not every intermediate one.
func (r *Registry) Subscribe() <-chan []Player {
	ch := make(chan []Player, 1)
	r.subMu.Lock()
	r.subs = append(r.subs, ch)
	r.subMu.Unlock()
	return ch
}

// Connected registers a new Player (restoring last-known power/volume from
// the cache) or refreshes liveness for an existing one, binding it to
// sessionID. If a different session already owns this player id,
// Connected rebinds the player without touching that session: eviction
// requires signaling the transport layer, which the server does through
// session.Registry.Bind before calling Connected.
func (r *Registry) Connected(ctx context.Context, id, name, model string, deviceType byte, maxSampleRate int, codecs []string, sessionID string) *Player {
	r.mu.Lock()
	p, exists := r.players[id]
	if !exists {
		p = &Player{ID: id, Volume: 20, Powered: false, Codecs: codecs}
		if r.cache != nil {
			if pv, ok, err := r.cache.Get(ctx, cacheKey(id)); err == nil && ok {
				p.Powered = pv.Powered
				p.Volume = pv.Volume
			}
		}
		r.players[id] = p
	}
	p.Name = name
	p.Model = model
	p.DeviceType = deviceType
	p.MaxSampleRate = maxSampleRate
	if codecs != nil {
		p.Codecs = codecs
	}
	p.SessionID = sessionID
	p.Available = true
	r.mu.Unlock()

	r.recomputeCanSyncWith()
	return p
}

// Disconnected writes back last-known power/volume and marks the player
// unavailable. Sync-group membership is intentionally left intact so the
// player is rediscovered on reconnect (see §4.4's leader-disconnect note).
func (r *Registry) Disconnected(ctx context.Context, id string) {
	r.mu.Lock()
	p, ok := r.players[id]
	if ok {
		p.Available = false
		p.SessionID = ""
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	if r.cache != nil {
		_ = r.cache.Set(ctx, cacheKey(id), PowerVolume{Powered: p.Powered, Volume: p.Volume})
	}
	r.recomputeCanSyncWith()
}

// Get returns a copy of the player's current state.
func (r *Registry) Get(id string) (Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[id]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// SessionIDFor returns the session currently bound to id, if registered
// and available.
func (r *Registry) SessionIDFor(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.players[id]
	if !ok || !p.Available {
		return "", false
	}
	return p.SessionID, true
}

// All returns a snapshot of every registered player.
func (r *Registry) All() []Player {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, *p)
	}
	return out
}

// Mutate applies fn to the player under the registry's write lock, then
// triggers a can_sync_with recompute. fn must not block.
func (r *Registry) Mutate(id string, fn func(*Player)) bool {
	r.mu.Lock()
	p, ok := r.players[id]
	if ok {
		fn(p)
	}
	r.mu.Unlock()
	if ok {
		r.recomputeCanSyncWith()
	}
	return ok
}

// recomputeCanSyncWith recomputes every player's can_sync_with set (every
// other currently-registered player id) and emits one coalesced update.
// The per-player field writes fan out concurrently via an errgroup since
// they are independent of one another; the single emitted snapshot is the
// coalescing point subscribers actually observe.
func (r *Registry) recomputeCanSyncWith() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.players))
	for id := range r.players {
		ids = append(ids, id)
	}
	g, _ := errgroup.WithContext(context.Background())
	for _, p := range r.players {
		p := p
		g.Go(func() error {
			others := make([]string, 0, len(ids))
			for _, id := range ids {
				if id != p.ID {
					others = append(others, id)
				}
			}
			p.CanSyncWith = others
			return nil
		})
	}
	_ = g.Wait()
	snapshot := make([]Player, 0, len(r.players))
	for _, p := range r.players {
		snapshot = append(snapshot, *p)
	}
	r.mu.Unlock()

	r.subMu.Lock()
	for _, ch := range r.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
	r.subMu.Unlock()

	if r.log != nil {
		r.log.Debug("recomputed can_sync_with", "player_count", len(snapshot))
	}
}
