// Package orchestrator presents the stable public surface exposed to the
// queue controller and CLI layers: play, stop, pause, resume, power,
// volume, sync, unsync, plus the supplemental preset and sync-offset
// operations. It enforces the "commands go to leaders" rule and fans
// commands out to every group member with structured concurrency.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc"

	slimerrors "github.com/syncbeam/slimproto/internal/errors"
	"github.com/syncbeam/slimproto/internal/slimproto/player"
	"github.com/syncbeam/slimproto/internal/slimproto/session"
	"github.com/syncbeam/slimproto/internal/slimproto/syncgroup"
)

// SessionTransport is the subset of *session.Session the orchestrator
// drives; the full Session type satisfies it directly.
type SessionTransport interface {
	PlayURL(ctx context.Context, opts session.PlayURLOptions) error
	Stop(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Power(ctx context.Context, on bool) error
	VolumeSet(ctx context.Context, vol int) error
	Mute(ctx context.Context, on bool) error
	SendStrm(ctx context.Context, subcommand byte, replayGain uint32) error
}

// QueueController is the external collaborator that owns playback
// sequencing.
type QueueController interface {
	GetActiveQueue(ctx context.Context, playerID string) (queueID string, err error)
	Resume(ctx context.Context, queueID string, fadeIn bool) error
	PreloadNextURL(ctx context.Context, playerID string) (url string, mimeType string, crossfade bool, ok bool, err error)
}

// Registry is the subset of *player.Registry the orchestrator needs.
type Registry interface {
	Get(id string) (player.Player, bool)
	Mutate(id string, fn func(*player.Player)) bool
	SessionIDFor(id string) (string, bool)
}

// Sessions resolves a player id to its live transport, if connected.
type Sessions interface {
	Get(playerID string) (SessionTransport, bool)
}

// Groups is the subset of *syncgroup.Manager the orchestrator needs.
type Groups interface {
	Sync(ctx context.Context, childID, leaderID string, exists syncgroup.Exists) error
	Unsync(ctx context.Context, childID string) error
	Resolve(id string) []string
	IsLeader(id string) bool
	LeaderOf(id string) (string, bool)
}

// Orchestrator is the public command surface.
type Orchestrator struct {
	registry Registry
	sessions Sessions
	groups   Groups
	queue    QueueController
	log      *slog.Logger

	presetsMu sync.RWMutex
	presets   map[string][]string // playerID -> ordered preset URLs
}

// New builds an Orchestrator wired to its collaborators.
func New(registry Registry, sessions Sessions, groups Groups, queue QueueController, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		sessions: sessions,
		groups:   groups,
		queue:    queue,
		log:      log,
		presets:  make(map[string][]string),
	}
}

// fanoutResult pairs a per-member error with the member it concerns, so
// CommandErrors for individual members can be collected without aborting
// the rest of the fan-out.
type fanoutResult struct {
	playerID string
	err      error
}

// fanOut resolves id's group and invokes fn concurrently for every member,
// waiting for all to complete. Structured concurrency: the WaitGroup scope
// owns every sub-task, so one member's error does not abort the others'
// sends, and a panic in any sub-task is re-raised here once all finish.
func (o *Orchestrator) fanOut(ctx context.Context, id string, fn func(ctx context.Context, memberID string) error) []fanoutResult {
	members := o.groups.Resolve(id)
	results := make([]fanoutResult, len(members))

	var wg conc.WaitGroup
	for i, member := range members {
		i, member := i, member
		wg.Go(func() {
			results[i] = fanoutResult{playerID: member, err: fn(ctx, member)}
		})
	}
	wg.Wait()
	return results
}

func (o *Orchestrator) transportFor(memberID string) (SessionTransport, error) {
	t, ok := o.sessions.Get(memberID)
	if !ok {
		return nil, slimerrors.NewCommandError("orchestrator.transport", memberID, "disconnected", nil)
	}
	return t, nil
}

// requireLeader enforces the "commands go to leaders" rule: a non-leader,
// non-solo player may not receive a transport command directly.
func (o *Orchestrator) requireLeader(id string) error {
	if o.groups.IsLeader(id) {
		return nil
	}
	if _, isFollower := o.groups.LeaderOf(id); isFollower {
		return slimerrors.NewProgrammingError("orchestrator: transport command sent to a follower", nil)
	}
	return nil
}

// PlayURL resolves id's group, stops every member first for a clean
// transition when opts.Flush is set, then fans out play_url concurrently.
func (o *Orchestrator) PlayURL(ctx context.Context, id string, opts session.PlayURLOptions) error {
	if err := o.requireLeader(id); err != nil {
		return err
	}
	if opts.Flush {
		o.fanOut(ctx, id, func(ctx context.Context, memberID string) error {
			t, err := o.transportFor(memberID)
			if err != nil {
				return nil // disconnected member: skip, not an aggregate failure
			}
			return t.Stop(ctx)
		})
	}

	results := o.fanOut(ctx, id, func(ctx context.Context, memberID string) error {
		p, ok := o.registry.Get(memberID)
		if !ok {
			return slimerrors.NewCommandError("orchestrator.play_url", memberID, "unregistered", nil)
		}
		t, err := o.transportFor(memberID)
		if err != nil {
			return nil
		}
		memberOpts := opts
		if memberOpts.Codec == "" {
			memberOpts.Codec = preferredCodec(p.Codecs)
		}
		if err := t.PlayURL(ctx, memberOpts); err != nil {
			return err
		}
		o.registry.Mutate(memberID, func(pp *player.Player) {
			pp.StreamURL = opts.URL
		})
		return nil
	})
	return firstError(results)
}

// preferredCodec picks the output codec using the preference order
// flc → pcm → mp3 among the player's supported codecs.
func preferredCodec(supported []string) string {
	for _, pref := range []string{"flc", "pcm", "mp3"} {
		for _, c := range supported {
			if c == pref {
				return pref
			}
		}
	}
	if len(supported) > 0 {
		return supported[0]
	}
	return "mp3"
}

// Stop is idempotent: an already-idle session is skipped, not re-sent.
func (o *Orchestrator) Stop(ctx context.Context, id string) error {
	if err := o.requireLeader(id); err != nil {
		return err
	}
	results := o.fanOut(ctx, id, func(ctx context.Context, memberID string) error {
		p, ok := o.registry.Get(memberID)
		if ok && p.Transport == player.TransportIdle {
			return nil
		}
		t, err := o.transportFor(memberID)
		if err != nil {
			return nil
		}
		if err := t.Stop(ctx); err != nil {
			return err
		}
		o.registry.Mutate(memberID, func(pp *player.Player) { pp.Transport = player.TransportIdle })
		return nil
	})
	return firstError(results)
}

// Pause skips members not in a compatible transport state (playing).
func (o *Orchestrator) Pause(ctx context.Context, id string) error {
	if err := o.requireLeader(id); err != nil {
		return err
	}
	results := o.fanOut(ctx, id, func(ctx context.Context, memberID string) error {
		p, ok := o.registry.Get(memberID)
		if !ok || p.Transport != player.TransportPlaying {
			return nil
		}
		t, err := o.transportFor(memberID)
		if err != nil {
			return nil
		}
		if err := t.Pause(ctx); err != nil {
			return err
		}
		o.registry.Mutate(memberID, func(pp *player.Player) { pp.Transport = player.TransportPaused })
		return nil
	})
	return firstError(results)
}

// Resume skips members not in a compatible transport state (paused).
func (o *Orchestrator) Resume(ctx context.Context, id string) error {
	if err := o.requireLeader(id); err != nil {
		return err
	}
	results := o.fanOut(ctx, id, func(ctx context.Context, memberID string) error {
		p, ok := o.registry.Get(memberID)
		if !ok || p.Transport != player.TransportPaused {
			return nil
		}
		t, err := o.transportFor(memberID)
		if err != nil {
			return nil
		}
		if err := t.Resume(ctx); err != nil {
			return err
		}
		o.registry.Mutate(memberID, func(pp *player.Player) { pp.Transport = player.TransportPlaying })
		return nil
	})
	return firstError(results)
}

// Power fans out a power toggle to the whole group.
func (o *Orchestrator) Power(ctx context.Context, id string, on bool) error {
	results := o.fanOut(ctx, id, func(ctx context.Context, memberID string) error {
		t, err := o.transportFor(memberID)
		if err != nil {
			return nil
		}
		if err := t.Power(ctx, on); err != nil {
			return err
		}
		o.registry.Mutate(memberID, func(pp *player.Player) { pp.Powered = on })
		return nil
	})
	return firstError(results)
}

// VolumeSet fans out a volume change to the whole group.
func (o *Orchestrator) VolumeSet(ctx context.Context, id string, vol int) error {
	results := o.fanOut(ctx, id, func(ctx context.Context, memberID string) error {
		t, err := o.transportFor(memberID)
		if err != nil {
			return nil
		}
		if err := t.VolumeSet(ctx, vol); err != nil {
			return err
		}
		o.registry.Mutate(memberID, func(pp *player.Player) { pp.Volume = vol })
		return nil
	})
	return firstError(results)
}

// Mute fans out a mute toggle to the whole group.
func (o *Orchestrator) Mute(ctx context.Context, id string, on bool) error {
	results := o.fanOut(ctx, id, func(ctx context.Context, memberID string) error {
		t, err := o.transportFor(memberID)
		if err != nil {
			return nil
		}
		if err := t.Mute(ctx, on); err != nil {
			return err
		}
		if !on {
			// The session sends nothing on unmute; restore the stored level.
			if p, ok := o.registry.Get(memberID); ok {
				if err := t.VolumeSet(ctx, p.Volume); err != nil {
					return err
				}
			}
		}
		o.registry.Mutate(memberID, func(pp *player.Player) { pp.Muted = on })
		return nil
	})
	return firstError(results)
}

// Sync joins childID to leaderID's group.
func (o *Orchestrator) Sync(ctx context.Context, childID, leaderID string) error {
	return o.groups.Sync(ctx, childID, leaderID, func(id string) bool {
		_, ok := o.registry.Get(id)
		return ok
	})
}

// Unsync removes childID from its current group.
func (o *Orchestrator) Unsync(ctx context.Context, childID string) error {
	return o.groups.Unsync(ctx, childID)
}

// PlayPreset plays the index'th named preset URI configured for id.
func (o *Orchestrator) PlayPreset(ctx context.Context, id string, index int) error {
	o.presetsMu.RLock()
	presets := o.presets[id]
	o.presetsMu.RUnlock()
	if index < 0 || index >= len(presets) {
		return slimerrors.NewCommandError("orchestrator.play_preset", id, "no-such-preset", nil)
	}
	return o.PlayURL(ctx, id, session.PlayURLOptions{
		URL:       presets[index],
		Flush:     true,
		Autostart: true,
	})
}

// SetPresets replaces id's preset list (used by configuration loading).
func (o *Orchestrator) SetPresets(id string, uris []string) {
	o.presetsMu.Lock()
	o.presets[id] = uris
	o.presetsMu.Unlock()
}

// SetSyncOffset updates a player's configured per-player sync offset
// (0..1500ms) used by the drift controller's corrected-elapsed formula.
func (o *Orchestrator) SetSyncOffset(ctx context.Context, id string, offsetMS int) error {
	if offsetMS < 0 || offsetMS > 1500 {
		return slimerrors.NewCommandError("orchestrator.set_sync_offset", id, "out-of-range", nil)
	}
	if ok := o.registry.Mutate(id, func(p *player.Player) { p.SyncOffsetMS = offsetMS }); !ok {
		return slimerrors.NewCommandError("orchestrator.set_sync_offset", id, "unregistered", nil)
	}
	return nil
}

func firstError(results []fanoutResult) error {
	for _, r := range results {
		if r.err != nil {
			return r.err
		}
	}
	return nil
}
