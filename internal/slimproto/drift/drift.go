// Package drift implements the sliding-window statistical estimator of
// timing offset between each follower and its leader, and the
// pause-for/skip-ahead correction policy that keeps a sync group in tight
// temporal alignment.
package drift

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
)

// ringCapacity is the fixed capacity of each follower's playpoint ring;
// the source models this as an overwrite-oldest deque of at least 4
// entries, so 4 is both the minimum and the chosen capacity.
const ringCapacity = 4

// deadband is the statistical correction threshold: means whose absolute
// value is below this are inside normal scheduler jitter and ignored.
const deadband = 10 * time.Millisecond

// playpointExpiry invalidates a follower's ring if its most recent sample
// predates this window (a stream restart or long gap).
const playpointExpiry = 10 * time.Second

// correctionBackoff is the minimum pause after a skip-ahead correction
// before another correction may fire for the same follower.
const correctionBackoff = 2 * time.Second

// bufferReadyPollInterval / bufferReadyTimeout bound how long a leader
// waits for every group member to report buffer-ready before starting
// anyway with whichever clients are ready.
const (
	bufferReadyPollInterval = 100 * time.Millisecond
	bufferReadyTimeout      = 4 * time.Second
)

// startupBackoff is recorded for every follower right after a coordinated
// start so the first statistical correction does not fight the
// intentional startup offset.
const startupBackoff = 1 * time.Second

// Playpoint is a single timing sample.
type Playpoint struct {
	At    time.Time
	JobID string
	DiffMS int
}

type ring struct {
	mu        sync.Mutex
	points    []Playpoint
	backoffAt time.Time
}

func (r *ring) append(p Playpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.points) > 0 {
		last := r.points[len(r.points)-1]
		if p.At.Sub(last.At) > playpointExpiry || last.JobID != p.JobID {
			r.points = r.points[:0]
		}
	}
	r.points = append(r.points, p)
	if len(r.points) > ringCapacity {
		r.points = r.points[len(r.points)-ringCapacity:]
	}
}

func (r *ring) clear() {
	r.mu.Lock()
	r.points = r.points[:0]
	r.mu.Unlock()
}

func (r *ring) setBackoff(until time.Time) {
	r.mu.Lock()
	r.backoffAt = until
	r.mu.Unlock()
}

func (r *ring) inBackoff(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return now.Before(r.backoffAt)
}

// meanIfFull returns the mean diff and true once the ring has reached
// capacity. It does not clear the ring — per the correction policy, the
// ring is only cleared when a correction actually fires; while inside the
// deadband the ring keeps sliding (overwrite-oldest on the next append).
func (r *ring) meanIfFull() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.points) < ringCapacity {
		return 0, false
	}
	sum := 0
	for _, p := range r.points {
		sum += p.DiffMS
	}
	return sum / len(r.points), true
}

// Transport is the subset of session operations the drift controller
// needs: the low-level strm escape hatch, and rejoining a stream via sync.
type Transport interface {
	SendStrm(ctx context.Context, playerID string, subcommand byte, replayGainMS uint32) error
	Resync(ctx context.Context, followerID string) error
	Stop(ctx context.Context, playerID string) error
}

// Elapsed reports a player's corrected elapsed time inputs: raw elapsed,
// the streaming job id it belongs to, and skipped milliseconds (bytes the
// follower joined late on), as of now.
type Elapsed interface {
	RawElapsedMS(playerID string, now time.Time) (elapsedMS int, jobID string, skippedMS int, ok bool)
}

// SyncOffsets supplies each player's configured per-player sync offset
// (0..1500 ms), letting the operator compensate for known acoustic delays.
type SyncOffsets interface {
	OffsetMS(playerID string) int
}

// GroupResolver supplies leader/follower relationships.
type GroupResolver interface {
	LeaderOf(followerID string) (string, bool)
	Resolve(id string) []string
}

// PlaybackState reports whether a player's transport is currently in its
// PLAYING state, derived from the client's own STAT sub-opcodes.
type PlaybackState interface {
	IsPlaying(playerID string) bool
}

// Controller runs the drift correction loop and buffer-coordinated start.
type Controller struct {
	transport Transport
	elapsed   Elapsed
	offsets   SyncOffsets
	groups    GroupResolver
	playback  PlaybackState

	mu    sync.Mutex
	rings map[string]*ring
}

// New builds a Controller.
func New(transport Transport, elapsed Elapsed, offsets SyncOffsets, groups GroupResolver, playback PlaybackState) *Controller {
	return &Controller{
		transport: transport,
		elapsed:   elapsed,
		offsets:   offsets,
		groups:    groups,
		playback:  playback,
		rings:     make(map[string]*ring),
	}
}

func (c *Controller) ringFor(followerID string) *ring {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rings[followerID]
	if !ok {
		r = &ring{}
		c.rings[followerID] = r
	}
	return r
}

func correctedElapsedMS(rawMS, skippedMS, offsetMS int) int {
	return rawMS + skippedMS - offsetMS
}

// OnHeartbeat is invoked for every HEARTBEAT event on a follower whose
// leader is also playing. It computes the corrected elapsed diff, appends
// a playpoint, and — once the ring holds 4 samples outside the deadband —
// issues the skip-ahead or pause-for correction.
func (c *Controller) OnHeartbeat(ctx context.Context, followerID string, now time.Time) error {
	leaderID, ok := c.groups.LeaderOf(followerID)
	if !ok {
		return nil
	}
	if c.playback != nil && (!c.playback.IsPlaying(followerID) || !c.playback.IsPlaying(leaderID)) {
		return nil
	}

	r := c.ringFor(followerID)
	if r.inBackoff(now) {
		return nil
	}

	followerRaw, followerJob, followerSkipped, ok := c.elapsed.RawElapsedMS(followerID, now)
	if !ok {
		return nil
	}
	leaderRaw, leaderJob, leaderSkipped, ok := c.elapsed.RawElapsedMS(leaderID, now)
	if !ok {
		return nil
	}
	if followerJob != leaderJob {
		r.clear()
		return nil
	}

	followerOffset := 0
	leaderOffset := 0
	if c.offsets != nil {
		followerOffset = c.offsets.OffsetMS(followerID)
		leaderOffset = c.offsets.OffsetMS(leaderID)
	}

	correctedLeader := correctedElapsedMS(leaderRaw, leaderSkipped, leaderOffset)
	correctedFollower := correctedElapsedMS(followerRaw, followerSkipped, followerOffset)
	diff := correctedLeader - correctedFollower

	r.append(Playpoint{At: now, JobID: followerJob, DiffMS: diff})

	mean, full := r.meanIfFull()
	if !full {
		return nil
	}
	if abs(mean) < int(deadband/time.Millisecond) {
		return nil
	}

	r.clear()
	if mean > 0 {
		r.setBackoff(now.Add(correctionBackoff))
		return c.transport.SendStrm(ctx, followerID, 'a', uint32(mean))
	}
	magnitude := -mean
	backoff := time.Duration(magnitude)*time.Millisecond + correctionBackoff
	r.setBackoff(now.Add(backoff))
	return c.transport.SendStrm(ctx, followerID, 'p', uint32(magnitude))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// ReadyChecker reports whether a given player has reported BUFFER_READY
// for the streaming job currently in flight.
type ReadyChecker interface {
	IsBufferReady(playerID string) bool
	JiffiesOf(playerID string) uint32
}

// StartGroup implements buffer-coordinated start: when a BUFFER_READY
// event fires on a leader whose group has followers, wait up to 4s
// (polling at 100ms) for every member to report ready, then issue an
// unpause-at to every member that has reported ready, with that member's
// own jiffies+20 (members still not ready when the wait ends are skipped),
// and record a 1s drift-controller backoff for each of them so the first
// statistical correction does not fight the intentional startup offset.
func (c *Controller) StartGroup(ctx context.Context, leaderID string, ready ReadyChecker) {
	members := c.groups.Resolve(leaderID)
	if len(members) <= 1 {
		return
	}

	deadline := time.Now().Add(bufferReadyTimeout)
	for time.Now().Before(deadline) {
		if allReady(members, ready) {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(bufferReadyPollInterval):
		}
	}

	var wg conc.WaitGroup
	now := time.Now()
	for _, member := range members {
		member := member
		if !ready.IsBufferReady(member) {
			continue
		}
		wg.Go(func() {
			target := ready.JiffiesOf(member) + 20
			_ = c.transport.SendStrm(ctx, member, 'u', target)
			c.ringFor(member).setBackoff(now.Add(startupBackoff))
		})
	}
	wg.Wait()
}

func allReady(members []string, ready ReadyChecker) bool {
	for _, m := range members {
		if !ready.IsBufferReady(m) {
			return false
		}
	}
	return true
}

// OnOutputUnderrun implements the leader/follower underrun policy: stop a
// leader unconditionally; re-invoke sync (rejoin the stream) on a follower.
func (c *Controller) OnOutputUnderrun(ctx context.Context, playerID string) error {
	if _, isFollower := c.groups.LeaderOf(playerID); isFollower {
		return c.transport.Resync(ctx, playerID)
	}
	return c.transport.Stop(ctx, playerID)
}

// InvalidateJob clears a follower's ring, used when the streaming job it
// belongs to changes (stream restart) outside the heartbeat path, e.g.
// when decoder-ready handoff advances everyone to a new URL at once.
func (c *Controller) InvalidateJob(followerID string) {
	c.ringFor(followerID).clear()
}
