package server

import (
	"context"
	"sync"
	"time"

	slimerrors "github.com/syncbeam/slimproto/internal/errors"
	"github.com/syncbeam/slimproto/internal/slimproto/collab"
	"github.com/syncbeam/slimproto/internal/slimproto/player"
	"github.com/syncbeam/slimproto/internal/slimproto/session"
	"github.com/syncbeam/slimproto/internal/slimproto/syncgroup"
)

// readyTracker records, per player, whether the client's most recent
// BUFFER_READY has been seen and the jiffies value it carried, feeding
// drift.ReadyChecker for buffer-coordinated group starts.
type readyTracker struct {
	mu      sync.Mutex
	ready   map[string]bool
	jiffies map[string]uint32
}

func newReadyTracker() *readyTracker {
	return &readyTracker{ready: make(map[string]bool), jiffies: make(map[string]uint32)}
}

func (t *readyTracker) markReady(playerID string, jiffies uint32) {
	t.mu.Lock()
	t.ready[playerID] = true
	t.jiffies[playerID] = jiffies
	t.mu.Unlock()
}

func (t *readyTracker) reset(playerID string) {
	t.mu.Lock()
	delete(t.ready, playerID)
	t.mu.Unlock()
}

func (t *readyTracker) IsBufferReady(playerID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ready[playerID]
}

func (t *readyTracker) JiffiesOf(playerID string) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.jiffies[playerID]
}

// driftTransport adapts the session registry and player registry into
// drift.Transport: per-player strm sends, and resyncing a follower that
// underran by rejoining it to its leader's current stream.
type driftTransport struct {
	sessions *session.Registry
	players  *player.Registry
	groups   *syncgroup.Manager
}

func (a driftTransport) SendStrm(ctx context.Context, playerID string, subcommand byte, replayGainMS uint32) error {
	sess, ok := a.sessions.Get(playerID)
	if !ok {
		return slimerrors.NewCommandError("drift.send_strm", playerID, "disconnected", nil)
	}
	return sess.SendStrm(ctx, subcommand, replayGainMS)
}

func (a driftTransport) Stop(ctx context.Context, playerID string) error {
	sess, ok := a.sessions.Get(playerID)
	if !ok {
		return nil
	}
	return sess.Stop(ctx)
}

func (a driftTransport) Resync(ctx context.Context, followerID string) error {
	leaderID, ok := a.groups.LeaderOf(followerID)
	if !ok {
		leaderID = followerID
	}
	leader, ok := a.players.Get(leaderID)
	if !ok || leader.StreamURL == "" {
		return nil
	}
	sess, ok := a.sessions.Get(followerID)
	if !ok {
		return nil
	}
	return sess.PlayURL(ctx, session.PlayURLOptions{
		URL:       leader.StreamURL,
		Flush:     true,
		Autostart: true,
	})
}

// driftElapsed adapts live sessions plus the queue/streaming-job
// collaborators into drift.Elapsed: a follower's corrected-elapsed inputs
// are read off its own session clock, while the job identity and
// skipped-seconds it joined late on come from the leader's active
// streaming job (the one a sync group shares once joined).
type driftElapsed struct {
	sessions *session.Registry
	groups   *syncgroup.Manager
	queue    *collab.MemoryQueueController
	jobs     *collab.MemoryStreamingJobs
}

func (a driftElapsed) RawElapsedMS(playerID string, now time.Time) (elapsedMS int, jobID string, skippedMS int, ok bool) {
	sess, ok := a.sessions.Get(playerID)
	if !ok {
		return 0, "", 0, false
	}
	elapsedMS = int(sess.Elapsed(now) / time.Millisecond)

	leaderID := playerID
	if lid, isFollower := a.groups.LeaderOf(playerID); isFollower {
		leaderID = lid
	}
	ctx := context.Background()
	queueID, err := a.queue.GetActiveQueue(ctx, leaderID)
	if err != nil {
		return elapsedMS, "", 0, true
	}
	job, found, err := a.jobs.Get(ctx, queueID)
	if err != nil || !found {
		return elapsedMS, queueID, 0, true
	}
	return elapsedMS, job.ID(), job.ClientSecondsSkipped(playerID) * 1000, true
}

// driftSyncOffsets adapts the player registry into drift.SyncOffsets.
type driftSyncOffsets struct {
	players *player.Registry
}

func (a driftSyncOffsets) OffsetMS(playerID string) int {
	p, ok := a.players.Get(playerID)
	if !ok {
		return 0
	}
	return p.SyncOffsetMS
}

// syncQueueRestarter adapts the queue controller into syncgroup.QueueController.
type syncQueueRestarter struct {
	queue *collab.MemoryQueueController
}

func (a syncQueueRestarter) Restart(ctx context.Context, leaderID string) error {
	queueID, err := a.queue.GetActiveQueue(ctx, leaderID)
	if err != nil {
		return err
	}
	return a.queue.Resume(ctx, queueID, true)
}

// syncTransport adapts the session registry into syncgroup.Transport.
type syncTransport struct {
	sessions *session.Registry
}

func (a syncTransport) Stop(ctx context.Context, playerID string) error {
	sess, ok := a.sessions.Get(playerID)
	if !ok {
		return nil
	}
	return sess.Stop(ctx)
}

// syncPlayback adapts the player registry into syncgroup.PlaybackState.
type syncPlayback struct {
	players *player.Registry
}

func (a syncPlayback) IsPlaying(playerID string) bool {
	p, ok := a.players.Get(playerID)
	return ok && p.Transport == player.TransportPlaying
}
