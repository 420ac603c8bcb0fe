package orchestrator

import (
	"context"
	"sync"
	"testing"

	"github.com/syncbeam/slimproto/internal/slimproto/player"
	"github.com/syncbeam/slimproto/internal/slimproto/session"
	"github.com/syncbeam/slimproto/internal/slimproto/syncgroup"
)

type fakeRegistry struct {
	mu      sync.Mutex
	players map[string]*player.Player
}

func newFakeRegistry(ids ...string) *fakeRegistry {
	r := &fakeRegistry{players: make(map[string]*player.Player)}
	for _, id := range ids {
		r.players[id] = &player.Player{ID: id, Codecs: []string{"flc", "mp3"}}
	}
	return r
}

func (r *fakeRegistry) Get(id string) (player.Player, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		return player.Player{}, false
	}
	return *p, true
}

func (r *fakeRegistry) Mutate(id string, fn func(*player.Player)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.players[id]
	if !ok {
		return false
	}
	fn(p)
	return true
}

func (r *fakeRegistry) SessionIDFor(id string) (string, bool) { return "", false }

type fakeTransport struct {
	mu     sync.Mutex
	played int
	stopped int
	paused  int
	resumed int
}

func (f *fakeTransport) PlayURL(ctx context.Context, opts session.PlayURLOptions) error {
	f.mu.Lock()
	f.played++
	f.mu.Unlock()
	return nil
}
func (f *fakeTransport) Stop(ctx context.Context) error {
	f.mu.Lock()
	f.stopped++
	f.mu.Unlock()
	return nil
}
func (f *fakeTransport) Pause(ctx context.Context) error {
	f.mu.Lock()
	f.paused++
	f.mu.Unlock()
	return nil
}
func (f *fakeTransport) Resume(ctx context.Context) error {
	f.mu.Lock()
	f.resumed++
	f.mu.Unlock()
	return nil
}
func (f *fakeTransport) Power(ctx context.Context, on bool) error         { return nil }
func (f *fakeTransport) VolumeSet(ctx context.Context, vol int) error     { return nil }
func (f *fakeTransport) Mute(ctx context.Context, on bool) error          { return nil }
func (f *fakeTransport) SendStrm(ctx context.Context, sub byte, rg uint32) error { return nil }

type fakeSessions struct {
	mu    sync.Mutex
	byID  map[string]*fakeTransport
}

func newFakeSessions(ids ...string) *fakeSessions {
	s := &fakeSessions{byID: make(map[string]*fakeTransport)}
	for _, id := range ids {
		s.byID[id] = &fakeTransport{}
	}
	return s
}

func (s *fakeSessions) Get(id string) (SessionTransport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	return t, ok
}

type fakeQueue struct{}

func (fakeQueue) GetActiveQueue(ctx context.Context, playerID string) (string, error) { return "q1", nil }
func (fakeQueue) Resume(ctx context.Context, queueID string, fadeIn bool) error       { return nil }
func (fakeQueue) PreloadNextURL(ctx context.Context, playerID string) (string, string, bool, bool, error) {
	return "", "", false, false, nil
}

func TestPlayURLFanOutToGroup(t *testing.T) {
	t.Parallel()
	reg := newFakeRegistry("A", "B")
	sessions := newFakeSessions("A", "B")
	groups := syncgroup.New(nil, nil, playbackAlwaysIdle{})
	ctx := context.Background()
	if err := groups.Sync(ctx, "B", "A", func(id string) bool { _, ok := reg.Get(id); return ok }); err != nil {
		t.Fatalf("sync: %v", err)
	}
	orch := New(reg, sessions, groups, fakeQueue{}, nil)

	if err := orch.PlayURL(ctx, "A", session.PlayURLOptions{URL: "http://x/y.flac", Autostart: true}); err != nil {
		t.Fatalf("PlayURL: %v", err)
	}
	tA, _ := sessions.Get("A")
	tB, _ := sessions.Get("B")
	if tA.(*fakeTransport).played != 1 || tB.(*fakeTransport).played != 1 {
		t.Fatalf("expected play sent to both group members")
	}
}

func TestPlayURLRejectedOnFollowerDirectly(t *testing.T) {
	t.Parallel()
	reg := newFakeRegistry("A", "B")
	sessions := newFakeSessions("A", "B")
	groups := syncgroup.New(nil, nil, playbackAlwaysIdle{})
	ctx := context.Background()
	groups.Sync(ctx, "B", "A", func(id string) bool { _, ok := reg.Get(id); return ok })
	orch := New(reg, sessions, groups, fakeQueue{}, nil)

	if err := orch.PlayURL(ctx, "B", session.PlayURLOptions{URL: "http://x/y.flac"}); err == nil {
		t.Fatalf("expected programming error for command to follower")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	reg := newFakeRegistry("A")
	reg.Mutate("A", func(p *player.Player) { p.Transport = player.TransportIdle })
	sessions := newFakeSessions("A")
	groups := syncgroup.New(nil, nil, playbackAlwaysIdle{})
	orch := New(reg, sessions, groups, fakeQueue{}, nil)

	ctx := context.Background()
	if err := orch.Stop(ctx, "A"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := orch.Stop(ctx, "A"); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	tA, _ := sessions.Get("A")
	if tA.(*fakeTransport).stopped != 0 {
		t.Fatalf("expected no strm sent while already idle, got %d", tA.(*fakeTransport).stopped)
	}
}

func TestStopSendsWhenNotIdleThenBecomesNoOp(t *testing.T) {
	t.Parallel()
	reg := newFakeRegistry("A")
	reg.Mutate("A", func(p *player.Player) { p.Transport = player.TransportPlaying })
	sessions := newFakeSessions("A")
	groups := syncgroup.New(nil, nil, playbackAlwaysIdle{})
	orch := New(reg, sessions, groups, fakeQueue{}, nil)
	ctx := context.Background()

	if err := orch.Stop(ctx, "A"); err != nil {
		t.Fatalf("stop: %v", err)
	}
	tA, _ := sessions.Get("A")
	if tA.(*fakeTransport).stopped != 1 {
		t.Fatalf("expected one stop sent, got %d", tA.(*fakeTransport).stopped)
	}
	if err := orch.Stop(ctx, "A"); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if tA.(*fakeTransport).stopped != 1 {
		t.Fatalf("expected no additional stop once idle, got %d", tA.(*fakeTransport).stopped)
	}
}

func TestSetSyncOffsetValidatesRange(t *testing.T) {
	t.Parallel()
	reg := newFakeRegistry("A")
	orch := New(reg, newFakeSessions("A"), syncgroup.New(nil, nil, playbackAlwaysIdle{}), fakeQueue{}, nil)
	ctx := context.Background()
	if err := orch.SetSyncOffset(ctx, "A", 1500); err != nil {
		t.Fatalf("expected 1500ms to be in range: %v", err)
	}
	if err := orch.SetSyncOffset(ctx, "A", 1501); err == nil {
		t.Fatalf("expected 1501ms to be rejected")
	}
	got, _ := reg.Get("A")
	if got.SyncOffsetMS != 1500 {
		t.Fatalf("expected offset persisted, got %d", got.SyncOffsetMS)
	}
}

type playbackAlwaysIdle struct{}

func (playbackAlwaysIdle) IsPlaying(string) bool { return false }
