package player

import (
	"context"
	"sort"
	"testing"
	"time"
)

type memCache struct {
	data map[string]PowerVolume
}

func newMemCache() *memCache { return &memCache{data: make(map[string]PowerVolume)} }

func (c *memCache) Get(ctx context.Context, key string) (PowerVolume, bool, error) {
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(ctx context.Context, key string, value PowerVolume) error {
	c.data[key] = value
	return nil
}

func TestConnectedCreatesPlayerWithDefaults(t *testing.T) {
	t.Parallel()
	r := New(nil, nil)
	p := r.Connected(context.Background(), "aabbccddee01", "Kitchen", "squeezebox2", 2, 48000, []string{"flc", "mp3"}, "sess-1")
	if p.Volume != 20 || p.Powered {
		t.Fatalf("unexpected defaults: %+v", p)
	}
	got, ok := r.Get("aabbccddee01")
	if !ok || got.SessionID != "sess-1" {
		t.Fatalf("unexpected get result: %+v ok=%v", got, ok)
	}
}

func TestConnectedRestoresFromCache(t *testing.T) {
	t.Parallel()
	cache := newMemCache()
	cache.data[cacheKey("001122334455")] = PowerVolume{Powered: true, Volume: 42}
	r := New(cache, nil)
	p := r.Connected(context.Background(), "001122334455", "Office", "softsqueeze", 1, 44100, nil, "sess-2")
	if !p.Powered || p.Volume != 42 {
		t.Fatalf("expected restored power/volume, got %+v", p)
	}
}

func TestDisconnectedPersistsStateAndKeepsPlayer(t *testing.T) {
	t.Parallel()
	cache := newMemCache()
	r := New(cache, nil)
	r.Connected(context.Background(), "aa0000000001", "Den", "model", 1, 44100, nil, "sess-3")
	r.Mutate("aa0000000001", func(p *Player) {
		p.Powered = true
		p.Volume = 77
	})
	r.Disconnected(context.Background(), "aa0000000001")

	got, ok := r.Get("aa0000000001")
	if !ok {
		t.Fatalf("player should still be registered after disconnect")
	}
	if got.Available {
		t.Fatalf("expected player unavailable after disconnect")
	}
	pv, ok, _ := cache.Get(context.Background(), cacheKey("aa0000000001"))
	if !ok || !pv.Powered || pv.Volume != 77 {
		t.Fatalf("expected persisted power/volume, got %+v ok=%v", pv, ok)
	}
}

func TestCanSyncWithEqualsAllOtherRegisteredPlayers(t *testing.T) {
	t.Parallel()
	r := New(nil, nil)
	ctx := context.Background()
	r.Connected(ctx, "p1", "A", "m", 1, 44100, nil, "s1")
	r.Connected(ctx, "p2", "B", "m", 1, 44100, nil, "s2")
	r.Connected(ctx, "p3", "C", "m", 1, 44100, nil, "s3")

	sub := r.Subscribe()
	r.Connected(ctx, "p4", "D", "m", 1, 44100, nil, "s4")

	select {
	case snapshot := <-sub:
		byID := make(map[string]Player)
		for _, p := range snapshot {
			byID[p.ID] = p
		}
		p1 := byID["p1"]
		sort.Strings(p1.CanSyncWith)
		want := []string{"p2", "p3", "p4"}
		if len(p1.CanSyncWith) != len(want) {
			t.Fatalf("unexpected can_sync_with: %v", p1.CanSyncWith)
		}
		for i, v := range want {
			if p1.CanSyncWith[i] != v {
				t.Fatalf("unexpected can_sync_with at %d: got %s want %s", i, p1.CanSyncWith[i], v)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for coalesced snapshot")
	}
}

func TestReconnectEvictsIncumbentBeforeRegisteringNewcomer(t *testing.T) {
	t.Parallel()
	r := New(nil, nil)
	ctx := context.Background()
	r.Connected(ctx, "dup001122", "First", "m", 1, 44100, nil, "sess-old")
	old, _ := r.SessionIDFor("dup001122")
	if old != "sess-old" {
		t.Fatalf("unexpected incumbent session: %s", old)
	}
	// The registry never evicts by itself (the server disconnects the
	// incumbent at the transport layer); simulate the incumbent's disconnect
	// followed by the newcomer's connect here.
	r.Disconnected(ctx, "dup001122")
	r.Connected(ctx, "dup001122", "First", "m", 1, 44100, nil, "sess-new")
	got, ok := r.SessionIDFor("dup001122")
	if !ok || got != "sess-new" {
		t.Fatalf("expected newcomer session bound, got %s ok=%v", got, ok)
	}
}
