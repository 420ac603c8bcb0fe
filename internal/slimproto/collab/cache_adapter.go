package collab

import (
	"context"
	"encoding/json"

	"github.com/syncbeam/slimproto/internal/slimproto/player"
)

// PowerVolumeCache adapts a string-keyed Cache collaborator into
// player.Cache by (de)serializing the (powered, volume) tuple as JSON.
type PowerVolumeCache struct {
	Cache Cache
}

// Get implements player.Cache.
func (a PowerVolumeCache) Get(ctx context.Context, key string) (player.PowerVolume, bool, error) {
	raw, ok, err := a.Cache.Get(ctx, key)
	if err != nil || !ok {
		return player.PowerVolume{}, false, err
	}
	var pv player.PowerVolume
	if err := json.Unmarshal([]byte(raw), &pv); err != nil {
		return player.PowerVolume{}, false, err
	}
	return pv, true, nil
}

// Set implements player.Cache.
func (a PowerVolumeCache) Set(ctx context.Context, key string, value player.PowerVolume) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return a.Cache.Set(ctx, key, string(raw))
}
