package collab

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// LRUCache is a bounded in-memory Cache, suitable for standalone operation
// where persisting last-known power/volume across server restarts is not
// required. A real deployment would back Cache with a durable store
// instead; this exists so the core has a usable default.
type LRUCache struct {
	cache *lru.Cache[string, string]
}

// NewLRUCache builds a cache bounded to size entries.
func NewLRUCache(size int) (*LRUCache, error) {
	c, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &LRUCache{cache: c}, nil
}

// Get implements Cache.
func (c *LRUCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := c.cache.Get(key)
	return v, ok, nil
}

// Set implements Cache.
func (c *LRUCache) Set(ctx context.Context, key, value string) error {
	c.cache.Add(key, value)
	return nil
}
