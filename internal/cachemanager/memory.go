package cachemanager

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"foreman/internal/log"
)

// Defaults for caches that do not need tuned lifetimes.
const (
	DefaultExpiration      = 10 * time.Minute
	DefaultCleanupInterval = 30 * time.Minute
)

// MemoryCache is a go-cache backed Cache. The label names the cache in log
// output so hits from different caches stay distinguishable.
type MemoryCache[K ~string, V any] struct {
	label string
	store *gocache.Cache
}

// NewMemoryCache creates a cache whose entries expire after defaultTTL,
// swept every cleanupInterval.
func NewMemoryCache[K ~string, V any](label string, defaultTTL, cleanupInterval time.Duration) *MemoryCache[K, V] {
	return &MemoryCache[K, V]{label: label, store: gocache.New(defaultTTL, cleanupInterval)}
}

func (c *MemoryCache[K, V]) Get(ctx context.Context, key K) (V, bool) {
	var zero V
	raw, found := c.store.Get(string(key))
	if !found {
		return zero, false
	}
	value, ok := raw.(V)
	if !ok {
		log.Error(log.CatCache, "Cached value has unexpected type", "cache", c.label, "key", key)
		return zero, false
	}
	log.Debug(log.CatCache, "Cache hit", "cache", c.label, "key", key)
	return value, true
}

func (c *MemoryCache[K, V]) Set(ctx context.Context, key K, value V, ttl time.Duration) {
	c.store.Set(string(key), value, ttl)
}

func (c *MemoryCache[K, V]) Delete(ctx context.Context, keys ...K) {
	for _, key := range keys {
		c.store.Delete(string(key))
	}
}

func (c *MemoryCache[K, V]) Flush(ctx context.Context) {
	c.store.Flush()
}
