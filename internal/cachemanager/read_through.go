package cachemanager

import (
	"context"
	"time"
)

// ReadThrough serves Get from the cache and falls back to the loader on a
// miss, storing the loaded value for later hits. Loader errors are returned
// without caching.
type ReadThrough[K ~string, V any] struct {
	cache  Cache[K, V]
	loader func(ctx context.Context, key K) (V, error)
}

// NewReadThrough wraps cache with loader as the miss path.
func NewReadThrough[K ~string, V any](cache Cache[K, V], loader func(ctx context.Context, key K) (V, error)) *ReadThrough[K, V] {
	return &ReadThrough[K, V]{cache: cache, loader: loader}
}

func (r *ReadThrough[K, V]) Get(ctx context.Context, key K, ttl time.Duration) (V, error) {
	if value, ok := r.cache.Get(ctx, key); ok {
		return value, nil
	}
	value, err := r.loader(ctx, key)
	if err != nil {
		return value, err
	}
	r.cache.Set(ctx, key, value, ttl)
	return value, nil
}
