// Package cachemanager provides TTL caches used to avoid refetching
// immutable remote content, plus a read-through wrapper around a loader.
package cachemanager

import (
	"context"
	"time"
)

// Cache is a TTL key/value store. Implementations must be safe for
// concurrent use.
type Cache[K ~string, V any] interface {
	Get(ctx context.Context, key K) (V, bool)
	Set(ctx context.Context, key K, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...K)
	Flush(ctx context.Context)
}
