package cachemanager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache[string, string]("test", DefaultExpiration, DefaultCleanupInterval)
	ctx := context.Background()

	_, ok := c.Get(ctx, "missing")
	require.False(t, ok)

	c.Set(ctx, "k", "v", time.Minute)
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	require.Equal(t, "v", got)

	c.Delete(ctx, "k")
	_, ok = c.Get(ctx, "k")
	require.False(t, ok)

	c.Set(ctx, "a", "1", time.Minute)
	c.Set(ctx, "b", "2", time.Minute)
	c.Flush(ctx)
	_, ok = c.Get(ctx, "a")
	require.False(t, ok)
}

func TestReadThroughLoadsOnMissThenServesFromCache(t *testing.T) {
	loads := 0
	rt := NewReadThrough[string, string](
		NewMemoryCache[string, string]("test", DefaultExpiration, DefaultCleanupInterval),
		func(ctx context.Context, key string) (string, error) {
			loads++
			return "content-" + key, nil
		},
	)
	ctx := context.Background()

	got, err := rt.Get(ctx, "abc", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "content-abc", got)

	got, err = rt.Get(ctx, "abc", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "content-abc", got)
	require.Equal(t, 1, loads)
}

func TestReadThroughDoesNotCacheLoaderErrors(t *testing.T) {
	boom := errors.New("fetch failed")
	fail := true
	rt := NewReadThrough[string, string](
		NewMemoryCache[string, string]("test", DefaultExpiration, DefaultCleanupInterval),
		func(ctx context.Context, key string) (string, error) {
			if fail {
				return "", boom
			}
			return "ok", nil
		},
	)
	ctx := context.Background()

	_, err := rt.Get(ctx, "k", time.Minute)
	require.ErrorIs(t, err, boom)

	fail = false
	got, err := rt.Get(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "ok", got)
}
