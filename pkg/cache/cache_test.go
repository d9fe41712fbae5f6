package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runEntry struct {
	Zone  string `json:"zone"`
	Entry int    `json:"entry"`
}

func newMemory(t *testing.T, opts ...MemoryOption) *MemoryCache {
	t.Helper()
	mc := NewMemoryCache(opts...)
	t.Cleanup(func() { _ = mc.Close() })
	return mc
}

func TestMemoryTypedRoundTrip(t *testing.T) {
	ctx := context.Background()
	mc := newMemory(t)

	require.NoError(t, mc.Set(ctx, "zone_run:1", runEntry{Zone: "GREEN", Entry: 72}, time.Minute))
	var got runEntry
	require.NoError(t, mc.Get(ctx, "zone_run:1", &got))
	assert.Equal(t, runEntry{Zone: "GREEN", Entry: 72}, got)

	require.NoError(t, mc.Set(ctx, "raw", "plain", 0))
	var s string
	require.NoError(t, mc.Get(ctx, "raw", &s))
	assert.Equal(t, "plain", s)

	require.NoError(t, mc.Delete(ctx, "zone_run:1", "raw"))
	assert.True(t, errors.Is(mc.Get(ctx, "zone_run:1", &got), ErrCacheMiss))
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	mc := newMemory(t, WithMemoryDefaultTTL(time.Hour))
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }

	require.NoError(t, mc.Set(ctx, "k", 1, time.Second))
	require.NoError(t, mc.Set(ctx, "d", 1, 0))
	now = now.Add(2 * time.Second)

	var v int
	assert.True(t, errors.Is(mc.Get(ctx, "k", &v), ErrCacheMiss))
	ok, err := mc.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _ = mc.Exists(ctx, "d")
	assert.True(t, ok, "default ttl applies to zero expiration")
	now = now.Add(time.Hour)
	ok, _ = mc.Exists(ctx, "d")
	assert.False(t, ok)
}

func TestMemoryLeaseOwnership(t *testing.T) {
	ctx := context.Background()
	mc := newMemory(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { return now }

	first, ok, err := mc.TryLock(ctx, "lease", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, first)

	_, ok, _ = mc.TryLock(ctx, "lease", time.Minute)
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	second, ok, _ := mc.TryLock(ctx, "lease", time.Minute)
	require.True(t, ok, "expired lease can be retaken")
	assert.NotEqual(t, first, second)

	assert.True(t, errors.Is(mc.Unlock(ctx, "lease", first), ErrLockNotHeld), "stale owner cannot release")
	held, _ := mc.Exists(ctx, "lease")
	assert.True(t, held)

	require.NoError(t, mc.Unlock(ctx, "lease", second))
	require.NoError(t, mc.Unlock(ctx, "lease", second), "releasing a gone lease is a no-op")
	_, ok, _ = mc.TryLock(ctx, "lease", time.Minute)
	assert.True(t, ok)
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	mc := newMemory(t, WithMemoryMaxSize(2))
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mc.now = func() time.Time { now = now.Add(time.Millisecond); return now }

	require.NoError(t, mc.Set(ctx, "a", 1, 0))
	require.NoError(t, mc.Set(ctx, "b", 2, 0))
	var v int
	require.NoError(t, mc.Get(ctx, "a", &v))
	require.NoError(t, mc.Set(ctx, "c", 3, 0))

	assert.Equal(t, 2, mc.Len())
	assert.True(t, errors.Is(mc.Get(ctx, "b", &v), ErrCacheMiss))
	require.NoError(t, mc.Get(ctx, "a", &v))
	assert.Equal(t, 1, v)
}

func TestLayeredLocalExpiryIsCapped(t *testing.T) {
	lc := &LayeredCache{localTTL: 30 * time.Second}
	assert.Equal(t, 30*time.Second, lc.localExpiry(0))
	assert.Equal(t, 30*time.Second, lc.localExpiry(24*time.Hour))
	assert.Equal(t, 5*time.Second, lc.localExpiry(5*time.Second))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "poll_lease:crypto:7", Key("poll_lease", "crypto", 7))
	assert.Equal(t, "zone_run:7", Key("zone_run", int64(7)))
	assert.Equal(t, "plain", Key("plain"))
}
