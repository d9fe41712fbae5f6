package cache

import (
	"context"
	"time"
)

const defaultLocalTTL = 30 * time.Second

// LayeredOption configures LayeredCache.
type LayeredOption func(*layeredConfig)

type layeredConfig struct {
	size     int
	localTTL time.Duration
}

// WithLayeredMemorySize bounds the process-local layer.
func WithLayeredMemorySize(size int) LayeredOption {
	return func(c *layeredConfig) { c.size = size }
}

// WithLayeredLocalTTL caps how long a value lives in the process-local layer.
// Deletes issued by other processes only reach Redis, so this bounds how
// long another process can see a removed value.
func WithLayeredLocalTTL(ttl time.Duration) LayeredOption {
	return func(c *layeredConfig) {
		if ttl > 0 {
			c.localTTL = ttl
		}
	}
}

// LayeredCache keeps a short-lived process-local copy in front of Redis.
// Leases and existence checks always go to Redis.
type LayeredCache struct {
	local    *MemoryCache
	remote   *RedisCache
	localTTL time.Duration
}

func NewLayeredCache(remote *RedisCache, opts ...LayeredOption) *LayeredCache {
	cfg := &layeredConfig{size: 1000, localTTL: defaultLocalTTL}
	for _, opt := range opts {
		opt(cfg)
	}
	return &LayeredCache{
		local:    NewMemoryCache(WithMemoryMaxSize(cfg.size), WithMemoryDefaultTTL(cfg.localTTL)),
		remote:   remote,
		localTTL: cfg.localTTL,
	}
}

func (lc *LayeredCache) localExpiry(expiration time.Duration) time.Duration {
	if expiration <= 0 || expiration > lc.localTTL {
		return lc.localTTL
	}
	return expiration
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := lc.remote.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	_ = lc.local.Set(ctx, key, value, lc.localExpiry(expiration))
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	var raw []byte
	if err := lc.local.Get(ctx, key, &raw); err == nil {
		return decodeValue(raw, dest)
	}
	if err := lc.remote.Get(ctx, key, &raw); err != nil {
		return err
	}
	_ = lc.local.Set(ctx, key, raw, lc.localTTL)
	return decodeValue(raw, dest)
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.local.Delete(ctx, keys...)
	return lc.remote.Delete(ctx, keys...)
}

func (lc *LayeredCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	return lc.remote.Exists(ctx, keys...)
}

func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	return lc.remote.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key, token string) error {
	return lc.remote.Unlock(ctx, key, token)
}

// Close closes both layers.
func (lc *LayeredCache) Close() error {
	_ = lc.local.Close()
	return lc.remote.Close()
}
