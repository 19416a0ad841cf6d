package cache

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	layeredMetricsOnce sync.Once
	layeredLookups     *prometheus.CounterVec
)

func lookups() *prometheus.CounterVec {
	layeredMetricsOnce.Do(func() {
		layeredLookups = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "marketpulse_cache_lookups_total",
			Help: "Layered cache lookups by the layer that answered",
		}, []string{"layer"})
	})
	return layeredLookups
}

// LayeredCache keeps a short-lived memory copy in front of Redis. Writes go
// to Redis first; a memory entry never outlives the Redis one.
type LayeredCache struct {
	mem    *MemoryCache
	redis  *RedisCache
	memTTL time.Duration
	hits   *prometheus.CounterVec
}

func NewLayeredCache(redisCache *RedisCache, opts ...LayeredOption) *LayeredCache {
	cfg := &LayeredConfig{
		MemoryMaxSize: 1000,
		MemoryTTL:     time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &LayeredCache{
		mem:    NewMemoryCache(WithMemoryMaxSize(cfg.MemoryMaxSize)),
		redis:  redisCache,
		memTTL: cfg.MemoryTTL,
		hits:   lookups(),
	}
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := lc.redis.Set(ctx, key, value, expiration); err != nil {
		return err
	}
	_ = lc.mem.Set(ctx, key, value, lc.memoryTTL(expiration))
	return nil
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest interface{}) error {
	if err := lc.mem.Get(ctx, key, dest); err == nil {
		lc.hits.WithLabelValues("memory").Inc()
		return nil
	}
	if err := lc.redis.Get(ctx, key, dest); err != nil {
		lc.hits.WithLabelValues("miss").Inc()
		return err
	}
	lc.hits.WithLabelValues("redis").Inc()
	_ = lc.mem.Set(ctx, key, dest, lc.memTTL)
	return nil
}

func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	_ = lc.mem.Delete(ctx, keys...)
	return lc.redis.Delete(ctx, keys...)
}

func (lc *LayeredCache) DeleteByPattern(ctx context.Context, pattern string) error {
	_ = lc.mem.DeleteByPattern(ctx, pattern)
	return lc.redis.DeleteByPattern(ctx, pattern)
}

func (lc *LayeredCache) Exists(ctx context.Context, keys ...string) (bool, error) {
	if ok, _ := lc.mem.Exists(ctx, keys...); ok {
		return true, nil
	}
	return lc.redis.Exists(ctx, keys...)
}

func (lc *LayeredCache) memoryTTL(expiration time.Duration) time.Duration {
	if expiration > 0 && expiration < lc.memTTL {
		return expiration
	}
	return lc.memTTL
}

// Close stops the memory layer only. The Redis client is shared and closed
// by its owner.
func (lc *LayeredCache) Close() error {
	return lc.mem.Close()
}
