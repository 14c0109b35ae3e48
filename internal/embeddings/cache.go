package embeddings

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/brandrag/internal/circuitbreaker"
	"github.com/Kocoro-lab/brandrag/internal/metrics"
)

// maxLocalTTL bounds how long an entry may live in process memory
const maxLocalTTL = 30 * time.Minute

// Cache stores vectors by key
type Cache interface {
	Get(ctx context.Context, key string) ([]float32, bool)
	Set(ctx context.Context, key string, v []float32, ttl time.Duration)
}

type localEntry struct {
	vec []float32
	exp time.Time
}

// LocalCache is an in-process LRU; each entry also carries its own expiry
type LocalCache struct {
	lru *expirable.LRU[string, localEntry]
}

// NewLocalCache creates an LRU holding at most size vectors
func NewLocalCache(size int) *LocalCache {
	if size <= 0 {
		size = 1024
	}
	return &LocalCache{lru: expirable.NewLRU[string, localEntry](size, nil, maxLocalTTL)}
}

func (l *LocalCache) Get(_ context.Context, key string) ([]float32, bool) {
	ent, ok := l.lru.Get(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(ent.exp) {
		l.lru.Remove(key)
		return nil, false
	}
	return ent.vec, true
}

func (l *LocalCache) Set(_ context.Context, key string, v []float32, ttl time.Duration) {
	if ttl <= 0 || ttl > maxLocalTTL {
		ttl = maxLocalTTL
	}
	l.lru.Add(key, localEntry{vec: v, exp: time.Now().Add(ttl)})
}

// Len returns the number of cached entries
func (l *LocalCache) Len() int { return l.lru.Len() }

// RedisCache stores vectors as little-endian float32 bytes behind the Redis circuit breaker
type RedisCache struct {
	cli    *circuitbreaker.RedisWrapper
	logger *zap.Logger
}

// NewRedisCache wraps client and pings it once
func NewRedisCache(ctx context.Context, client *redis.Client, logger *zap.Logger) (*RedisCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	wrapper := circuitbreaker.NewRedisWrapper(client, "embedding-cache", logger)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := wrapper.Ping(pingCtx); err != nil {
		return nil, err
	}
	return &RedisCache{cli: wrapper, logger: logger}, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) ([]float32, bool) {
	b, err := r.cli.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Debug("Embedding cache read failed", zap.Error(err))
		}
		return nil, false
	}
	return decodeVector(b)
}

func (r *RedisCache) Set(ctx context.Context, key string, v []float32, ttl time.Duration) {
	if err := r.cli.Set(ctx, key, encodeVector(v), ttl); err != nil {
		r.logger.Debug("Embedding cache write failed", zap.Error(err))
	}
}

func (r *RedisCache) Ping(ctx context.Context) error { return r.cli.Ping(ctx) }

// BreakerOpen reports whether the Redis circuit breaker is rejecting calls
func (r *RedisCache) BreakerOpen() bool { return r.cli.IsCircuitBreakerOpen() }

func encodeVector(v []float32) []byte {
	b := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

func decodeVector(b []byte) ([]float32, bool) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, false
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, true
}

// MakeKey derives the cache key for model and text
func MakeKey(model, text string) string {
	h := md5.Sum([]byte(model + "|" + text))
	return "emb:" + hex.EncodeToString(h[:])
}

// CachedClient consults the local then the shared cache before calling next.
// performance.cacheEnabled and performance.cacheTTLSeconds are read on every call.
type CachedClient struct {
	next   Client
	local  *LocalCache
	shared Cache
	source ConfigSource
}

// NewCachedClient decorates next. shared and source may be nil.
func NewCachedClient(next Client, local *LocalCache, shared Cache, source ConfigSource) *CachedClient {
	if local == nil {
		local = NewLocalCache(0)
	}
	return &CachedClient{next: next, local: local, shared: shared, source: source}
}

func (c *CachedClient) settings(ctx context.Context) (bool, time.Duration) {
	if c.source == nil {
		return true, time.Hour
	}
	perf := c.source.Load(ctx).Performance
	ttl := time.Duration(perf.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	return perf.CacheEnabled, ttl
}

// Embed returns a cached vector when available
func (c *CachedClient) Embed(ctx context.Context, text, model string) ([]float32, error) {
	v, _, err := c.Lookup(ctx, text, model)
	return v, err
}

// Lookup is Embed that also reports whether the vector was served from a cache
func (c *CachedClient) Lookup(ctx context.Context, text, model string) ([]float32, bool, error) {
	enabled, ttl := c.settings(ctx)
	if !enabled {
		v, err := c.next.Embed(ctx, text, model)
		return v, false, err
	}

	key := MakeKey(model, text)
	if v, ok := c.local.Get(ctx, key); ok {
		metrics.RecordCacheLookup("local", true)
		return v, true, nil
	}
	metrics.RecordCacheLookup("local", false)

	if c.shared != nil {
		v, ok := c.shared.Get(ctx, key)
		metrics.RecordCacheLookup("redis", ok)
		if ok {
			c.local.Set(ctx, key, v, ttl)
			return v, true, nil
		}
	}

	v, err := c.next.Embed(ctx, text, model)
	if err != nil {
		return nil, false, err
	}
	c.local.Set(ctx, key, v, ttl)
	if c.shared != nil {
		c.shared.Set(ctx, key, v, ttl)
	}
	return v, false, nil
}
