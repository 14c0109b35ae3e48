package config

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/brandrag/internal/docstore"
)

type fakeStore struct {
	mu    sync.Mutex
	cfg   SystemConfig
	err   error
	panic bool
	reads int
}

func (f *fakeStore) Read(context.Context) (SystemConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.panic {
		panic("store exploded")
	}
	return f.cfg, f.err
}

func (f *fakeStore) set(cfg SystemConfig, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg, f.err = cfg, err
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestConfigCacheServesWithinTTL(t *testing.T) {
	stored := DefaultSystemConfig()
	stored.RateLimiting.Enabled = true
	store := &fakeStore{cfg: stored}
	clk := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewConfigCache(store, zaptest.NewLogger(t), WithClock(clk.now))
	ctx := context.Background()

	assert.True(t, cache.Load(ctx).RateLimiting.Enabled)
	clk.advance(4 * time.Minute)
	assert.True(t, cache.Load(ctx).RateLimiting.Enabled)
	assert.Equal(t, 1, store.reads)

	changed := stored
	changed.RateLimiting.Enabled = false
	store.set(changed, nil)
	clk.advance(2 * time.Minute)
	assert.False(t, cache.Load(ctx).RateLimiting.Enabled)
	assert.Equal(t, 2, store.reads)
}

func TestConfigCacheMissingRecordCachesDefaults(t *testing.T) {
	store := &fakeStore{err: ErrConfigNotFound}
	cache := NewConfigCache(store, zaptest.NewLogger(t))
	ctx := context.Background()

	cfg := cache.Load(ctx)
	assert.Equal(t, DefaultSystemConfig(), cfg)
	assert.False(t, cfg.RateLimiting.Enabled)
	assert.True(t, cfg.VectorCleanup.Enabled)
	assert.Equal(t, 90, cfg.VectorCleanup.RetentionDays)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 1536, cfg.Embedding.Dimensions)

	cache.Load(ctx)
	assert.Equal(t, 1, store.reads, "defaults are cached like a real record")
	assert.False(t, cache.LoadedAt().IsZero())
}

func TestConfigCacheStoreErrorDoesNotResetTTL(t *testing.T) {
	stored := DefaultSystemConfig()
	stored.RateLimiting.Enabled = true
	store := &fakeStore{cfg: stored}
	clk := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	cache := NewConfigCache(store, zaptest.NewLogger(t), WithClock(clk.now))
	ctx := context.Background()

	cache.Load(ctx)
	loadedAt := cache.LoadedAt()

	clk.advance(ConfigCacheTTL)
	store.set(SystemConfig{}, errors.New("connection refused"))

	cfg := cache.Load(ctx)
	assert.Equal(t, DegradedSystemConfig(), cfg)
	assert.Equal(t, loadedAt, cache.LoadedAt())

	// every call retries while the store is down
	cache.Load(ctx)
	assert.Equal(t, 3, store.reads)
	assert.Error(t, cache.EnsureFresh(ctx))

	store.set(stored, nil)
	assert.NoError(t, cache.EnsureFresh(ctx))
	assert.True(t, cache.Load(ctx).RateLimiting.Enabled)
}

func TestConfigCachePanickingStoreDegrades(t *testing.T) {
	cache := NewConfigCache(&fakeStore{panic: true}, zaptest.NewLogger(t))
	assert.Equal(t, DegradedSystemConfig(), cache.Load(context.Background()))
}

func TestConfigCacheInvalidate(t *testing.T) {
	store := &fakeStore{cfg: DefaultSystemConfig()}
	cache := NewConfigCache(store, zaptest.NewLogger(t))
	ctx := context.Background()

	cache.Load(ctx)
	cache.Invalidate()
	cache.Load(ctx)
	assert.Equal(t, 2, store.reads)
}

func TestConfigCacheNilStore(t *testing.T) {
	cache := NewConfigCache(nil, nil)
	assert.Equal(t, DefaultSystemConfig(), cache.Load(context.Background()))
}

func TestConfigCacheConcurrentLoads(t *testing.T) {
	store := &fakeStore{cfg: DefaultSystemConfig()}
	cache := NewConfigCache(store, zaptest.NewLogger(t), WithTTL(time.Nanosecond))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, DefaultSystemConfig(), cache.Load(ctx))
		}()
	}
	wg.Wait()
}

func TestDocStoreReadsRecordOverDefaults(t *testing.T) {
	ctx := context.Background()
	docs := docstore.NewMemoryStore()
	store := NewDocStore(docs)

	_, err := store.Read(ctx)
	assert.ErrorIs(t, err, ErrConfigNotFound)

	require.NoError(t, docs.Set(ctx, SystemConfigRef, map[string]interface{}{
		"vectorCleanup": map[string]interface{}{"retentionDays": 30},
	}))
	cfg, err := store.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.VectorCleanup.RetentionDays)
	assert.Equal(t, 0.3, cfg.VectorCleanup.MinPerformanceThreshold)
	assert.True(t, cfg.VectorCleanup.Enabled)
}

func TestConfigCacheReturnsReadValueWhenItExpiresImmediately(t *testing.T) {
	stored := DefaultSystemConfig()
	stored.RateLimiting.Enabled = true
	store := &fakeStore{cfg: stored}

	var mu sync.Mutex
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	slowClock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(ConfigCacheTTL)
		return now
	}
	cache := NewConfigCache(store, zaptest.NewLogger(t), WithClock(slowClock))

	cfg := cache.Load(context.Background())
	assert.Equal(t, stored, cfg)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 1536, cfg.Embedding.Dimensions)
	assert.True(t, cfg.VectorCleanup.Enabled)
}

func TestConfigCacheInvalidateAfterReadKeepsValue(t *testing.T) {
	store := &fakeStore{err: ErrConfigNotFound}
	cache := NewConfigCache(store, zaptest.NewLogger(t))
	ctx := context.Background()

	require.Equal(t, DefaultSystemConfig(), cache.Load(ctx))
	cache.Invalidate()
	assert.Equal(t, DefaultSystemConfig(), cache.Load(ctx))
	assert.Equal(t, 2, store.reads)
}
