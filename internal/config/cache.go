package config

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/brandrag/internal/metrics"
)

// ConfigCacheTTL is how long a loaded SystemConfig is served without re-reading the store
const ConfigCacheTTL = 5 * time.Minute

// ConfigCache keeps the last SystemConfig read from a Store.
//
// Concurrent refreshes are not coalesced: each stale caller reads the store and
// the last write wins. The mutex only guards the field swap.
type ConfigCache struct {
	store  Store
	logger *zap.Logger
	ttl    time.Duration
	now    func() time.Time

	mu       sync.RWMutex
	value    SystemConfig
	loadedAt time.Time
	loaded   bool
}

// CacheOption configures a ConfigCache
type CacheOption func(*ConfigCache)

// WithClock replaces time.Now
func WithClock(now func() time.Time) CacheOption {
	return func(c *ConfigCache) { c.now = now }
}

// WithTTL overrides ConfigCacheTTL
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *ConfigCache) { c.ttl = ttl }
}

// NewConfigCache creates a cache over store. A nil store always yields defaults.
func NewConfigCache(store Store, logger *zap.Logger, opts ...CacheOption) *ConfigCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &ConfigCache{
		store:  store,
		logger: logger,
		ttl:    ConfigCacheTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load returns the current SystemConfig. It never fails: a store error yields
// DegradedSystemConfig and leaves the cache stale so the next call retries.
func (c *ConfigCache) Load(ctx context.Context) SystemConfig {
	if cfg, ok := c.fresh(); ok {
		metrics.ConfigCacheLoads.WithLabelValues("cache").Inc()
		return cfg
	}
	cfg, err := c.refresh(ctx)
	if err != nil {
		metrics.ConfigCacheLoads.WithLabelValues("degraded").Inc()
		c.logger.Warn("Config store unavailable, serving degraded defaults", zap.Error(err))
		return DegradedSystemConfig()
	}
	return cfg
}

// EnsureFresh re-reads the store if the cached value has expired and reports a store failure.
func (c *ConfigCache) EnsureFresh(ctx context.Context) error {
	if _, ok := c.fresh(); ok {
		return nil
	}
	_, err := c.refresh(ctx)
	return err
}

// Invalidate forces the next Load to read the store
func (c *ConfigCache) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.mu.Unlock()
}

// LoadedAt reports when the cached value was read; zero if nothing is cached
func (c *ConfigCache) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded {
		return time.Time{}
	}
	return c.loadedAt
}

func (c *ConfigCache) fresh() (SystemConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.loaded && c.now().Sub(c.loadedAt) < c.ttl {
		return c.value, true
	}
	return SystemConfig{}, false
}

// refresh reads the store without holding the lock and returns the value it cached
func (c *ConfigCache) refresh(ctx context.Context) (SystemConfig, error) {
	cfg, err := c.read(ctx)
	source := "store"
	switch {
	case errors.Is(err, ErrConfigNotFound):
		cfg, source = DefaultSystemConfig(), "default"
		c.logger.Info("No system config record, using defaults")
	case err != nil:
		return SystemConfig{}, err
	}

	c.mu.Lock()
	c.value = cfg
	c.loadedAt = c.now()
	c.loaded = true
	c.mu.Unlock()

	metrics.ConfigCacheLoads.WithLabelValues(source).Inc()
	return cfg, nil
}

func (c *ConfigCache) read(ctx context.Context) (cfg SystemConfig, err error) {
	if c.store == nil {
		return SystemConfig{}, ErrConfigNotFound
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("config store panic: %v", r)
		}
	}()
	return c.store.Read(ctx)
}
