package health

import (
	"context"
	"time"

	"github.com/Kocoro-lab/brandrag/internal/circuitbreaker"
	"github.com/Kocoro-lab/brandrag/internal/config"
)

// Pinger is anything with a context-aware liveness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker checks a dependency by pinging it. An optional breaker probe reports an
// open circuit without touching the dependency.
type PingChecker struct {
	name        string
	target      Pinger
	critical    bool
	timeout     time.Duration
	breakerOpen func() bool
	slow        time.Duration
}

// NewPingChecker creates a checker named name for target
func NewPingChecker(name string, target Pinger, critical bool, breakerOpen func() bool) *PingChecker {
	return &PingChecker{
		name:        name,
		target:      target,
		critical:    critical,
		timeout:     5 * time.Second,
		breakerOpen: breakerOpen,
		slow:        250 * time.Millisecond,
	}
}

func (p *PingChecker) Name() string           { return p.name }
func (p *PingChecker) IsCritical() bool       { return p.critical }
func (p *PingChecker) Timeout() time.Duration { return p.timeout }

func (p *PingChecker) Check(ctx context.Context) CheckResult {
	if p.breakerOpen != nil && p.breakerOpen() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   "circuit breaker open",
			Message: p.name + " circuit breaker is open",
		}
	}

	start := time.Now()
	err := p.target.Ping(ctx)
	latency := time.Since(start)
	details := map[string]interface{}{"latency_ms": latency.Milliseconds()}
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: p.name + " ping failed", Details: details}
	}
	if latency > p.slow {
		return CheckResult{Status: StatusDegraded, Message: p.name + " responding with high latency", Details: details}
	}
	return CheckResult{Status: StatusHealthy, Message: p.name + " healthy", Details: details}
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// BreakerChecker reports open circuit breakers known to the collector. It is non-critical:
// every guarded dependency has a degraded mode.
type BreakerChecker struct {
	collector *circuitbreaker.MetricsCollector
}

// NewBreakerChecker creates a checker over collector
func NewBreakerChecker(collector *circuitbreaker.MetricsCollector) *BreakerChecker {
	return &BreakerChecker{collector: collector}
}

func (b *BreakerChecker) Name() string           { return "circuit_breakers" }
func (b *BreakerChecker) IsCritical() bool       { return false }
func (b *BreakerChecker) Timeout() time.Duration { return time.Second }

func (b *BreakerChecker) Check(context.Context) CheckResult {
	details := map[string]interface{}{}
	open := 0
	for name, state := range b.collector.Snapshot() {
		details[name] = state.String()
		if state == circuitbreaker.StateOpen {
			open++
		}
	}
	if open > 0 {
		return CheckResult{Status: StatusDegraded, Message: "circuit breaker open", Details: details}
	}
	return CheckResult{Status: StatusHealthy, Details: details}
}

// ConfigChecker reports when the system config has not been read successfully for
// longer than twice the cache TTL, which means callers are served defaults.
type ConfigChecker struct {
	cache *config.ConfigCache
	now   func() time.Time
}

// NewConfigChecker creates a checker over cache
func NewConfigChecker(cache *config.ConfigCache) *ConfigChecker {
	return &ConfigChecker{cache: cache, now: time.Now}
}

func (c *ConfigChecker) Name() string           { return "system_config" }
func (c *ConfigChecker) IsCritical() bool       { return false }
func (c *ConfigChecker) Timeout() time.Duration { return 5 * time.Second }

func (c *ConfigChecker) Check(ctx context.Context) CheckResult {
	if err := c.cache.EnsureFresh(ctx); err != nil {
		loaded := c.cache.LoadedAt()
		if loaded.IsZero() || c.now().Sub(loaded) > 2*config.ConfigCacheTTL {
			return CheckResult{Status: StatusDegraded, Error: err.Error(), Message: "serving default system config"}
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Details: map[string]interface{}{"loaded_at": c.cache.LoadedAt()},
	}
}
