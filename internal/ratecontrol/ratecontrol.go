// Package ratecontrol enforces per-user embedding quotas over hourly and daily windows.
package ratecontrol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/brandrag/internal/config"
	"github.com/Kocoro-lab/brandrag/internal/docstore"
	"github.com/Kocoro-lab/brandrag/internal/metrics"
)

// Decision is the outcome of a quota check; Reason is set only when denied
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

// Counter counts a user's vectors created at or after since
type Counter interface {
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// ConfigSource yields the current SystemConfig
type ConfigSource interface {
	Load(ctx context.Context) config.SystemConfig
}

// Override replaces the per-user ceilings when Enabled. A nil field keeps the configured value.
type Override struct {
	Enabled              bool `json:"enabled"`
	MaxEmbeddingsPerHour *int `json:"maxEmbeddingsPerHour,omitempty"`
	MaxEmbeddingsPerDay  *int `json:"maxEmbeddingsPerDay,omitempty"`
}

// OverrideRef locates a user's override record
func OverrideRef(userID string) docstore.Ref {
	return docstore.Ref{Collection: "users/" + userID + "/settings", ID: "rateLimits"}
}

// Limits are the effective ceilings for one user
type Limits struct {
	Hourly       int
	Daily        int
	GlobalHourly int
	GlobalDaily  int
}

// ResolveLimits applies an enabled override over the configured ceilings
func ResolveLimits(cfg config.RateLimitingConfig, ov *Override) Limits {
	l := Limits{
		Hourly:       cfg.UserMaxPerHour,
		Daily:        cfg.UserMaxPerDay,
		GlobalHourly: cfg.GlobalMaxPerHour,
		GlobalDaily:  cfg.GlobalMaxPerDay,
	}
	if ov == nil || !ov.Enabled {
		return l
	}
	if ov.MaxEmbeddingsPerHour != nil {
		l.Hourly = *ov.MaxEmbeddingsPerHour
	}
	if ov.MaxEmbeddingsPerDay != nil {
		l.Daily = *ov.MaxEmbeddingsPerDay
	}
	return l
}

func hourlyReason(count, limit int) string {
	return fmt.Sprintf("Rate limit exceeded: %d/%d embeddings used in the last hour", count, limit)
}

func dailyReason(count, limit int) string {
	return fmt.Sprintf("Daily rate limit exceeded: %d/%d embeddings used in the last 24 hours", count, limit)
}

// Limiter decides whether a user may create another embedding
type Limiter struct {
	source  ConfigSource
	counter Counter
	docs    docstore.Store
	window  *RedisWindow
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Limiter
type Option func(*Limiter)

// WithWindow makes Reserve count atomically in Redis
func WithWindow(w *RedisWindow) Option {
	return func(l *Limiter) { l.window = w }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a limiter. docs holds the per-user override records and may be nil.
func NewLimiter(source ConfigSource, counter Counter, docs docstore.Store, logger *zap.Logger, opts ...Option) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Limiter{source: source, counter: counter, docs: docs, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckRateLimit counts the user's recent vectors against the hourly then the daily ceiling.
// Any failure while checking allows the request.
func (l *Limiter) CheckRateLimit(ctx context.Context, userID string) (d Decision) {
	defer l.failOpen(userID, &d)

	cfg := l.source.Load(ctx).RateLimiting
	if !cfg.Enabled {
		return allow()
	}
	limits := ResolveLimits(cfg, l.loadOverride(ctx, userID))
	return l.counted(ctx, userID, limits)
}

// Reserve is CheckRateLimit for a write that is about to happen. With a Redis window it
// also claims one unit of quota atomically; a Redis failure falls back to counting.
func (l *Limiter) Reserve(ctx context.Context, userID string) (d Decision) {
	defer l.failOpen(userID, &d)

	cfg := l.source.Load(ctx).RateLimiting
	if !cfg.Enabled {
		return allow()
	}
	limits := ResolveLimits(cfg, l.loadOverride(ctx, userID))

	if l.window != nil {
		d, err := l.window.Reserve(ctx, userID, l.now(), limits)
		if err == nil {
			return l.record(d)
		}
		l.logger.Warn("Rate window unavailable, counting stored vectors",
			zap.String("user_id", userID), zap.Error(err))
	}
	return l.counted(ctx, userID, limits)
}

func (l *Limiter) counted(ctx context.Context, userID string, limits Limits) Decision {
	d, err := l.countCheck(ctx, userID, limits)
	if err != nil {
		l.logger.Error("Rate limit check failed, allowing request", zap.String("user_id", userID), zap.Error(err))
		metrics.RecordRateLimitDecision(true, "error")
		return allow()
	}
	return l.record(d)
}

func (l *Limiter) countCheck(ctx context.Context, userID string, limits Limits) (Decision, error) {
	now := l.now()

	hourly, err := l.counter.CountCreatedSince(ctx, userID, now.Add(-time.Hour))
	if err != nil {
		return Decision{}, fmt.Errorf("count hourly vectors: %w", err)
	}
	if hourly >= limits.Hourly {
		return Decision{Reason: hourlyReason(hourly, limits.Hourly)}, nil
	}

	daily, err := l.counter.CountCreatedSince(ctx, userID, now.Add(-24*time.Hour))
	if err != nil {
		return Decision{}, fmt.Errorf("count daily vectors: %w", err)
	}
	if daily >= limits.Daily {
		return Decision{Reason: dailyReason(daily, limits.Daily)}, nil
	}
	return allow(), nil
}

// failOpen turns a panic in a collaborator into an allowed decision
func (l *Limiter) failOpen(userID string, d *Decision) {
	if r := recover(); r != nil {
		l.logger.Error("Rate limit check panicked, allowing request", zap.String("user_id", userID), zap.Any("panic", r))
		metrics.RecordRateLimitDecision(true, "error")
		*d = allow()
	}
}

func (l *Limiter) record(d Decision) Decision {
	reason := "ok"
	if !d.Allowed {
		reason = "quota"
	}
	metrics.RecordRateLimitDecision(d.Allowed, reason)
	return d
}

// loadOverride returns nil when the record is absent or unreadable
func (l *Limiter) loadOverride(ctx context.Context, userID string) *Override {
	if l.docs == nil {
		return nil
	}
	doc, err := l.docs.Get(ctx, OverrideRef(userID))
	if err != nil {
		if !errors.Is(err, docstore.ErrNotFound) {
			l.logger.Warn("Failed to read rate limit override", zap.String("user_id", userID), zap.Error(err))
		}
		return nil
	}
	ov, err := decodeOverride(doc.Data)
	if err != nil {
		l.logger.Warn("Ignoring malformed rate limit override", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return ov
}

func decodeOverride(data map[string]interface{}) (*Override, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var ov Override
	if err := json.Unmarshal(raw, &ov); err != nil {
		return nil, err
	}
	return &ov, nil
}
