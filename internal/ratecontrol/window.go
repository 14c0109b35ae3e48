package ratecontrol

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	windowKeyPrefix = "ratecontrol:embed:"
	globalScope     = "global"
)

// RedisWindow counts reservations in fixed hour and day windows. Every reservation
// increments the user and global counters in one MULTI/EXEC; a reservation that
// crosses a ceiling is rolled back and denied.
type RedisWindow struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewRedisWindow creates a window counter on client
func NewRedisWindow(client redis.UniversalClient, logger *zap.Logger) *RedisWindow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisWindow{client: client, logger: logger}
}

// Ping checks the Redis connection
func (w *RedisWindow) Ping(ctx context.Context) error {
	return w.client.Ping(ctx).Err()
}

type windowCounter struct {
	key   string
	limit int
	ttl   time.Duration
	deny  func(count, limit int) string
}

func (w *RedisWindow) counters(userID string, now time.Time, limits Limits) []windowCounter {
	hourStart := now.UTC().Truncate(time.Hour).Unix()
	dayStart := now.UTC().Truncate(24 * time.Hour).Unix()
	key := func(scope, kind string, start int64) string {
		return fmt.Sprintf("%s%s:%s:%d", windowKeyPrefix, scope, kind, start)
	}
	return []windowCounter{
		{key(userID, "h", hourStart), limits.Hourly, 2 * time.Hour, hourlyReason},
		{key(userID, "d", dayStart), limits.Daily, 48 * time.Hour, dailyReason},
		{key(globalScope, "h", hourStart), limits.GlobalHourly, 2 * time.Hour, globalHourlyReason},
		{key(globalScope, "d", dayStart), limits.GlobalDaily, 48 * time.Hour, globalDailyReason},
	}
}

// Reserve claims one embedding for userID. A non-positive global ceiling is unlimited.
func (w *RedisWindow) Reserve(ctx context.Context, userID string, now time.Time, limits Limits) (Decision, error) {
	counters := w.counters(userID, now, limits)

	incrs := make([]*redis.IntCmd, len(counters))
	_, err := w.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, c := range counters {
			incrs[i] = pipe.Incr(ctx, c.key)
			pipe.Expire(ctx, c.key, c.ttl)
		}
		return nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("reserve rate window: %w", err)
	}

	for i, c := range counters {
		global := i >= 2
		if global && c.limit <= 0 {
			continue
		}
		val := int(incrs[i].Val())
		if val > c.limit {
			w.rollback(ctx, counters)
			return Decision{Reason: c.deny(val-1, c.limit)}, nil
		}
	}
	return allow(), nil
}

func (w *RedisWindow) rollback(ctx context.Context, counters []windowCounter) {
	if err := w.decrement(ctx, counters); err != nil {
		w.logger.Warn("Failed to roll back rate window", zap.Error(err))
	}
}

func (w *RedisWindow) decrement(ctx context.Context, counters []windowCounter) error {
	_, err := w.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, c := range counters {
			pipe.Decr(ctx, c.key)
		}
		return nil
	})
	return err
}

// Count returns the current hour and day counters for scope (a user ID or "global")
func (w *RedisWindow) Count(ctx context.Context, scope string, now time.Time) (hour, day int, err error) {
	cs := w.counters(scope, now, Limits{})
	vals, err := w.client.MGet(ctx, cs[0].key, cs[1].key).Result()
	if err != nil {
		return 0, 0, err
	}
	return asInt(vals[0]), asInt(vals[1]), nil
}

func asInt(v interface{}) int {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}

func globalHourlyReason(count, limit int) string {
	return fmt.Sprintf("Global rate limit exceeded: %d/%d embeddings used in the last hour", count, limit)
}

func globalDailyReason(count, limit int) string {
	return fmt.Sprintf("Global daily rate limit exceeded: %d/%d embeddings used in the last 24 hours", count, limit)
}
