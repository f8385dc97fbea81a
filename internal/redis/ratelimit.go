package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// AttemptLimitConfig caps booking attempts per tenant per window. A tenant
// whose traffic spikes (a popular slot going live, or a misbehaving bot on
// a LINE channel) gets throttled before it can monopolize the lock table.
type AttemptLimitConfig struct {
	Limit  int           // max attempts allowed per tenant
	Window time.Duration // sliding window length
}

// AttemptResult is the outcome of a limiter check.
type AttemptResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// AttemptLimiter implements sliding-window limiting with Redis sorted
// sets, one set per tenant.
type AttemptLimiter struct {
	client *Client
	logger *zap.Logger
	config AttemptLimitConfig
}

// NewAttemptLimiter creates a limiter with the given configuration.
func NewAttemptLimiter(client *Client, logger *zap.Logger, config AttemptLimitConfig) *AttemptLimiter {
	return &AttemptLimiter{
		client: client,
		logger: logger,
		config: config,
	}
}

// Allow records one booking attempt for the tenant and reports whether it
// is within the limit.
func (l *AttemptLimiter) Allow(ctx context.Context, tenantID int64) (*AttemptResult, error) {
	now := time.Now()
	windowStart := now.Add(-l.config.Window)
	resetAt := now.Add(l.config.Window)

	key := "attempts:tenant:" + strconv.FormatInt(tenantID, 10)

	// Trim expired entries and count the live window in one round trip.
	pipe := l.client.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixNano(), 10))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis pipeline failed: %w", err)
	}

	current := int(countCmd.Val())
	if current >= l.config.Limit {
		l.logger.Debug("tenant attempt limit exceeded",
			zap.Int64("tenant_id", tenantID),
			zap.Int("current", current),
			zap.Int("limit", l.config.Limit),
		)
		return &AttemptResult{
			Allowed:   false,
			Remaining: 0,
			ResetAt:   resetAt,
		}, nil
	}

	member := fmt.Sprintf("%d", now.UnixNano())
	pipe2 := l.client.rdb.Pipeline()
	pipe2.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe2.Expire(ctx, key, l.config.Window+time.Second)
	if _, err := pipe2.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis zadd failed: %w", err)
	}

	return &AttemptResult{
		Allowed:   true,
		Remaining: l.config.Limit - current - 1,
		ResetAt:   resetAt,
	}, nil
}
