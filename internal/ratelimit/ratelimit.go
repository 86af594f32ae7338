// Package ratelimit implements a Redis-backed sliding window over
// send_message events, keyed by sender. The websocket channel has no status
// codes to return, so a limited send is simply dropped and counted.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Limiter enforces a per-sender message budget within a rolling window.
// A nil Limiter allows everything, so callers don't need to special-case
// deployments without Redis.
type Limiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	logger zerolog.Logger
}

// New creates a limiter allowing limit sends per window for each sender.
func New(client *redis.Client, limit int, window time.Duration, logger zerolog.Logger) *Limiter {
	return &Limiter{client: client, limit: limit, window: window, logger: logger}
}

// Allow checks and consumes one send for user. Redis failures fail open:
// losing rate limiting is better than losing messages.
func (l *Limiter) Allow(ctx context.Context, user string) bool {
	if l == nil || l.client == nil || l.limit <= 0 {
		return true
	}

	now := time.Now()
	windowStart := now.Add(-l.window)
	key := fmt.Sprintf("ratelimit:send:%s", user)

	pipe := l.client.Pipeline()

	// Remove old entries outside window
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", windowStart.UnixMilli()))

	// Count current entries
	countCmd := pipe.ZCard(ctx, key)

	// Add current send with unique member. Recorded even when the send ends
	// up rejected, so a sender flooding past the limit keeps their own window
	// full and stays blocked until they actually slow down.
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})

	// Set TTL on key
	pipe.Expire(ctx, key, l.window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn().Err(err).Str("user", user).Msg("rate limit check failed, allowing send")
		return true
	}

	allowed := countCmd.Val() < int64(l.limit)
	if !allowed {
		l.logger.Warn().
			Str("user", user).
			Int("limit", l.limit).
			Dur("window", l.window).
			Msg("send rate limit exceeded")
	}
	return allowed
}
