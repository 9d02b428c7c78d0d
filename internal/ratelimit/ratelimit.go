// Package ratelimit implements the agent-channel call-rate ceiling: ten
// requests per minute per control token, enforced with a Redis
// INCR-then-EXPIRE counter per fixed one-minute window.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tbcp-io/tbcp/types"
)

// DefaultLimit is the fixed ceiling spec §6 names for the agent channel:
// ten requests per minute per control token.
const DefaultLimit = 10

const window = time.Minute

// Limiter enforces a fixed-window per-key request ceiling in Redis.
type Limiter struct {
	client *redis.Client
	limit  int64
	logger *zap.Logger
}

// NewLimiter builds a Limiter against an already-connected client. limit
// <= 0 defaults to DefaultLimit.
func NewLimiter(client *redis.Client, limit int64, logger *zap.Logger) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{client: client, limit: limit, logger: logger.With(zap.String("component", "ratelimit"))}
}

// Allow increments key's counter for the current one-minute window,
// setting its expiry only on the window's first hit so the window doesn't
// drift forward on every call, then reports whether the ceiling was
// exceeded. A Redis outage surfaces as rate-limited rather than silently
// allowing unbounded traffic — refusing to serve is the safer failure mode
// for a ceiling that exists to protect upstream provider spend.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("tbcp:ratelimit:%s", key)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		l.logger.Error("rate limit counter increment failed", zap.Error(err))
		return false, types.RateLimited("rate limit backend unavailable").WithCause(err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, window).Err(); err != nil {
			l.logger.Error("rate limit expiry set failed", zap.Error(err))
		}
	}

	return count <= l.limit, nil
}

// CheckAndRefuse is Allow wrapped to return a ready-to-propagate
// rate-limited domain error instead of a bool, for callers that want the
// one-line form.
func (l *Limiter) CheckAndRefuse(ctx context.Context, key string) error {
	allowed, err := l.Allow(ctx, key)
	if err != nil {
		return err
	}
	if !allowed {
		return types.RateLimited("rate limit exceeded")
	}
	return nil
}
