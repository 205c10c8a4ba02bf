package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ramiqadoumi/agentq/internal/domain"
)

// RateLimiter caps how many tasks may be dispatched to one agent type per window.
type RateLimiter interface {
	Allow(ctx context.Context, agentType domain.AgentType) (bool, error)
	Limit() int
}

type slidingWindowLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
}

// NewRateLimiter returns a Redis-backed sliding-window rate limiter.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration) RateLimiter {
	return &slidingWindowLimiter{client: client, limit: limit, window: window}
}

func (r *slidingWindowLimiter) Limit() int { return r.limit }

// Allow records one dispatch and reports whether it fits in the window.
// Members carry a random suffix so two dispatches in the same nanosecond
// are counted twice.
func (r *slidingWindowLimiter) Allow(ctx context.Context, agentType domain.AgentType) (bool, error) {
	now := time.Now().UnixNano()
	windowStart := now - r.window.Nanoseconds()
	rkey := "ratelimit:dispatch:" + string(agentType)

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, rkey, "0", strconv.FormatInt(windowStart, 10))
	pipe.ZAdd(ctx, rkey, redis.Z{Score: float64(now), Member: strconv.FormatInt(now, 10) + "-" + uuid.NewString()[:8]})
	countCmd := pipe.ZCard(ctx, rkey)
	pipe.Expire(ctx, rkey, r.window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, &domain.ConnectivityError{Op: "rate limit " + string(agentType), Err: err}
	}

	return countCmd.Val() <= int64(r.limit), nil
}
