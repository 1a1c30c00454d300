package ratelimit

import (
	"context"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"docjobs/internal/apperrors"
)

const redisKeyPrefix = "docjobs:ratelimit:"

// Redis is a fixed-window limiter shared by every instance using the same
// Redis. The window is aligned to wall-clock multiples of Window.
type Redis struct {
	client goredis.Cmdable
	cfg    Config
	now    func() time.Time
}

// NewRedis creates a Redis-backed limiter.
func NewRedis(client goredis.Cmdable, cfg Config) *Redis {
	return &Redis{client: client, cfg: cfg.withDefaults(), now: time.Now}
}

// Allow counts a request for key.
func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	now := r.now()
	start := now.Truncate(r.cfg.Window)
	redisKey := redisKeyPrefix + key + ":" + strconv.FormatInt(start.UnixMilli(), 10)

	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.PExpire(ctx, redisKey, r.cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, apperrors.Unavailable("ratelimit.incr", err)
	}

	reset := start.Add(r.cfg.Window).Sub(now)
	count := int(incr.Val())
	if count > r.cfg.Requests {
		return Decision{Allowed: false, RetryAfter: reset}, nil
	}
	return Decision{Allowed: true, Remaining: r.cfg.Requests - count, RetryAfter: reset}, nil
}

var _ Limiter = (*Redis)(nil)
