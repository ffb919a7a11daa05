package middleware

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter counts requests in a fixed window shared by every server
// instance. The counter key expires with the window.
type RedisLimiter struct {
	client redis.Cmdable
	cfg    RateLimitConfig
	prefix string
}

func NewRedisLimiter(client redis.Cmdable, cfg RateLimitConfig) *RedisLimiter {
	return &RedisLimiter{client: client, cfg: cfg, prefix: "clinic:ratelimit:"}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	k := l.prefix + key

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	ttl := pipe.PTTL(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("rate limit counter: %w", err)
	}

	count := incr.Val()
	retry := ttl.Val()
	if retry < 0 {
		// First hit of the window, or a key that lost its expiry.
		if err := l.client.PExpire(ctx, k, l.cfg.Window).Err(); err != nil {
			return Decision{}, fmt.Errorf("rate limit expiry: %w", err)
		}
		retry = l.cfg.Window
	}

	remaining := l.cfg.Requests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   count <= int64(l.cfg.Requests),
		Limit:     l.cfg.Requests,
		Remaining: remaining,
	}
	if !d.Allowed {
		d.RetryAfter = retry
	}
	return d, nil
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
