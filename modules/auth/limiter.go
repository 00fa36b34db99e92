package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limit is a request budget per sliding window.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Default budgets for abuse-prone endpoints, per email address.
var (
	SignInLimit  = Limit{Requests: 10, Window: time.Minute}
	SignUpLimit  = Limit{Requests: 3, Window: time.Hour}
	ResendLimit  = Limit{Requests: 3, Window: 10 * time.Minute}
	ConfirmLimit = Limit{Requests: 10, Window: 10 * time.Minute}
)

// RateLimiter decides whether another request under key is allowed.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit Limit) (bool, error)
}

// noLimit allows everything; used when no Redis is configured.
type noLimit struct{}

func (noLimit) Allow(context.Context, string, Limit) (bool, error) { return true, nil }

// slidingWindowScript trims expired entries, then records the request only
// when the window still has room. Returns 1 when allowed.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
	local current = redis.call('ZCARD', key)
	if current >= limit then
		return 0
	end

	local counter = redis.call('INCR', key .. ':counter')
	redis.call('ZADD', key, now, now .. ':' .. counter)
	local expire_seconds = math.ceil(window_ms / 1000)
	redis.call('EXPIRE', key, expire_seconds)
	redis.call('EXPIRE', key .. ':counter', expire_seconds)
	return 1
`)

// RedisLimiter is a sliding-window limiter over Redis sorted sets.
type RedisLimiter struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisLimiter creates a limiter storing its windows under keyPrefix.
func NewRedisLimiter(client *redis.Client, keyPrefix string) *RedisLimiter {
	return &RedisLimiter{client: client, keyPrefix: keyPrefix}
}

// Allow records a request under key and reports whether it fits the budget.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit Limit) (bool, error) {
	now := time.Now()
	allowed, err := slidingWindowScript.Run(ctx, l.client, []string{l.keyPrefix + key},
		now.UnixMilli(),
		now.Add(-limit.Window).UnixMilli(),
		limit.Requests,
		limit.Window.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis script error: %w", err)
	}
	return allowed == 1, nil
}

// Reset clears the window for key.
func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, l.keyPrefix+key, l.keyPrefix+key+":counter").Err()
}

// Ping checks the Redis connection.
func (l *RedisLimiter) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}
