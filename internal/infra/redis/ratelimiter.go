package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/dnsbatch/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 100
	rateWindow               = time.Second
	minWait                  = time.Millisecond
)

// slidingWindowScript admits a call when fewer than ARGV[3] calls were admitted in the last
// ARGV[2] milliseconds. It returns {1, 0} when admitted, or {0, wait} with the milliseconds
// until the oldest admitted call leaves the window.
var slidingWindowScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
if redis.call("ZCARD", KEYS[1]) < limit then
  redis.call("ZADD", KEYS[1], now, ARGV[4])
  redis.call("PEXPIRE", KEYS[1], window)
  return {1, 0}
end
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local wait = window
if oldest[2] then
  wait = tonumber(oldest[2]) + window - now
end
return {0, wait}
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter is a distributed sliding-window limiter shared by all processes.
// Scopes are zone ids for record-set applies and user ids for submissions; each limiter
// owns a key prefix so the two never share counters.
type RedisRateLimiter struct {
	client      *goredis.Client
	prefix      string
	limitPerSec int64
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	newMember   func() string
}

func NewRedisRateLimiter(client *goredis.Client, prefix string, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, prefix, int64(limitPerSec), time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	prefix string,
	limitPerSec int64,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, fmt.Errorf("rate limiter prefix is required")
	}
	if limitPerSec <= 0 {
		limitPerSec = defaultLimitPerSec
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client:      client,
		prefix:      prefix,
		limitPerSec: limitPerSec,
		now:         nowFn,
		sleep:       sleepFn,
		newMember:   uuid.NewString,
	}, nil
}

// Allow admits one call for scope without blocking.
func (r *RedisRateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	allowed, _, err := r.reserve(ctx, scope)
	return allowed, err
}

// Wait blocks until a call for scope is admitted or ctx ends.
func (r *RedisRateLimiter) Wait(ctx context.Context, scope string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		allowed, wait, err := r.reserve(ctx, scope)
		if err != nil {
			return err
		}
		if allowed {
			return nil
		}

		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (r *RedisRateLimiter) reserve(ctx context.Context, scope string) (bool, time.Duration, error) {
	if r == nil || r.client == nil {
		return false, 0, fmt.Errorf("rate limiter is not initialized")
	}

	normalizedScope := strings.ToLower(strings.TrimSpace(scope))
	if normalizedScope == "" {
		return false, 0, fmt.Errorf("rate limit scope is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := slidingWindowScript.Run(
		ctx,
		r.client,
		[]string{r.key(normalizedScope)},
		r.now().UnixMilli(),
		rateWindow.Milliseconds(),
		r.limitPerSec,
		r.newMember(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("failed to evaluate rate limit for %s: %w", normalizedScope, err)
	}
	if len(result) != 2 {
		return false, 0, fmt.Errorf("unexpected rate limit reply %v", result)
	}

	if result[0] == 1 {
		return true, 0, nil
	}
	return false, clampWait(time.Duration(result[1]) * time.Millisecond), nil
}

func (r *RedisRateLimiter) key(scope string) string {
	return fmt.Sprintf("ratelimit:%s:%s", r.prefix, scope)
}

func clampWait(d time.Duration) time.Duration {
	if d < minWait {
		return minWait
	}
	if d > rateWindow {
		return rateWindow
	}
	return d
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
