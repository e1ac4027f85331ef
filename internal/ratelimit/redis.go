package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// slidingWindowScript runs the whole sliding-window check atomically on the
// server so the admit/reject decision stays correct across multiple gateway
// processes. Scores and the window are in microseconds. Returns {1, 0} on
// admit, {0, oldestScore} on reject.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]
redis.call('ZREMRANGEBYSCORE', key, 0, now - window)
local count = redis.call('ZCARD', key)
if count >= limit then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {0, oldest[2]}
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, math.ceil(window / 1000))
return {1, 0}
`)

// RedisLimiter is the shared-counter variant for multi-process deployments.
// If Redis is unreachable it fails open: a limiter outage must degrade to
// "no limiting", never to a full gateway outage.
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
	limit  int
	window time.Duration

	opTimeout time.Duration
	now       func() time.Time
}

// RedisOption configures a RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithKeyPrefix overrides the Redis key prefix (default "gw:rl").
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLimiter) { l.prefix = prefix }
}

// WithRedisClock overrides the time source (tests).
func WithRedisClock(now func() time.Time) RedisOption {
	return func(l *RedisLimiter) { l.now = now }
}

// NewRedisLimiter builds the Redis-backed limiter with the same limit/window
// semantics as the in-process one.
func NewRedisLimiter(rdb *redis.Client, limit int, window time.Duration, opts ...RedisOption) *RedisLimiter {
	l := &RedisLimiter{
		rdb:       rdb,
		prefix:    "gw:rl",
		limit:     limit,
		window:    window,
		opTimeout: 200 * time.Millisecond,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow implements Limiter.
func (l *RedisLimiter) Allow(ctx context.Context, ip string) Decision {
	now := l.now()
	nowMicro := now.UnixMicro()
	windowMicro := l.window.Microseconds()
	member := fmt.Sprintf("%d-%s", nowMicro, uuid.NewString())

	opCtx, cancel := context.WithTimeout(ctx, l.opTimeout)
	defer cancel()

	res, err := slidingWindowScript.Run(opCtx, l.rdb,
		[]string{l.prefix + ":" + ip},
		nowMicro, windowMicro, l.limit, member,
	).Int64Slice()
	if err != nil || len(res) != 2 {
		log.Printf("rate limiter degraded, failing open: %v", err)
		return Decision{Allowed: true, Limit: l.limit, Window: l.window}
	}
	if res[0] == 1 {
		return Decision{Allowed: true, Limit: l.limit, Window: l.window}
	}
	retryAfter := time.Duration(res[1]-nowMicro+windowMicro) * time.Microsecond
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{
		Allowed:    false,
		RetryAfter: retryAfter,
		Limit:      l.limit,
		Window:     l.window,
	}
}
