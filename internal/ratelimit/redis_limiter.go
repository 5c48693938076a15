package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/licenselock/licenselock/internal/fault"
	"github.com/licenselock/licenselock/internal/observability"

	"github.com/redis/go-redis/v9"
)

// consumeScript checks the counter before incrementing so a denied request
// never bumps the count; check-then-act is atomic inside the script.
var consumeScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local limit = tonumber(ARGV[1])
if current >= limit then
  return {0, current, redis.call('PTTL', KEYS[1])}
end
current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], tonumber(ARGV[2]))
end
return {1, current, redis.call('PTTL', KEYS[1])}
`)

type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisLimiter(client redis.UniversalClient, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{client: client, prefix: prefix, now: time.Now}
}

func (l *RedisLimiter) CheckAndConsume(ctx context.Context, identity, action string, limit int64, window time.Duration) (Decision, error) {
	if window <= 0 {
		// A non-positive window would divide the bucket by zero.
		window = time.Minute
	}
	now := l.now()
	bucket := now.UnixNano() / int64(window)
	key := fmt.Sprintf("%s:%s:%s:%d", l.prefix, action, identity, bucket)

	res, err := consumeScript.Run(ctx, l.client, []string{key}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		observability.RecordRateLimitDecision(ctx, action, "backend_error", "redis")
		return Decision{}, fault.Wrap(fault.KindUnavailable, fault.CodeStorageUnavailable, "rate limit backend", err)
	}
	if len(res) != 3 {
		observability.RecordRateLimitDecision(ctx, action, "backend_error", "redis")
		return Decision{}, fault.Newf(fault.KindUnavailable, fault.CodeStorageUnavailable, "rate limit script returned %d values", len(res))
	}

	allowed := res[0] == 1
	count := res[1]
	ttl := time.Duration(res[2]) * time.Millisecond
	if ttl < 0 {
		// Key without expiry or already gone; fall back to the bucket edge.
		ttl = time.Duration((bucket+1)*int64(window) - now.UnixNano())
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	decision := Decision{
		Allowed:   allowed,
		Remaining: remaining,
		WindowEnd: now.Add(ttl),
	}
	if !allowed {
		decision.RetryAfter = ttl
		observability.RecordRateLimitDecision(ctx, action, "deny", "redis")
		return decision, nil
	}
	observability.RecordRateLimitDecision(ctx, action, "allow", "redis")
	return decision, nil
}
