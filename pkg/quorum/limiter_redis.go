package quorum

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// signerBucketScript runs the token bucket atomically in Redis.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = now (unix seconds, microsecond precision)
// ARGV[4] = key ttl in seconds
var signerBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, ttl)

return allowed
`)

// RedisLimiter shares signer buckets between engine replicas.
type RedisLimiter struct {
	client *redis.Client
	policy LimiterPolicy
	prefix string
}

// NewRedisLimiter connects to the Redis server at addr.
func NewRedisLimiter(addr string, p LimiterPolicy) *RedisLimiter {
	return &RedisLimiter{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		policy: p,
		prefix: "munin:signer:",
	}
}

// Ping checks connectivity.
func (r *RedisLimiter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Allow implements SignerLimiter. Redis errors fail closed.
func (r *RedisLimiter) Allow(ctx context.Context, signerID string) (bool, error) {
	perSec := r.policy.perSecond()
	ttl := int(float64(r.policy.burst())/perSec) + 60
	now := float64(time.Now().UnixMicro()) / 1e6

	res, err := signerBucketScript.Run(ctx, r.client, []string{r.prefix + signerID},
		perSec, r.policy.burst(), now, ttl).Int64()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	return res == 1, nil
}

// Close closes the Redis client.
func (r *RedisLimiter) Close() error {
	return r.client.Close()
}
