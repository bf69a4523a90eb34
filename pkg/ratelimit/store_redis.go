package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript performs an atomic refill-then-take against a Redis
// hash holding {tokens, last_refill_ms}. KEYS[1] is the bucket key.
// ARGV: capacity, refill_per_second, n, now_ms.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local n = tonumber(ARGV[3])
local now_ms = tonumber(ARGV[4])

local data = redis.call("HMGET", key, "tokens", "last_refill_ms")
local tokens = tonumber(data[1])
local last_refill_ms = tonumber(data[2])

if tokens == nil then
  tokens = capacity
  last_refill_ms = now_ms
end

local elapsed_s = math.max(0, (now_ms - last_refill_ms) / 1000)
tokens = math.min(capacity, tokens + elapsed_s * refill_rate)

local ok = 0
if tokens >= n then
  tokens = tokens - n
  ok = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill_ms", now_ms)
redis.call("EXPIRE", key, 3600)

local deficit = n - tokens
local wait_ms = 0
if ok == 0 and refill_rate > 0 then
  wait_ms = math.ceil((n - tokens) / refill_rate * 1000)
end

return {ok, wait_ms}
`)

// RedisStore is a distributed token-bucket Store backed by a Redis
// server, so that multiple engine processes sharing one provider's rate
// limit see a consistent bucket.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Take(ctx context.Context, key string, rule Rule, n int64, now time.Time) (bool, time.Duration, error) {
	res, err := tokenBucketScript.Run(ctx, s.client, []string{s.prefix + key},
		rule.Capacity, rule.RefillPerSecond, n, now.UnixMilli()).Result()
	if err != nil {
		return false, 0, err
	}

	arr, ok := res.([]interface{})
	if !ok || len(arr) != 2 {
		return false, 0, nil
	}
	okFlag, _ := arr[0].(int64)
	waitMS, _ := arr[1].(int64)
	return okFlag == 1, time.Duration(waitMS) * time.Millisecond, nil
}
