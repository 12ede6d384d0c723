package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/oriys/paygate/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DefaultKey 是全局令牌桶在 Redis 中的键名。
const DefaultKey = "throttle:global"

// tokenBucketScript 原子地补充并消费令牌。
// KEYS[1] 桶的键；ARGV: 每秒速率、突发容量、当前时间（毫秒）。
// 返回 {allowed, retry_after_ms}。
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = burst
  ts = now
end

if now > ts then
  tokens = math.min(burst, tokens + (now - ts) * rate / 1000)
  ts = now
end

local allowed = 0
local retry = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  retry = math.ceil((1 - tokens) * 1000 / rate)
end

redis.call('HSET', key, 'tokens', tostring(tokens), 'ts', tostring(ts))
redis.call('PEXPIRE', key, math.ceil(burst * 1000 / rate) + 1000)
return {allowed, retry}
`)

// RedisLimiter 是跨实例共享的令牌桶，桶状态保存在一个 Redis 键中。
type RedisLimiter struct {
	client redis.Scripter
	key    string
	policy domain.ThrottlePolicy
	clock  Clock
}

// NewRedisLimiter 创建 Redis 令牌桶。
// key 为空时使用 DefaultKey；clock 为空时使用 time.Now。
// 所有实例应使用同步的时钟，时钟回拨不会补充令牌。
func NewRedisLimiter(client redis.Scripter, key string, policy domain.ThrottlePolicy, clock Clock) (*RedisLimiter, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if key == "" {
		key = DefaultKey
	}
	if clock == nil {
		clock = time.Now
	}
	return &RedisLimiter{client: client, key: key, policy: policy, clock: clock}, nil
}

// Allow 实现 Limiter。
func (l *RedisLimiter) Allow(ctx context.Context) (Decision, error) {
	now := l.clock().UnixMilli()
	res, err := tokenBucketScript.Run(ctx, l.client, []string{l.key},
		l.policy.RatePerSecond, l.policy.Burst, now).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("throttle: evaluate token bucket: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("throttle: unexpected script result %v", res)
	}
	return Decision{
		Allowed:    res[0] == 1,
		RetryAfter: time.Duration(res[1]) * time.Millisecond,
	}, nil
}
