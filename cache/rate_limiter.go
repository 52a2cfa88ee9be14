package cache

import (
	"context"
	"fmt"
	"log"
	"time"
)

// RateLimiter 限流器接口
type RateLimiter interface {
	// Allow 判断请求是否允许通过
	Allow(ctx context.Context) (bool, error)
}

// 令牌桶算法的Lua脚本，令牌数和时间戳保存在两个键中
const tokenBucketScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local burst = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local tokens_key = key .. ":tokens"
local timestamp_key = key .. ":ts"

local tokens = tonumber(redis.call("get", tokens_key) or burst)
local last_update = tonumber(redis.call("get", timestamp_key) or now)

-- 按经过的时间补充令牌
local elapsed = math.max(0, now - last_update)
local new_tokens = math.min(burst, tokens + elapsed * rate)

if new_tokens < 1 then
	return 0
end

new_tokens = new_tokens - 1

redis.call("setex", tokens_key, ttl, new_tokens)
redis.call("setex", timestamp_key, ttl, now)

return 1
`

// TokenBucketRateLimiter 基于Redis的令牌桶限流器，多个服务实例共享同一个桶
type TokenBucketRateLimiter struct {
	redisClient RedisClient
	key         string
	rate        int // 每秒生成的令牌数量
	burst       int // 令牌桶最大容量
	now         func() time.Time
}

// NewTokenBucketRateLimiter 创建新的令牌桶限流器
func NewTokenBucketRateLimiter(client RedisClient, key string, rate, burst int) *TokenBucketRateLimiter {
	return &TokenBucketRateLimiter{
		redisClient: client,
		key:         fmt.Sprintf("rate_limit:%s", key),
		rate:        rate,
		burst:       burst,
		now:         time.Now,
	}
}

// Allow 判断请求是否允许通过
func (l *TokenBucketRateLimiter) Allow(ctx context.Context) (bool, error) {
	if l.redisClient == nil {
		return false, ErrRedisNotAvailable
	}

	// 桶装满所需时间之后键自动过期
	ttl := 2
	if l.rate > 0 {
		ttl += l.burst / l.rate
	}

	result, err := l.redisClient.Eval(ctx, tokenBucketScript,
		[]string{l.key}, l.now().Unix(), l.rate, l.burst, ttl).Int64()
	if err != nil {
		return false, err
	}
	return result == 1, nil
}

// UserRateLimiter 全局加按用户的两级限流
type UserRateLimiter struct {
	redisClient   RedisClient
	globalLimiter *TokenBucketRateLimiter
	keyPrefix     string
	rate          int
	burst         int
}

// NewUserRateLimiter 创建新的用户级别限流器
func NewUserRateLimiter(client RedisClient, keyPrefix string, globalRate, globalBurst, userRate, userBurst int) *UserRateLimiter {
	return &UserRateLimiter{
		redisClient:   client,
		globalLimiter: NewTokenBucketRateLimiter(client, keyPrefix+":global", globalRate, globalBurst),
		keyPrefix:     keyPrefix,
		rate:          userRate,
		burst:         userBurst,
	}
}

// GetUserLimiter 获取用户的限流器
func (l *UserRateLimiter) GetUserLimiter(userID string) RateLimiter {
	limiter := NewTokenBucketRateLimiter(l.redisClient, l.keyPrefix+":user:"+userID, l.rate, l.burst)
	limiter.now = l.globalLimiter.now
	return limiter
}

// AllowUser 判断用户请求是否允许通过
func (l *UserRateLimiter) AllowUser(ctx context.Context, userID string) (bool, error) {
	// 先检查全局限流
	allowed, err := l.globalLimiter.Allow(ctx)
	if err != nil || !allowed {
		if err != nil {
			log.Printf("全局限流检查失败: %v", err)
		}
		return allowed, err
	}

	// 再检查用户级别限流
	return l.GetUserLimiter(userID).Allow(ctx)
}
