package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient 本服务用到的Redis命令子集，*redis.Client 直接满足该接口
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd

	// 列表操作，用于事件队列
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd

	// Lua脚本，用于令牌桶限流
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

var _ RedisClient = (*redis.Client)(nil)
