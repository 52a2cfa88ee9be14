package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options Redis连接参数
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient 创建Redis客户端并测试连接
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	if opts.Addr == "" {
		return nil, ErrRedisNotAvailable
	}

	log.Printf("初始化Redis连接, 地址: %s", opts.Addr)

	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: 3 * time.Second,
		ReadTimeout: 3 * time.Second,
		PoolSize:    10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("Redis连接失败: %w", err)
	}

	log.Println("Redis连接初始化成功")
	return client, nil
}

// Ping 检查Redis是否可用，客户端为空时返回ErrRedisNotAvailable
func Ping(ctx context.Context, client RedisClient) error {
	if client == nil {
		return ErrRedisNotAvailable
	}
	return client.Ping(ctx).Err()
}

// Close 关闭Redis连接
func Close(client *redis.Client) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		log.Printf("关闭Redis连接错误: %v", err)
		return
	}
	log.Println("Redis连接已关闭")
}
