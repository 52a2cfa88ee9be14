package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"confidential-voting-backend/cache"
	"confidential-voting-backend/models"

	"github.com/redis/go-redis/v9"
)

// DefaultQueueKey 事件队列使用的Redis列表
const DefaultQueueKey = "poll_events"

// RedisQueue 基于Redis列表的事件队列，LPUSH入队、BRPOP出队
type RedisQueue struct {
	client cache.RedisClient
	key    string
}

// NewRedisQueue 创建Redis事件队列
func NewRedisQueue(client cache.RedisClient, key string) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueue{client: client, key: key}
}

// Publish 把事件写入队列
func (q *RedisQueue) Publish(ctx context.Context, event models.PollEvent) error {
	if q.client == nil {
		return cache.ErrRedisNotAvailable
	}

	data, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("发送事件到队列失败: %w", err)
	}
	return nil
}

// Pop 取出最早的一条事件，timeout内没有事件时返回 (nil, nil)
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (*models.PollEvent, error) {
	if q.client == nil {
		return nil, cache.ErrRedisNotAvailable
	}

	result, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	// BRPOP返回 [key, value]
	var event models.PollEvent
	if err := json.Unmarshal([]byte(result[1]), &event); err != nil {
		return nil, fmt.Errorf("解析事件失败: %w", err)
	}
	return &event, nil
}

// Len 队列中待消费的事件数量
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	if q.client == nil {
		return 0, cache.ErrRedisNotAvailable
	}
	return q.client.LLen(ctx, q.key).Result()
}

// Consume 持续消费事件直到ctx取消，处理失败的事件只记录日志
func (q *RedisQueue) Consume(ctx context.Context, handler func(models.PollEvent) error) error {
	log.Printf("Redis事件队列消费者已启动: %s", q.key)
	for {
		if err := ctx.Err(); err != nil {
			log.Println("Redis事件队列消费者已关闭")
			return nil
		}

		event, err := q.Pop(ctx, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Printf("从队列获取事件失败: %v", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if event == nil {
			continue
		}

		if err := handler(*event); err != nil {
			log.Printf("处理事件失败: %s, 错误: %v", event.MessageID, err)
		}
	}
}

// Close 队列不持有连接，Redis客户端由调用方关闭
func (q *RedisQueue) Close() error {
	return nil
}
