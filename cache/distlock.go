package cache

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// DefaultLockExpiry 分布式锁的默认过期时间
const DefaultLockExpiry = 10 * time.Second

// DistributedLockService 基于redsync的分布式锁服务
type DistributedLockService struct {
	rs     *redsync.Redsync
	expiry time.Duration
	tries  int
}

// NewDistributedLockService 使用现有的Redis客户端创建分布式锁服务
func NewDistributedLockService(client *redis.Client, expiry time.Duration) *DistributedLockService {
	if expiry <= 0 {
		expiry = DefaultLockExpiry
	}
	pool := goredis.NewPool(client)
	log.Println("分布式锁初始化成功")
	return &DistributedLockService{
		rs:     redsync.New(pool),
		expiry: expiry,
		tries:  64,
	}
}

// AcquireLock 获取锁，带重试
func (s *DistributedLockService) AcquireLock(ctx context.Context, lockName string) (*redsync.Mutex, error) {
	mutex := s.rs.NewMutex(lockName,
		redsync.WithExpiry(s.expiry),
		redsync.WithTries(s.tries),                  // 最大重试次数
		redsync.WithRetryDelay(50*time.Millisecond), // 重试延迟
		redsync.WithDriftFactor(0.01),               // 时钟漂移因子
	)

	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return nil, fmt.Errorf("%w: %s", ErrLockNotAcquired, lockName)
		}
		return nil, err
	}
	return mutex, nil
}

// ReleaseLock 释放锁
func (s *DistributedLockService) ReleaseLock(ctx context.Context, mutex *redsync.Mutex) error {
	ok, err := mutex.UnlockContext(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("释放锁失败: %s", mutex.Name())
	}
	return nil
}

// WithLock 在锁内执行操作，实现 service.Locker
func (s *DistributedLockService) WithLock(ctx context.Context, lockName string, action func() error) error {
	mutex, err := s.AcquireLock(ctx, lockName)
	if err != nil {
		return err
	}

	// 确保解锁，使用独立的上下文避免请求取消后锁残留到过期
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := s.ReleaseLock(releaseCtx, mutex); err != nil {
			log.Printf("释放分布式锁失败: %v", err)
		}
	}()

	return action()
}
