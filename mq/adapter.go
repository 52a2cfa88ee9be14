package mq

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"confidential-voting-backend/cache"
	"confidential-voting-backend/config"
	"confidential-voting-backend/models"

	"github.com/google/uuid"
)

// Publisher 投票事件的一个下游
type Publisher interface {
	Publish(ctx context.Context, event models.PollEvent) error
	Close() error
}

// DefaultFanoutBuffer 事件发送队列容量
const DefaultFanoutBuffer = 256

// Fanout 把事件分发给多个下游，实现 service.Notifier
// Notify 只把事件放入队列，由单个goroutine按入队顺序发送；
// 变更已经提交，下游失败只记录日志，不影响调用方
type Fanout struct {
	mu         sync.RWMutex
	publishers []Publisher
	timeout    time.Duration

	events   chan models.PollEvent
	done     chan struct{}
	closeMu  sync.RWMutex
	isClosed bool
}

// NewFanout 创建事件分发器并启动发送goroutine，忽略nil下游
func NewFanout(publishers ...Publisher) *Fanout {
	f := &Fanout{
		timeout: 5 * time.Second,
		events:  make(chan models.PollEvent, DefaultFanoutBuffer),
		done:    make(chan struct{}),
	}
	for _, p := range publishers {
		f.Add(p)
	}
	go f.run()
	return f
}

// Add 追加一个下游
func (f *Fanout) Add(p Publisher) {
	if p == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishers = append(f.publishers, p)
}

// Notify 为事件分配消息ID后放入发送队列，队列满时等待
func (f *Fanout) Notify(_ context.Context, event models.PollEvent) {
	if event.MessageID == "" {
		event.MessageID = uuid.NewString()
	}

	f.closeMu.RLock()
	defer f.closeMu.RUnlock()
	if f.isClosed {
		log.Printf("事件分发器已关闭，丢弃事件: 类型=%s, 投票ID=%d", event.Type, event.PollID)
		return
	}
	f.events <- event
}

func (f *Fanout) run() {
	defer close(f.done)
	for event := range f.events {
		f.publish(event)
	}
}

func (f *Fanout) publish(event models.PollEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, p := range f.publishers {
		if err := p.Publish(ctx, event); err != nil {
			log.Printf("发布投票事件失败: 类型=%s, 投票ID=%d, 错误: %v", event.Type, event.PollID, err)
		}
	}
}

// Close 发送完队列中剩余的事件后关闭全部下游
func (f *Fanout) Close() error {
	f.closeMu.Lock()
	if f.isClosed {
		f.closeMu.Unlock()
		return nil
	}
	f.isClosed = true
	close(f.events)
	f.closeMu.Unlock()
	<-f.done

	f.mu.Lock()
	defer f.mu.Unlock()

	var errs []error
	for _, p := range f.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	f.publishers = nil
	return errors.Join(errs...)
}

// NewPublisher 按配置创建消息队列下游，MQ_BACKEND=none 时返回nil
func NewPublisher(cfg *config.Config, client cache.RedisClient) (Publisher, error) {
	switch cfg.MQBackend {
	case "", "none":
		return nil, nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("Redis事件队列: %w", cache.ErrRedisNotAvailable)
		}
		log.Println("成功初始化Redis MQ")
		return NewRedisQueue(client, DefaultQueueKey), nil
	case "rocketmq":
		p, err := NewRocketProducer(cfg.RocketMQNameServer, cfg.RocketMQGroup, cfg.RocketMQTopic)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("不支持的消息队列: %s", cfg.MQBackend)
	}
}
