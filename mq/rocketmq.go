package mq

import (
	"context"
	"fmt"
	"log"
	"time"

	"confidential-voting-backend/models"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/apache/rocketmq-client-go/v2/producer"
)

// messageSender RocketMQ生产者中本包用到的部分
type messageSender interface {
	SendSync(ctx context.Context, msgs ...*primitive.Message) (*primitive.SendResult, error)
	Shutdown() error
}

// RocketProducer 把投票事件发布到RocketMQ主题，事件类型作为消息tag
type RocketProducer struct {
	sender messageSender
	topic  string
}

// NewRocketProducer 创建并启动RocketMQ生产者
func NewRocketProducer(nameServers []string, group, topic string) (*RocketProducer, error) {
	log.Printf("初始化RocketMQ连接, 地址: %v", nameServers)

	p, err := rocketmq.NewProducer(
		producer.WithNameServer(nameServers),
		producer.WithGroupName(group),
		producer.WithRetry(2),
		producer.WithSendMsgTimeout(10*time.Second),
		producer.WithVIPChannel(false),
	)
	if err != nil {
		return nil, fmt.Errorf("创建RocketMQ生产者失败: %w", err)
	}
	if err := p.Start(); err != nil {
		return nil, fmt.Errorf("启动RocketMQ生产者失败: %w", err)
	}

	log.Println("RocketMQ生产者初始化成功")
	return newRocketProducer(p, topic), nil
}

func newRocketProducer(sender messageSender, topic string) *RocketProducer {
	return &RocketProducer{sender: sender, topic: topic}
}

// Publish 同步发送事件
func (p *RocketProducer) Publish(ctx context.Context, event models.PollEvent) error {
	body, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	msg := primitive.NewMessage(p.topic, body).WithTag(string(event.Type))
	if event.MessageID != "" {
		msg.WithKeys([]string{event.MessageID})
	}

	result, err := p.sender.SendSync(ctx, msg)
	if err != nil {
		return fmt.Errorf("发送RocketMQ消息失败: %w", err)
	}
	if result.Status != primitive.SendOK {
		return fmt.Errorf("RocketMQ消息发送状态异常: %v", result.Status)
	}
	return nil
}

// Close 关闭生产者
func (p *RocketProducer) Close() error {
	if err := p.sender.Shutdown(); err != nil {
		return fmt.Errorf("关闭RocketMQ生产者失败: %w", err)
	}
	log.Println("RocketMQ生产者已关闭")
	return nil
}
