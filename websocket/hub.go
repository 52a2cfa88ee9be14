package websocket

import (
	"context"
	"log"
	"strconv"
	"sync"

	"confidential-voting-backend/models"

	"github.com/gorilla/websocket"
)

// GlobalTopic 订阅全部投票事件的主题
const GlobalTopic = "all"

// PollTopic 单个投票的事件主题
func PollTopic(pollID uint64) string {
	return "poll:" + strconv.FormatUint(pollID, 10)
}

// Client 代表一个WebSocket连接客户端
type Client struct {
	// 订阅的主题
	Topic string

	// WebSocket连接
	conn *websocket.Conn

	// 消息发送通道
	send chan []byte
}

// NewClient 创建订阅指定主题的客户端
func NewClient(topic string, conn *websocket.Conn) *Client {
	return &Client{Topic: topic, conn: conn, send: make(chan []byte, 256)}
}

// Hub 维护活跃的客户端集合并向客户端广播投票事件
type Hub struct {
	// 已注册的客户端，按主题分组
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	closeOnce  sync.Once

	// 互斥锁保护clients map
	mu sync.RWMutex
}

// NewHub 创建一个新的Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run 启动Hub消息处理循环，Close后返回
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[client.Topic]; !ok {
				h.clients[client.Topic] = make(map[*Client]bool)
			}
			h.clients[client.Topic][client] = true
			n := len(h.clients[client.Topic])
			h.mu.Unlock()
			log.Printf("WebSocket客户端已注册: 主题=%s, 当前连接数=%d", client.Topic, n)

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(client)
			h.mu.Unlock()
			log.Printf("WebSocket客户端已注销: 主题=%s", client.Topic)

		case <-h.done:
			h.mu.Lock()
			for _, clients := range h.clients {
				for client := range clients {
					h.removeLocked(client)
				}
			}
			h.mu.Unlock()
			return
		}
	}
}

// Publish 把事件广播给该投票的订阅者和全局订阅者，实现 mq.Publisher
// 清空事件发给所有订阅者
func (h *Hub) Publish(_ context.Context, event models.PollEvent) error {
	payload, err := event.ToJSON()
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var topics []string
	if event.Type == models.EventPollsCleared {
		for topic := range h.clients {
			topics = append(topics, topic)
		}
	} else {
		topics = []string{PollTopic(event.PollID), GlobalTopic}
	}

	sent := 0
	for _, topic := range topics {
		for client := range h.clients[topic] {
			select {
			case client.send <- payload:
				sent++
			default:
				// 发送缓冲区已满，断开慢客户端
				h.removeLocked(client)
			}
		}
	}
	if sent > 0 {
		log.Printf("广播投票事件: 类型=%s, 投票ID=%d, 客户端数=%d", event.Type, event.PollID, sent)
	}
	return nil
}

// Count 返回某个主题当前的订阅者数量
func (h *Hub) Count(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// RegisterClient 注册客户端到Hub
func (h *Hub) RegisterClient(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// UnregisterClient 从Hub中注销客户端
func (h *Hub) UnregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Close 停止Hub并断开全部客户端
func (h *Hub) Close() error {
	h.closeOnce.Do(func() { close(h.done) })
	return nil
}

func (h *Hub) removeLocked(client *Client) {
	clients, ok := h.clients[client.Topic]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	close(client.send)
	if len(clients) == 0 {
		delete(h.clients, client.Topic)
	}
}
