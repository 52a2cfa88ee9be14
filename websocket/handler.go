package websocket

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// 写入超时
	writeWait = 10 * time.Second

	// 读取超时
	pongWait = 60 * time.Second

	// 发送ping间隔时间，必须小于pongWait
	pingPeriod = (pongWait * 9) / 10

	// 最大消息大小
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 跨域由CORS中间件统一控制
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// PollLookup 检查投票是否存在，不存在时返回错误
type PollLookup func(ctx context.Context, pollID uint64) error

// Handler WebSocket处理器
type Handler struct {
	hub    *Hub
	lookup PollLookup
}

// NewHandler 创建WebSocket处理器
func NewHandler(hub *Hub, lookup PollLookup) *Handler {
	return &Handler{hub: hub, lookup: lookup}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/ws/polls", h.HandleGlobalConnection)
	router.GET("/ws/polls/:id", h.HandleWebSocketConnection)
}

// HandleGlobalConnection 订阅全部投票的事件
func (h *Handler) HandleGlobalConnection(c *gin.Context) {
	h.serve(c, GlobalTopic)
}

// HandleWebSocketConnection 订阅单个投票的事件
func (h *Handler) HandleWebSocketConnection(c *gin.Context) {
	pollID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid poll id", "code": "invalid_input"})
		return
	}

	if h.lookup != nil {
		if err := h.lookup(c.Request.Context(), pollID); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "not_found"})
			return
		}
	}

	h.serve(c, PollTopic(pollID))
}

func (h *Handler) serve(c *gin.Context, topic string) {
	// 升级HTTP连接为WebSocket
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket升级失败: %v", err)
		return
	}

	client := NewClient(topic, conn)
	if !h.hub.RegisterClient(client) {
		_ = conn.Close()
		return
	}

	go h.writePump(client)
	go h.readPump(client)
}

// readPump 读取客户端消息，只用于处理pong和检测断开
func (h *Handler) readPump(client *Client) {
	defer func() {
		h.hub.UnregisterClient(client)
		client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("读取WebSocket消息失败: %v", err)
			}
			break
		}
	}
}

// writePump 向WebSocket连接发送事件，每个事件一帧
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// 通道已关闭
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
