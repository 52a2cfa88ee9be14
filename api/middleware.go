package api

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"confidential-voting-backend/cache"
	"confidential-voting-backend/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	// IdentityHeader 调用者钱包地址，身份认证由外部完成
	IdentityHeader = "X-Wallet-Address"
	// RequestIDHeader 请求ID
	RequestIDHeader = "X-Request-ID"

	callerKey    = "caller"
	requestIDKey = "request_id"
)

// RequestID 为每个请求分配ID，客户端已提供时沿用
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// Identity 解析调用者身份，写入上下文
// 没有身份头时不拦截，需要身份的接口用 RequireIdentity
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(IdentityHeader)
		if raw == "" {
			c.Next()
			return
		}
		if !models.IsWalletAddress(raw) {
			abortWithError(c, http.StatusBadRequest, "invalid_input", "invalid wallet address")
			return
		}
		c.Set(callerKey, models.NormalizeIdentity(raw))
		c.Next()
	}
}

// RequireIdentity 要求请求携带调用者身份
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if Caller(c) == "" {
			abortWithError(c, http.StatusUnauthorized, "unauthenticated", "missing "+IdentityHeader+" header")
			return
		}
		c.Next()
	}
}

// Caller 返回规范化后的调用者身份，未提供时为空
func Caller(c *gin.Context) string {
	return c.GetString(callerKey)
}

// Limiter 按key限流
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// localLimiterIdleTTL 调用者超过该时间没有请求时移除其令牌桶
const localLimiterIdleTTL = 10 * time.Minute

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter 进程内限流，全局令牌桶加每个调用者一个令牌桶
// 空闲的调用者定期清理，避免按IP限流时内存无限增长
type LocalLimiter struct {
	global    *rate.Limiter
	userRate  rate.Limit
	userBurst int
	idleTTL   time.Duration
	now       func() time.Time

	mu        sync.Mutex
	users     map[string]*userLimiter
	lastSweep time.Time
}

// NewLocalLimiter 创建进程内限流器，突发容量为速率的两倍
func NewLocalLimiter(globalRate, userRate int) *LocalLimiter {
	return &LocalLimiter{
		global:    rate.NewLimiter(rate.Limit(globalRate), globalRate*2),
		userRate:  rate.Limit(userRate),
		userBurst: userRate * 2,
		idleTTL:   localLimiterIdleTTL,
		now:       time.Now,
		users:     make(map[string]*userLimiter),
	}
}

// Allow 判断请求是否允许通过
func (l *LocalLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := l.now()
	if !l.global.AllowN(now, 1) {
		return false, nil
	}
	if key == "" {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.idleTTL {
		l.sweep(now)
	}

	u, ok := l.users[key]
	if !ok {
		u = &userLimiter{limiter: rate.NewLimiter(l.userRate, l.userBurst)}
		l.users[key] = u
	}
	u.lastSeen = now
	return u.limiter.AllowN(now, 1), nil
}

// sweep 移除空闲的令牌桶，空闲时间超过补满所需时间，移除不影响限流结果
func (l *LocalLimiter) sweep(now time.Time) {
	for key, u := range l.users {
		if now.Sub(u.lastSeen) >= l.idleTTL {
			delete(l.users, key)
		}
	}
	l.lastSweep = now
}

func (l *LocalLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.users)
}

// RedisLimiter 多实例共享的Redis令牌桶限流
type RedisLimiter struct {
	limiter *cache.UserRateLimiter
}

// NewRedisLimiter 创建Redis限流器，突发容量为速率的两倍
func NewRedisLimiter(client cache.RedisClient, globalRate, userRate int) *RedisLimiter {
	return &RedisLimiter{
		limiter: cache.NewUserRateLimiter(client, "api", globalRate, globalRate*2, userRate, userRate*2),
	}
}

// Allow 判断请求是否允许通过
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return l.limiter.AllowUser(ctx, key)
}

// RateLimit 限流中间件，按调用者身份限流，没有身份时按客户端IP
// 限流器出错时放行，避免Redis故障导致服务不可用
func RateLimit(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := Caller(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}

		allowed, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			log.Printf("限流检查失败: %v", err)
			c.Next()
			return
		}
		if !allowed {
			abortWithError(c, http.StatusTooManyRequests, "rate_limited", "请求频率过高，请稍后再试")
			return
		}
		c.Next()
	}
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: message, Code: code})
}
