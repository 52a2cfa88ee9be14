package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"confidential-voting-backend/testutil"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitedRouter(limiter Limiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RequestID(), Identity(), RateLimit(limiter))
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"caller": Caller(c)})
	})
	return router
}

func get(router *gin.Engine, caller string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if caller != "" {
		req.Header.Set(IdentityHeader, caller)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestLocalLimiter(t *testing.T) {
	// 每个调用者突发2个请求
	router := limitedRouter(NewLocalLimiter(1000, 1))

	assert.Equal(t, http.StatusOK, get(router, voter).Code)
	assert.Equal(t, http.StatusOK, get(router, voter).Code)

	w := get(router, voter)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", decodeError(t, w).Code)

	assert.Equal(t, http.StatusOK, get(router, creator).Code)
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	router := limitedRouter(NewRedisLimiter(client, 1000, 1))

	// 令牌按整秒补充，跨秒时最多多放行一个
	allowed := 0
	for i := 0; i < 5; i++ {
		if get(router, voter).Code == http.StatusOK {
			allowed++
		}
	}
	assert.GreaterOrEqual(t, allowed, 2)
	assert.LessOrEqual(t, allowed, 3)
	assert.Equal(t, http.StatusOK, get(router, creator).Code)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (bool, error) {
	return false, errors.New("redis down")
}

func TestRateLimit_FailsOpen(t *testing.T) {
	router := limitedRouter(failingLimiter{})
	assert.Equal(t, http.StatusOK, get(router, voter).Code)
}

func TestIdentity_Normalizes(t *testing.T) {
	router := limitedRouter(NewLocalLimiter(1000, 1000))

	w := get(router, "0xAc7539F65d98313ea4bAbef870F6Ae29107aD4ce")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"caller":"0xac7539f65d98313ea4babef870f6ae29107ad4ce"}`, w.Body.String())

	w = get(router, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"caller":""}`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, get(router, "0x1234").Code)
}

func TestRequestID(t *testing.T) {
	router := limitedRouter(NewLocalLimiter(1000, 1000))

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))

	assert.NotEmpty(t, get(router, "").Header().Get(RequestIDHeader))
}

func TestLocalLimiter_EvictsIdleCallers(t *testing.T) {
	clock := testutil.NewClock(time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC))
	limiter := NewLocalLimiter(1000, 1)
	limiter.now = clock.Now
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		allowed, err := limiter.Allow(ctx, fmt.Sprintf("ip:10.0.0.%d", i))
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	assert.Equal(t, 50, limiter.size())

	clock.Advance(time.Minute)
	_, err := limiter.Allow(ctx, voter)
	require.NoError(t, err)
	assert.Equal(t, 51, limiter.size(), "recent callers are kept")

	clock.Advance(localLimiterIdleTTL)
	allowed, err := limiter.Allow(ctx, creator)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, limiter.size())
}
