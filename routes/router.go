package routes

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"confidential-voting-backend/api"
	"confidential-voting-backend/cache"
	"confidential-voting-backend/service"
	"confidential-voting-backend/websocket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Dependencies 路由依赖的组件
type Dependencies struct {
	Store   *service.PollStore
	DB      *gorm.DB
	Redis   cache.RedisClient // 可以为nil
	Hub     *websocket.Hub    // 可以为nil，为nil时不提供WebSocket
	Limiter api.Limiter       // 可以为nil，为nil时不限流
}

// Server 是HTTP服务器的封装
type Server struct {
	*http.Server
}

// SetupRouter 设置和配置Gin路由
func SetupRouter(deps Dependencies) *gin.Engine {
	router := gin.Default()

	// 配置CORS中间件
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", api.IdentityHeader, api.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", api.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(api.RequestID())

	apiGroup := router.Group("/api")
	apiGroup.Use(api.Identity())
	if deps.Limiter != nil {
		apiGroup.Use(api.RateLimit(deps.Limiter))
	}

	// 健康检查
	api.NewHealthController(deps.DB, deps.Redis).RegisterRoutes(apiGroup)

	// 投票管理
	api.NewPollController(deps.Store).RegisterRoutes(apiGroup)

	// 实时事件推送
	if deps.Hub != nil {
		lookup := func(ctx context.Context, pollID uint64) error {
			_, err := deps.Store.GetPoll(ctx, pollID)
			return err
		}
		websocket.NewHandler(deps.Hub, lookup).RegisterRoutes(router)
	}

	return router
}

// StartServer 在后台启动HTTP服务器
func StartServer(router *gin.Engine, port string) *Server {
	addr := ":" + port

	srv := &Server{
		&http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	go func() {
		log.Printf("服务器启动在 %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("服务器启动失败: %v", err)
		}
	}()

	return srv
}
