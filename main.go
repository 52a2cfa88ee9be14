package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"confidential-voting-backend/api"
	"confidential-voting-backend/ballot"
	"confidential-voting-backend/cache"
	"confidential-voting-backend/config"
	"confidential-voting-backend/database"
	"confidential-voting-backend/mq"
	"confidential-voting-backend/repository"
	"confidential-voting-backend/routes"
	"confidential-voting-backend/service"
	"confidential-voting-backend/websocket"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 初始化数据库连接
	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("无法初始化数据库: %v", err)
	}
	defer database.Close(db)

	// 初始化Redis连接，未配置时以单实例模式运行
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = cache.NewClient(context.Background(), cache.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Fatalf("无法初始化Redis: %v", err)
		}
		defer cache.Close(redisClient)
	} else {
		log.Println("未配置REDIS_ADDR，分布式锁和Redis限流已禁用")
	}
	var sharedRedis cache.RedisClient
	if redisClient != nil {
		sharedRedis = redisClient
	}

	verifier, err := ballot.New(cfg.BallotVerifier)
	if err != nil {
		log.Fatalf("初始化选票校验器失败: %v", err)
	}

	// 事件下游：WebSocket推送加可选的消息队列
	hub := websocket.NewHub()
	go hub.Run()

	events := mq.NewFanout(hub)
	publisher, err := mq.NewPublisher(cfg, sharedRedis)
	if err != nil {
		log.Fatalf("初始化消息队列失败: %v", err)
	}
	events.Add(publisher)
	defer func() {
		if err := events.Close(); err != nil {
			log.Printf("关闭事件下游失败: %v", err)
		}
	}()

	opts := []service.Option{
		service.WithAdmins(cfg.AdminAddresses...),
		service.WithVerifier(verifier),
		service.WithNotifier(events),
		service.WithDefaultDuration(cfg.DefaultDurationHours),
		service.WithCreatorMayDeletePast(cfg.CreatorMayDeletePast),
	}
	if redisClient != nil {
		opts = append(opts, service.WithLocker(cache.NewDistributedLockService(redisClient, cache.DefaultLockExpiry)))
	}
	store := service.NewPollStore(repository.NewGormPollRepository(db), opts...)
	if len(cfg.AdminAddresses) == 0 {
		log.Println("警告: 未配置ADMIN_ADDRESSES，清空投票等管理操作不可用")
	}

	var limiter api.Limiter
	if cfg.RateLimitEnabled {
		if sharedRedis != nil {
			limiter = api.NewRedisLimiter(sharedRedis, cfg.GlobalRateLimit, cfg.UserRateLimit)
		} else {
			limiter = api.NewLocalLimiter(cfg.GlobalRateLimit, cfg.UserRateLimit)
		}
		log.Printf("限流器已初始化：全局速率=%d/秒，用户速率=%d/秒", cfg.GlobalRateLimit, cfg.UserRateLimit)
	}

	router := routes.SetupRouter(routes.Dependencies{
		Store:   store,
		DB:      db,
		Redis:   sharedRedis,
		Hub:     hub,
		Limiter: limiter,
	})
	srv := routes.StartServer(router, cfg.ServerPort)

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("关闭服务器...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 不接受新请求并等待现有请求完成
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("服务器强制关闭: %v", err)
	}

	log.Println("服务器优雅关闭")
}
