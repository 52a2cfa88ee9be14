package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"confidential-voting-backend/cache"
	"confidential-voting-backend/database"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Version 应用版本，可通过构建参数注入
var Version = "0.1.0"

// SystemInfo 系统状态信息
type SystemInfo struct {
	Status       string    `json:"status"`
	Version      string    `json:"version"`
	Uptime       string    `json:"uptime"`
	StartTime    time.Time `json:"start_time"`
	CurrentTime  time.Time `json:"current_time"`
	GoVersion    string    `json:"go_version"`
	NumGoroutine int       `json:"num_goroutine"`
	NumCPU       int       `json:"num_cpu"`
	DBStatus     string    `json:"db_status"`
	RedisStatus  string    `json:"redis_status"`
}

// HealthController 健康检查
type HealthController struct {
	db        *gorm.DB
	redis     cache.RedisClient
	startTime time.Time
}

// NewHealthController 创建健康检查控制器，redis可以为nil
func NewHealthController(db *gorm.DB, redis cache.RedisClient) *HealthController {
	return &HealthController{db: db, redis: redis, startTime: time.Now()}
}

// RegisterRoutes 注册健康检查路由
func (h *HealthController) RegisterRoutes(api *gin.RouterGroup) {
	api.GET("/health", h.HealthCheck)
	api.GET("/status", h.SystemStatus)
}

// HealthCheck 提供基本健康检查端点
func (h *HealthController) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// SystemStatus 提供详细的系统状态信息，数据库不可用时返回503
func (h *HealthController) SystemStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	info := SystemInfo{
		Status:       "ok",
		Version:      Version,
		Uptime:       time.Since(h.startTime).String(),
		StartTime:    h.startTime,
		CurrentTime:  time.Now(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		DBStatus:     "ok",
		RedisStatus:  "disabled",
	}

	if err := database.Ping(ctx, h.db); err != nil {
		info.DBStatus = "error"
		info.Status = "degraded"
	}
	if h.redis != nil {
		info.RedisStatus = "ok"
		if err := cache.Ping(ctx, h.redis); err != nil {
			info.RedisStatus = "error"
			info.Status = "degraded"
		}
	}

	status := http.StatusOK
	if info.DBStatus != "ok" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, info)
}
