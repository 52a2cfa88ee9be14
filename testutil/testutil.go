// Package testutil 测试辅助工具：内存SQLite数据库、可控时钟和事件记录器
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"confidential-voting-backend/migrations"
	"confidential-voting-backend/models"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB 创建一个独立的内存SQLite数据库并完成迁移
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// 每个测试使用独立的数据库名，避免共享缓存互相干扰
	dsn := "file:" + uuid.New().String() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("Failed to connect to in-memory database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get underlying sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := migrations.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}

// Clock 可手动推进的时钟
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock 创建从 start 开始的时钟
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now 返回当前时间
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance 推进时钟
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// EventRecorder 记录收到的投票事件
type EventRecorder struct {
	mu     sync.Mutex
	events []models.PollEvent
}

// Notify 实现 service.Notifier
func (r *EventRecorder) Notify(_ context.Context, event models.PollEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events 返回已记录事件的副本
func (r *EventRecorder) Events() []models.PollEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.PollEvent, len(r.events))
	copy(out, r.events)
	return out
}
