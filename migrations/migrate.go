package migrations

import (
	"fmt"
	"log"

	"confidential-voting-backend/models"

	"gorm.io/gorm"
)

// Migrate 迁移投票相关表结构
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.Poll{}, &models.PollOption{}, &models.PollVoter{}); err != nil {
		return fmt.Errorf("迁移模型失败: %w", err)
	}

	// 列表查询按 deleted + id 倒序扫描
	if !db.Migrator().HasIndex(&models.Poll{}, "idx_polls_listing") {
		if err := db.Exec("CREATE INDEX idx_polls_listing ON polls (deleted, id)").Error; err != nil {
			log.Printf("迁移失败: %v", err)
			return fmt.Errorf("创建列表索引失败: %w", err)
		}
		log.Println("迁移成功: 已创建idx_polls_listing索引")
	}

	return nil
}
