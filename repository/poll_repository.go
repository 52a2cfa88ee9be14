package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"confidential-voting-backend/models"

	"gorm.io/gorm"
)

var (
	// ErrPollNotFound 投票记录不存在（包括从未创建的ID）
	ErrPollNotFound = errors.New("poll not found")
	// ErrDuplicateVoter 同一身份重复写入投票记录
	ErrDuplicateVoter = errors.New("duplicate voter")
)

// PollRepository 定义投票数据访问接口
type PollRepository interface {
	// WithTx 在同一事务内执行 fn，fn 返回错误时整体回滚
	WithTx(ctx context.Context, fn func(repo PollRepository) error) error

	CountPolls(ctx context.Context) (uint64, error)
	CreatePoll(ctx context.Context, poll *models.Poll) error
	GetPoll(ctx context.Context, id uint64) (*models.Poll, error)
	ListPolls(ctx context.Context) ([]models.Poll, error)

	HasVoted(ctx context.Context, pollID uint64, voter string) (bool, error)
	RecordVote(ctx context.Context, pollID uint64, voter string, optionIndex int, at time.Time) error

	EndPoll(ctx context.Context, pollID uint64, caller string, at time.Time) error
	DeletePoll(ctx context.Context, pollID uint64, caller string, at time.Time) error
	ClearAll(ctx context.Context, caller string, at time.Time) (int64, error)
}

// GormPollRepository 基于GORM的投票数据仓库
type GormPollRepository struct {
	db *gorm.DB
}

// NewGormPollRepository 创建投票数据仓库
func NewGormPollRepository(db *gorm.DB) *GormPollRepository {
	return &GormPollRepository{db: db}
}

// WithTx 开启事务
func (r *GormPollRepository) WithTx(ctx context.Context, fn func(repo PollRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormPollRepository{db: tx})
	})
}

// CountPolls 返回已创建的投票总数（包含已删除的投票）
func (r *GormPollRepository) CountPolls(ctx context.Context) (uint64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Poll{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("统计投票数量失败: %w", err)
	}
	return uint64(count), nil
}

// CreatePoll 创建投票及其选项
func (r *GormPollRepository) CreatePoll(ctx context.Context, poll *models.Poll) error {
	if err := r.db.WithContext(ctx).Create(poll).Error; err != nil {
		return fmt.Errorf("创建投票失败: %w", err)
	}
	return nil
}

// GetPoll 根据ID获取投票（包含逻辑删除的记录，由调用方判断）
func (r *GormPollRepository) GetPoll(ctx context.Context, id uint64) (*models.Poll, error) {
	db := r.db.WithContext(ctx)

	var poll models.Poll
	if err := db.First(&poll, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPollNotFound
		}
		return nil, fmt.Errorf("获取投票失败: %w", err)
	}

	// ID从0开始，Preload会跳过主键为零值的记录，选项需单独查询
	if err := db.Where("poll_id = ?", id).Order("idx asc").Find(&poll.Options).Error; err != nil {
		return nil, fmt.Errorf("获取投票选项失败: %w", err)
	}
	return &poll, nil
}

// ListPolls 获取全部未删除的投票，按ID倒序（最新的在前）
func (r *GormPollRepository) ListPolls(ctx context.Context) ([]models.Poll, error) {
	db := r.db.WithContext(ctx)

	var polls []models.Poll
	err := db.Where("deleted = ?", false).
		Order("id desc").
		Find(&polls).Error
	if err != nil {
		return nil, fmt.Errorf("获取投票列表失败: %w", err)
	}
	if len(polls) == 0 {
		return polls, nil
	}

	ids := make([]uint64, len(polls))
	for i, p := range polls {
		ids[i] = p.ID
	}
	var options []models.PollOption
	err = db.Where("poll_id IN ?", ids).
		Order("poll_id asc, idx asc").
		Find(&options).Error
	if err != nil {
		return nil, fmt.Errorf("获取投票选项失败: %w", err)
	}

	byPoll := make(map[uint64][]models.PollOption, len(polls))
	for _, opt := range options {
		byPoll[opt.PollID] = append(byPoll[opt.PollID], opt)
	}
	for i := range polls {
		polls[i].Options = byPoll[polls[i].ID]
	}
	return polls, nil
}

// HasVoted 检查身份是否已在该投票中投过票
func (r *GormPollRepository) HasVoted(ctx context.Context, pollID uint64, voter string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.PollVoter{}).
		Where("poll_id = ? AND voter = ?", pollID, voter).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("查询投票记录失败: %w", err)
	}
	return count > 0, nil
}

// RecordVote 记录投票身份并原子增加选项票数
func (r *GormPollRepository) RecordVote(ctx context.Context, pollID uint64, voter string, optionIndex int, at time.Time) error {
	db := r.db.WithContext(ctx)

	if err := db.Create(&models.PollVoter{PollID: pollID, Voter: voter, CreatedAt: at}).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateVoter
		}
		return fmt.Errorf("写入投票记录失败: %w", err)
	}

	res := db.Model(&models.PollOption{}).
		Where("poll_id = ? AND idx = ?", pollID, optionIndex).
		UpdateColumn("votes", gorm.Expr("votes + ?", 1))
	if res.Error != nil {
		return fmt.Errorf("更新投票计数失败: %w", res.Error)
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("找不到选项: poll=%d option=%d", pollID, optionIndex)
	}

	if err := db.Model(&models.Poll{}).
		Where("id = ?", pollID).
		UpdateColumn("total_voters", gorm.Expr("total_voters + ?", 1)).Error; err != nil {
		return fmt.Errorf("更新投票人数失败: %w", err)
	}
	return nil
}

// EndPoll 提前结束投票
func (r *GormPollRepository) EndPoll(ctx context.Context, pollID uint64, caller string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.Poll{}).
		Where("id = ?", pollID).
		Updates(map[string]interface{}{
			"is_active": false,
			"ended_at":  at,
			"ended_by":  caller,
		}).Error
	if err != nil {
		return fmt.Errorf("结束投票失败: %w", err)
	}
	return nil
}

// DeletePoll 逻辑删除投票，清空标题作为删除标记
func (r *GormPollRepository) DeletePoll(ctx context.Context, pollID uint64, caller string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&models.Poll{}).
		Where("id = ?", pollID).
		Updates(tombstone(caller, at)).Error
	if err != nil {
		return fmt.Errorf("删除投票失败: %w", err)
	}
	return nil
}

// ClearAll 一次性逻辑删除全部投票，返回受影响的数量
func (r *GormPollRepository) ClearAll(ctx context.Context, caller string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.Poll{}).
		Where("deleted = ?", false).
		Updates(tombstone(caller, at))
	if res.Error != nil {
		return 0, fmt.Errorf("清空投票失败: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func tombstone(caller string, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"deleted":    true,
		"title":      "",
		"deleted_at": at,
		"deleted_by": caller,
	}
}
