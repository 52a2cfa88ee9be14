package models

import (
	"time"
)

// 投票选项数量限制
const (
	MinOptions = 2
	MaxOptions = 10
)

// Poll 投票活动，删除时只做逻辑删除（Deleted + 清空标题），ID 永不复用
type Poll struct {
	ID          uint64       `gorm:"primaryKey;autoIncrement:false" json:"id"`
	Title       string       `gorm:"not null" json:"title"`
	Creator     string       `gorm:"not null;index;size:128" json:"creator"`
	EndTime     int64        `gorm:"not null" json:"end_time"` // unix秒，创建后不可修改
	IsActive    bool         `gorm:"not null" json:"is_active"`
	TotalVoters int64        `gorm:"not null" json:"total_voters"`
	Deleted     bool         `gorm:"not null;index" json:"-"`
	Options     []PollOption `gorm:"foreignKey:PollID" json:"options"`
	CreatedAt   time.Time    `json:"created_at"`
	EndedAt     *time.Time   `json:"ended_at,omitempty"`
	EndedBy     string       `gorm:"size:128" json:"ended_by,omitempty"`
	DeletedAt   *time.Time   `json:"-"`
	DeletedBy   string       `gorm:"size:128" json:"-"`
}

// PollOption 投票选项，Index 为选项在投票中的下标
type PollOption struct {
	PollID uint64 `gorm:"primaryKey;autoIncrement:false" json:"-"`
	Index  int    `gorm:"primaryKey;autoIncrement:false;column:idx" json:"index"`
	Text   string `gorm:"not null" json:"text"`
	Votes  int64  `gorm:"not null;default:0" json:"votes"`
}

// PollVoter 记录已投票的身份，复合主键保证每个身份每个投票只出现一次
type PollVoter struct {
	PollID    uint64    `gorm:"primaryKey;autoIncrement:false"`
	Voter     string    `gorm:"primaryKey;size:128"`
	CreatedAt time.Time
}

// IsCurrentlyActive 判断投票在给定时间点是否仍可投票
// IsActive 表示是否被提前结束，EndTime 表示自然过期，两者独立
func (p *Poll) IsCurrentlyActive(now time.Time) bool {
	return p.IsActive && p.EndTime > now.Unix()
}

// OptionTexts 返回按下标排序的选项文本
func (p *Poll) OptionTexts() []string {
	texts := make([]string, len(p.Options))
	for i, opt := range p.Options {
		texts[i] = opt.Text
	}
	return texts
}

// VoteCounts 返回按下标排序的票数
func (p *Poll) VoteCounts() []int64 {
	counts := make([]int64, len(p.Options))
	for i, opt := range p.Options {
		counts[i] = opt.Votes
	}
	return counts
}

// Winner 投票结果，平票时列出全部并列选项
type Winner struct {
	WinningOptions []int `json:"winning_options"`
	MaxVotes       int64 `json:"max_votes"`
	HasTie         bool  `json:"has_tie"`
}
