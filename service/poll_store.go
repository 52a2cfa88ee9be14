package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"confidential-voting-backend/ballot"
	"confidential-voting-backend/models"
	"confidential-voting-backend/repository"
)

const (
	// DefaultDurationHours 未指定时长时的默认投票时长
	DefaultDurationHours = 24
	// MaxDurationHours 允许的最长投票时长（10年）
	MaxDurationHours = 24 * 365 * 10

	mutationLockName = "polls:mutation"
)

// Locker 跨实例的互斥锁，多个服务实例共享同一数据库时保证写操作全序
type Locker interface {
	WithLock(ctx context.Context, name string, action func() error) error
}

// Notifier 接收已提交的投票事件
type Notifier interface {
	Notify(ctx context.Context, event models.PollEvent)
}

// Option PollStore配置项
type Option func(*PollStore)

// WithAdmins 设置管理员身份集合
func WithAdmins(ids ...string) Option {
	return func(s *PollStore) {
		for _, id := range ids {
			if id = models.NormalizeIdentity(id); id != "" {
				s.admins[id] = struct{}{}
			}
		}
	}
}

// WithClock 替换时间来源，测试时使用
func WithClock(now func() time.Time) Option {
	return func(s *PollStore) { s.now = now }
}

// WithVerifier 设置选票校验器
func WithVerifier(v ballot.Verifier) Option {
	return func(s *PollStore) { s.verifier = v }
}

// WithNotifier 设置事件接收者
func WithNotifier(n Notifier) Option {
	return func(s *PollStore) { s.notifier = n }
}

// WithLocker 设置分布式锁
func WithLocker(l Locker) Option {
	return func(s *PollStore) { s.locker = l }
}

// WithDefaultDuration 设置默认投票时长（小时）
func WithDefaultDuration(hours int) Option {
	return func(s *PollStore) {
		if hours > 0 {
			s.defaultDurationHours = hours
		}
	}
}

// WithCreatorMayDeletePast 允许创建者删除已结束或已过期的投票
func WithCreatorMayDeletePast(allowed bool) Option {
	return func(s *PollStore) { s.creatorMayDeletePast = allowed }
}

// PollStore 管理投票的创建、投票、结束、删除和结果统计
//
// 所有写操作经由同一把写锁串行执行并在单个数据库事务中完成，失败时状态不变；
// 读操作持有读锁，在一个只读事务中得到一致的快照。
// 投票是否过期在读取时根据时钟计算，没有后台任务负责关闭投票。
type PollStore struct {
	mu   sync.RWMutex
	repo repository.PollRepository

	admins               map[string]struct{}
	now                  func() time.Time
	verifier             ballot.Verifier
	notifier             Notifier
	locker               Locker
	defaultDurationHours int
	creatorMayDeletePast bool
}

// NewPollStore 创建PollStore
func NewPollStore(repo repository.PollRepository, opts ...Option) *PollStore {
	s := &PollStore{
		repo:                 repo,
		admins:               make(map[string]struct{}),
		now:                  time.Now,
		verifier:             ballot.FormatVerifier{},
		defaultDurationHours: DefaultDurationHours,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsAdmin 判断身份是否为管理员
func (s *PollStore) IsAdmin(caller string) bool {
	_, ok := s.admins[models.NormalizeIdentity(caller)]
	return ok
}

// CreatePoll 创建投票，返回新投票的ID
// durationHours必须为正数，调用方未指定时长时传入 DefaultDuration()
func (s *PollStore) CreatePoll(ctx context.Context, caller, title string, options []string, durationHours int) (uint64, error) {
	caller = models.NormalizeIdentity(caller)
	if caller == "" {
		return 0, fmt.Errorf("%w: caller identity is required", ErrInvalidInput)
	}

	title = strings.TrimSpace(title)
	if title == "" {
		return 0, fmt.Errorf("%w: title is empty", ErrInvalidInput)
	}

	var texts []string
	for _, opt := range options {
		if opt = strings.TrimSpace(opt); opt != "" {
			texts = append(texts, opt)
		}
	}
	if len(texts) < models.MinOptions {
		return 0, fmt.Errorf("%w: at least %d non-empty options required", ErrInvalidInput, models.MinOptions)
	}
	if len(texts) > models.MaxOptions {
		return 0, fmt.Errorf("%w: at most %d options allowed", ErrInvalidInput, models.MaxOptions)
	}

	if durationHours <= 0 || durationHours > MaxDurationHours {
		return 0, fmt.Errorf("%w: duration must be between 1 and %d hours", ErrInvalidInput, MaxDurationHours)
	}

	now := s.now()
	var id uint64
	err := s.mutate(ctx, models.EventPollCreated, caller, now, func(repo repository.PollRepository) (uint64, error) {
		total, err := repo.CountPolls(ctx)
		if err != nil {
			return 0, err
		}
		id = total

		poll := &models.Poll{
			ID:        id,
			Title:     title,
			Creator:   caller,
			EndTime:   now.Unix() + int64(durationHours)*3600,
			IsActive:  true,
			CreatedAt: now,
			Options:   make([]models.PollOption, len(texts)),
		}
		for i, text := range texts {
			poll.Options[i] = models.PollOption{PollID: id, Index: i, Text: text}
		}
		return id, repo.CreatePoll(ctx, poll)
	})
	if err != nil {
		return 0, err
	}

	log.Printf("投票创建成功: ID=%d, 创建者=%s, 选项数=%d", id, caller, len(texts))
	return id, nil
}

// Vote 对投票的某个选项投出一票
// 检查顺序：投票存在、仍在进行、未投过票、选项合法、选票通过校验
// 选票校验可能访问外部服务，在锁外进行，写入前在锁内重新检查投票状态
func (s *PollStore) Vote(ctx context.Context, caller string, pollID uint64, optionIndex int, b ballot.Ballot) error {
	caller = models.NormalizeIdentity(caller)
	if caller == "" {
		return fmt.Errorf("%w: caller identity is required", ErrInvalidInput)
	}

	err := s.read(ctx, func(repo repository.PollRepository) error {
		return checkVote(ctx, repo, pollID, caller, optionIndex, s.now())
	})
	if err != nil {
		return err
	}

	b.PollID = pollID
	b.Voter = caller
	b.OptionIndex = optionIndex
	if err := s.verifier.Verify(ctx, b); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBallot, err)
	}

	now := s.now()
	err = s.mutate(ctx, models.EventVoteCast, caller, now, func(repo repository.PollRepository) (uint64, error) {
		if err := checkVote(ctx, repo, pollID, caller, optionIndex, now); err != nil {
			return 0, err
		}
		if err := repo.RecordVote(ctx, pollID, caller, optionIndex, now); err != nil {
			if errors.Is(err, repository.ErrDuplicateVoter) {
				return 0, ErrAlreadyVoted
			}
			return 0, err
		}
		return pollID, nil
	})
	if err != nil {
		return err
	}

	log.Printf("投票成功: 投票ID=%d, 投票人=%s", pollID, caller)
	return nil
}

// EndPoll 提前结束投票，仅创建者或管理员可操作
func (s *PollStore) EndPoll(ctx context.Context, caller string, pollID uint64) error {
	caller = models.NormalizeIdentity(caller)

	now := s.now()
	err := s.mutate(ctx, models.EventPollEnded, caller, now, func(repo repository.PollRepository) (uint64, error) {
		poll, err := getLivePoll(ctx, repo, pollID)
		if err != nil {
			return 0, err
		}
		if !s.canManage(caller, poll) {
			return 0, ErrForbidden
		}
		if !poll.IsActive {
			return 0, ErrAlreadyEnded
		}
		return pollID, repo.EndPoll(ctx, pollID, caller, now)
	})
	if err != nil {
		return err
	}

	log.Printf("投票已结束: 投票ID=%d, 操作者=%s", pollID, caller)
	return nil
}

// DeletePoll 逻辑删除投票
// 进行中的投票可由创建者或管理员删除，已结束或已过期的投票默认只有管理员可删除
func (s *PollStore) DeletePoll(ctx context.Context, caller string, pollID uint64) error {
	caller = models.NormalizeIdentity(caller)

	now := s.now()
	err := s.mutate(ctx, models.EventPollDeleted, caller, now, func(repo repository.PollRepository) (uint64, error) {
		poll, err := getLivePoll(ctx, repo, pollID)
		if err != nil {
			return 0, err
		}
		if !s.canDelete(caller, poll, now) {
			return 0, ErrForbidden
		}
		return pollID, repo.DeletePoll(ctx, pollID, caller, now)
	})
	if err != nil {
		return err
	}

	log.Printf("投票已删除: 投票ID=%d, 操作者=%s", pollID, caller)
	return nil
}

// ClearAllPolls 在一个事务中逻辑删除全部投票，仅管理员可操作
func (s *PollStore) ClearAllPolls(ctx context.Context, caller string) error {
	caller = models.NormalizeIdentity(caller)
	if !s.IsAdmin(caller) {
		return ErrForbidden
	}

	now := s.now()
	var cleared int64
	err := s.mutate(ctx, models.EventPollsCleared, caller, now, func(repo repository.PollRepository) (uint64, error) {
		var err error
		cleared, err = repo.ClearAll(ctx, caller, now)
		return 0, err
	})
	if err != nil {
		return err
	}

	log.Printf("已清空全部投票: 数量=%d, 操作者=%s", cleared, caller)
	return nil
}

// GetPoll 获取未删除的投票详情
func (s *PollStore) GetPoll(ctx context.Context, pollID uint64) (*models.Poll, error) {
	var poll *models.Poll
	err := s.read(ctx, func(repo repository.PollRepository) error {
		var err error
		poll, err = getLivePoll(ctx, repo, pollID)
		return err
	})
	return poll, err
}

// GetWinner 计算投票的获胜选项
func (s *PollStore) GetWinner(ctx context.Context, pollID uint64) (models.Winner, error) {
	poll, err := s.GetPoll(ctx, pollID)
	if err != nil {
		return models.Winner{}, err
	}
	return Tally(poll.VoteCounts()), nil
}

// GetVoteCount 获取某个选项的票数
func (s *PollStore) GetVoteCount(ctx context.Context, pollID uint64, optionIndex int) (int64, error) {
	poll, err := s.GetPoll(ctx, pollID)
	if err != nil {
		return 0, err
	}
	if optionIndex < 0 || optionIndex >= len(poll.Options) {
		return 0, fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidOption, optionIndex, len(poll.Options))
	}
	return poll.Options[optionIndex].Votes, nil
}

// IsPollActive 判断投票当前是否接受投票
func (s *PollStore) IsPollActive(ctx context.Context, pollID uint64) (bool, error) {
	poll, err := s.GetPoll(ctx, pollID)
	if err != nil {
		return false, err
	}
	return poll.IsCurrentlyActive(s.now()), nil
}

// HasVoted 判断身份是否已在投票中投过票
func (s *PollStore) HasVoted(ctx context.Context, pollID uint64, voter string) (bool, error) {
	voter = models.NormalizeIdentity(voter)
	var voted bool
	err := s.read(ctx, func(repo repository.PollRepository) error {
		if _, err := getLivePoll(ctx, repo, pollID); err != nil {
			return err
		}
		var err error
		voted, err = repo.HasVoted(ctx, pollID, voter)
		return err
	})
	return voted, err
}

// TotalPolls 返回已分配的投票ID数量，已删除的投票同样计入
func (s *PollStore) TotalPolls(ctx context.Context) (uint64, error) {
	var total uint64
	err := s.read(ctx, func(repo repository.PollRepository) error {
		var err error
		total, err = repo.CountPolls(ctx)
		return err
	})
	return total, err
}

// ListPolls 按给定时间把未删除的投票分为进行中和已结束两组，均按创建时间倒序
// 未被提前结束但已过期的投票归入已结束
func (s *PollStore) ListPolls(ctx context.Context, now time.Time) (active, past []models.Poll, err error) {
	var polls []models.Poll
	err = s.read(ctx, func(repo repository.PollRepository) error {
		var err error
		polls, err = repo.ListPolls(ctx)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	active = make([]models.Poll, 0, len(polls))
	past = make([]models.Poll, 0)
	for _, p := range polls {
		if p.IsCurrentlyActive(now) {
			active = append(active, p)
		} else {
			past = append(past, p)
		}
	}
	return active, past, nil
}

// DefaultDuration 返回未指定时长时使用的投票时长（小时）
func (s *PollStore) DefaultDuration() int {
	return s.defaultDurationHours
}

// Now 返回PollStore使用的当前时间
func (s *PollStore) Now() time.Time {
	return s.now()
}

func (s *PollStore) canManage(caller string, poll *models.Poll) bool {
	if caller == "" {
		return false
	}
	return caller == poll.Creator || s.IsAdmin(caller)
}

func (s *PollStore) canDelete(caller string, poll *models.Poll, now time.Time) bool {
	if s.IsAdmin(caller) {
		return true
	}
	if caller == "" || caller != poll.Creator {
		return false
	}
	return s.creatorMayDeletePast || poll.IsCurrentlyActive(now)
}

// mutate 在写锁和事务内执行fn，提交成功后仍持有写锁时发出事件，事件顺序与提交顺序一致
// fn返回事件对应的投票ID
func (s *PollStore) mutate(ctx context.Context, typ models.EventType, caller string, at time.Time,
	fn func(repo repository.PollRepository) (uint64, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pollID uint64
	run := func() error {
		return s.repo.WithTx(ctx, func(repo repository.PollRepository) error {
			var err error
			pollID, err = fn(repo)
			return err
		})
	}

	var err error
	if s.locker != nil {
		err = s.locker.WithLock(ctx, mutationLockName, run)
	} else {
		err = run()
	}
	if err != nil {
		return err
	}

	s.notify(ctx, typ, pollID, caller, at)
	return nil
}

func (s *PollStore) read(ctx context.Context, fn func(repo repository.PollRepository) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo.WithTx(ctx, fn)
}

func (s *PollStore) notify(ctx context.Context, typ models.EventType, pollID uint64, caller string, at time.Time) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, models.PollEvent{
		Type:   typ,
		PollID: pollID,
		Caller: caller,
		At:     at,
	})
}

// checkVote 投票前的状态检查
func checkVote(ctx context.Context, repo repository.PollRepository, pollID uint64, caller string, optionIndex int, now time.Time) error {
	poll, err := getLivePoll(ctx, repo, pollID)
	if err != nil {
		return err
	}
	if !poll.IsCurrentlyActive(now) {
		return ErrPollClosed
	}

	voted, err := repo.HasVoted(ctx, pollID, caller)
	if err != nil {
		return err
	}
	if voted {
		return ErrAlreadyVoted
	}

	if optionIndex < 0 || optionIndex >= len(poll.Options) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrInvalidOption, optionIndex, len(poll.Options))
	}
	return nil
}

// getLivePoll 已删除的投票与不存在的投票同样返回ErrPollNotFound
func getLivePoll(ctx context.Context, repo repository.PollRepository, pollID uint64) (*models.Poll, error) {
	poll, err := repo.GetPoll(ctx, pollID)
	if err != nil {
		if errors.Is(err, repository.ErrPollNotFound) {
			return nil, ErrPollNotFound
		}
		return nil, err
	}
	if poll.Deleted {
		return nil, ErrPollNotFound
	}
	return poll, nil
}
