package service

import "errors"

var (
	// 业务错误定义，每种错误对应一种可区分的失败原因
	ErrPollNotFound  = errors.New("poll not found")
	ErrForbidden     = errors.New("caller is not the poll creator or an admin")
	ErrAlreadyVoted  = errors.New("caller already voted in this poll")
	ErrAlreadyEnded  = errors.New("poll already ended")
	ErrPollClosed    = errors.New("poll is closed")
	ErrInvalidOption = errors.New("invalid option index")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidBallot = errors.New("ballot verification failed")
)
