package service

import "confidential-voting-backend/models"

// Tally 计算得票最多的选项
// 平票时不做取舍，全部并列选项按下标升序返回；全部为0票时每个选项都算并列
func Tally(counts []int64) models.Winner {
	winner := models.Winner{WinningOptions: []int{}}
	if len(counts) == 0 {
		return winner
	}

	winner.MaxVotes = counts[0]
	for _, c := range counts[1:] {
		if c > winner.MaxVotes {
			winner.MaxVotes = c
		}
	}
	for i, c := range counts {
		if c == winner.MaxVotes {
			winner.WinningOptions = append(winner.WinningOptions, i)
		}
	}
	winner.HasTie = len(winner.WinningOptions) > 1
	return winner
}
