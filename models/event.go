package models

import (
	"encoding/json"
	"time"
)

// EventType 投票事件类型
type EventType string

const (
	EventPollCreated  EventType = "poll_created"
	EventVoteCast     EventType = "vote_cast"
	EventPollEnded    EventType = "poll_ended"
	EventPollDeleted  EventType = "poll_deleted"
	EventPollsCleared EventType = "polls_cleared"
)

// PollEvent 在变更提交后发出，不包含任何选票内容
type PollEvent struct {
	MessageID string    `json:"message_id,omitempty"`
	Type      EventType `json:"type"`
	PollID    uint64    `json:"poll_id"`
	Caller    string    `json:"caller"`
	At        time.Time `json:"at"`
}

// ToJSON 将事件转换为JSON字节数组
func (e *PollEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
