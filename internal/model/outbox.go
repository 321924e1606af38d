package model

import (
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// 礼品卡事件类型，和账本变更在同一个事务里写入
const (
	EventCardIssued      = "giftcard.issued"
	EventCardLocked      = "giftcard.locked"
	EventCardConsumed    = "giftcard.consumed"
	EventCardUnlocked    = "giftcard.unlocked"
	EventCardLockExpired = "giftcard.lock_expired"
	EventCardFrozen      = "giftcard.frozen"
	EventCardUnfrozen    = "giftcard.unfrozen"
)

type OutboxMessage struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	MessageKey string    `gorm:"type:varchar(64);not null" json:"message_key"`
	Topic      string    `gorm:"type:varchar(64);not null" json:"topic"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	Status     string    `gorm:"type:varchar(20);index;not null;default:PENDING" json:"status"`
	RetryCount int       `gorm:"not null;default:0" json:"retry_count"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (OutboxMessage) TableName() string {
	return "outbox_message"
}

// CardEvent 礼品卡事件消息体
type CardEvent struct {
	Event      string    `json:"event"`
	EventNo    string    `json:"event_no"`
	CardID     int64     `json:"card_id"`
	UserID     int64     `json:"user_id"`
	OrderID    string    `json:"order_id,omitempty"`
	Amount     int64     `json:"amount"`
	Balance    int64     `json:"balance"`
	Status     string    `json:"status"`
	CardIDs    []int64   `json:"card_ids,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}
