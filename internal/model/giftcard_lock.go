package model

import (
	"time"
)

// ============================================================================
// 预占状态
// ============================================================================
//
// active --(全额消费)--> closed
// active --(解锁/过期)--> released
//
// closed、released 为终态

const (
	LockStatusActive   = "active"
	LockStatusClosed   = "closed"
	LockStatusReleased = "released"
)

var ValidLockTransitions = map[string][]string{
	LockStatusActive: {LockStatusClosed, LockStatusReleased},
}

func CanLockTransitionTo(currentStatus, targetStatus string) bool {
	for _, s := range ValidLockTransitions[currentStatus] {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// GiftCardLock 礼品卡预占记录
// LockAmount 记录的是剩余预占金额，部分消费后会减少
type GiftCardLock struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CardID     int64     `gorm:"index:idx_lock_card_order;not null" json:"card_id"`
	UserID     int64     `gorm:"index;not null" json:"user_id"`
	OrderID    string    `gorm:"type:varchar(64);index:idx_lock_card_order;not null" json:"order_id"`
	LockAmount int64     `gorm:"not null" json:"lock_amount"`
	Expiry     time.Time `gorm:"index;not null" json:"expiry"`
	Status     string    `gorm:"type:varchar(20);index;not null" json:"status"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (GiftCardLock) TableName() string {
	return "giftcard_locks"
}

func (l *GiftCardLock) Expired(now time.Time) bool {
	return now.After(l.Expiry)
}
