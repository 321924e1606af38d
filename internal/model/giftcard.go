package model

import (
	"time"
)

const (
	CardStatusAvailable = "available"
	CardStatusFrozen    = "frozen"
	CardStatusUsed      = "used"
)

// IsValidCardStatus 校验查询参数中的卡状态
func IsValidCardStatus(status string) bool {
	switch status {
	case CardStatusAvailable, CardStatusFrozen, CardStatusUsed:
		return true
	}
	return false
}

// GiftCard 礼品卡表
// 余额是整个系统唯一被并发争抢的可变资源，只允许 CardService 在持有卡锁 + 事务的前提下修改
type GiftCard struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CardNo       string    `gorm:"type:varchar(32);uniqueIndex;not null" json:"card_no"`            // 卡号（带 Luhn 校验位）
	UserID       int64     `gorm:"index;not null" json:"user_id"`                                   // 持卡用户
	TemplateID   int64     `gorm:"index;not null" json:"template_id"`                               // 发卡模板
	Balance      int64     `gorm:"not null;default:0" json:"balance"`                               // 可用余额（分），永远 >= 0
	DiscountRate float64   `gorm:"not null" json:"discount_rate"`                                   // 折扣率
	ValidFrom    time.Time `gorm:"not null" json:"valid_from"`                                      // 生效时间
	ValidTo      time.Time `gorm:"not null" json:"valid_to"`                                        // 失效时间
	Status       string    `gorm:"type:varchar(20);index;not null;default:available" json:"status"` // 卡状态
	Version      int       `gorm:"not null;default:0" json:"version"`                               // 乐观锁版本号
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (GiftCard) TableName() string {
	return "giftcards"
}

// InValidity 判断 t 是否落在卡的有效期内（闭区间）
func (c *GiftCard) InValidity(t time.Time) bool {
	return !t.Before(c.ValidFrom) && !t.After(c.ValidTo)
}
