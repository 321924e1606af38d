package model

import (
	"time"
)

// GiftCardConsumption 礼品卡消费流水
// 只追加，不修改，不删除
type GiftCardConsumption struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CardID        int64     `gorm:"index;not null" json:"card_id"`
	UserID        int64     `gorm:"index;not null" json:"user_id"`
	OrderID       string    `gorm:"type:varchar(64);index;not null" json:"order_id"`
	ConsumeAmount int64     `gorm:"not null" json:"consume_amount"`
	ConsumeTime   time.Time `gorm:"index;not null" json:"consume_time"`
}

func (GiftCardConsumption) TableName() string {
	return "giftcard_consumptions"
}
