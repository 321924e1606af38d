package model

import (
	"time"
)

const (
	TemplateStatusActive   = "active"
	TemplateStatusInactive = "inactive"
)

// GiftCardTemplate 发卡模板
// 模板的增删改不在本服务内，这里只读取并维护已发数量
type GiftCardTemplate struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string    `gorm:"type:varchar(120);not null" json:"name"`
	FaceValue    int64     `gorm:"not null" json:"face_value"`               // 面值（分）
	DiscountRate float64   `gorm:"not null" json:"discount_rate"`            // 折扣率
	PerUserLimit int       `gorm:"not null;default:0" json:"per_user_limit"` // 每人限领，0 表示不限
	TotalStock   int       `gorm:"not null;default:0" json:"total_stock"`    // 总库存
	IssuedCount  int       `gorm:"not null;default:0" json:"issued_count"`   // 已发数量
	ValidFrom    time.Time `gorm:"not null" json:"valid_from"`
	ValidTo      time.Time `gorm:"not null" json:"valid_to"`
	Status       string    `gorm:"type:varchar(20);index;not null" json:"status"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (GiftCardTemplate) TableName() string {
	return "giftcard_templates"
}
