package repository

import (
	"context"

	"giftcard/internal/model"

	"gorm.io/gorm"
)

type ConsumptionRepository struct {
	db *gorm.DB
}

func NewConsumptionRepository(db *gorm.DB) *ConsumptionRepository {
	return &ConsumptionRepository{db: db}
}

func (r *ConsumptionRepository) Create(ctx context.Context, tx *gorm.DB, c *model.GiftCardConsumption) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(c).Error
}

func (r *ConsumptionRepository) ListByCard(ctx context.Context, cardID int64) ([]*model.GiftCardConsumption, error) {
	var records []*model.GiftCardConsumption
	err := r.db.WithContext(ctx).
		Where("card_id = ?", cardID).
		Order("consume_time ASC, id ASC").
		Find(&records).Error
	return records, err
}
