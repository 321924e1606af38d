package repository

import (
	"context"
	"errors"

	"giftcard/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrTemplateNotFound = errors.New("发卡模板不存在")
	ErrStockNotEnough   = errors.New("模板库存不足")
)

type TemplateRepository struct {
	db *gorm.DB
}

func NewTemplateRepository(db *gorm.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

func (r *TemplateRepository) GetByID(ctx context.Context, id int64) (*model.GiftCardTemplate, error) {
	var tpl model.GiftCardTemplate
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&tpl).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}
	return &tpl, nil
}

func (r *TemplateRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.GiftCardTemplate, error) {
	var tpl model.GiftCardTemplate
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&tpl).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}
	return &tpl, nil
}

// IncreaseIssuedCount 增加已发数量
//
// 【关键点】WHERE issued_count + delta <= total_stock，库存不会被超发
func (r *TemplateRepository) IncreaseIssuedCount(ctx context.Context, tx *gorm.DB, id int64, delta int) error {
	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.GiftCardTemplate{}).
		Where("id = ? AND issued_count + ? <= total_stock", id, delta).
		UpdateColumn("issued_count", gorm.Expr("issued_count + ?", delta))

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		if _, err := r.GetByIDForUpdate(ctx, tx, id); err != nil {
			return err
		}
		return ErrStockNotEnough
	}

	return nil
}
