package repository

import (
	"context"
	"errors"

	"giftcard/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrCardNotFound     = errors.New("礼品卡不存在")
	ErrBalanceNotEnough = errors.New("余额不足")
	ErrVersionConflict  = errors.New("乐观锁冲突，请重试")
)

type GiftCardRepository struct {
	db *gorm.DB
}

func NewGiftCardRepository(db *gorm.DB) *GiftCardRepository {
	return &GiftCardRepository{db: db}
}

func (r *GiftCardRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

// CreateBatch 批量插入新卡，卡号冲突时整批失败
func (r *GiftCardRepository) CreateBatch(ctx context.Context, tx *gorm.DB, cards []*model.GiftCard) error {
	if len(cards) == 0 {
		return nil
	}
	return r.conn(tx).WithContext(ctx).Create(&cards).Error
}

func (r *GiftCardRepository) GetByID(ctx context.Context, id int64) (*model.GiftCard, error) {
	var card model.GiftCard
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&card).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCardNotFound
		}
		return nil, err
	}
	return &card, nil
}

// GetByIDForUpdate 事务内加行锁读取
func (r *GiftCardRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.GiftCard, error) {
	var card model.GiftCard
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&card).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCardNotFound
		}
		return nil, err
	}
	return &card, nil
}

func (r *GiftCardRepository) ExistsByCardNo(ctx context.Context, tx *gorm.DB, cardNo string) (bool, error) {
	var count int64
	err := r.conn(tx).WithContext(ctx).
		Model(&model.GiftCard{}).
		Where("card_no = ?", cardNo).
		Count(&count).Error
	return count > 0, err
}

func (r *GiftCardRepository) CountByUserAndTemplate(ctx context.Context, tx *gorm.DB, userID, templateID int64) (int64, error) {
	var count int64
	err := r.conn(tx).WithContext(ctx).
		Model(&model.GiftCard{}).
		Where("user_id = ? AND template_id = ?", userID, templateID).
		Count(&count).Error
	return count, err
}

// ListByUser 查询用户的卡，status 为空时返回全部
func (r *GiftCardRepository) ListByUser(ctx context.Context, userID int64, status string) ([]*model.GiftCard, error) {
	var cards []*model.GiftCard
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	err := query.Order("created_at DESC, id DESC").Find(&cards).Error
	return cards, err
}

// Debit 扣减余额
//
// 【关键点】WHERE balance >= amount AND version = ?
// 余额不会被扣成负数；版本号不一致说明读到的是旧数据
func (r *GiftCardRepository) Debit(ctx context.Context, tx *gorm.DB, cardID, amount int64, version int) error {
	result := tx.WithContext(ctx).
		Model(&model.GiftCard{}).
		Where("id = ? AND balance >= ? AND version = ?", cardID, amount, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance - ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		var card model.GiftCard
		if err := tx.WithContext(ctx).Where("id = ?", cardID).First(&card).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrCardNotFound
			}
			return err
		}
		if card.Balance < amount {
			return ErrBalanceNotEnough
		}
		return ErrVersionConflict
	}

	return nil
}

// Credit 退回余额
func (r *GiftCardRepository) Credit(ctx context.Context, tx *gorm.DB, cardID, amount int64, version int) error {
	result := tx.WithContext(ctx).
		Model(&model.GiftCard{}).
		Where("id = ? AND version = ?", cardID, version).
		Updates(map[string]interface{}{
			"balance": gorm.Expr("balance + ?", amount),
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}

	return nil
}

// UpdateStatus 按版本号更新卡状态
func (r *GiftCardRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, cardID int64, status string, version int) error {
	result := tx.WithContext(ctx).
		Model(&model.GiftCard{}).
		Where("id = ? AND version = ?", cardID, version).
		Updates(map[string]interface{}{
			"status":  status,
			"version": gorm.Expr("version + 1"),
		})

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}

	return nil
}
