package repository

import (
	"context"
	"errors"
	"time"

	"giftcard/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrLockNotFound      = errors.New("预占记录不存在")
	ErrLockStatusInvalid = errors.New("预占状态不合法")
)

type LockRepository struct {
	db *gorm.DB
}

func NewLockRepository(db *gorm.DB) *LockRepository {
	return &LockRepository{db: db}
}

func (r *LockRepository) Create(ctx context.Context, tx *gorm.DB, lock *model.GiftCardLock) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(lock).Error
}

// GetActive 查询 (card_id, order_id) 上的生效预占，tx 为空时不加锁
func (r *LockRepository) GetActive(ctx context.Context, tx *gorm.DB, cardID int64, orderID string) (*model.GiftCardLock, error) {
	query := r.db
	if tx != nil {
		query = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var lock model.GiftCardLock
	err := query.WithContext(ctx).
		Where("card_id = ? AND order_id = ? AND status = ?", cardID, orderID, model.LockStatusActive).
		Order("id DESC").
		First(&lock).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLockNotFound
		}
		return nil, err
	}
	return &lock, nil
}

func (r *LockRepository) GetByID(ctx context.Context, id int64) (*model.GiftCardLock, error) {
	var lock model.GiftCardLock
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&lock).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLockNotFound
		}
		return nil, err
	}
	return &lock, nil
}

func (r *LockRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.GiftCardLock, error) {
	var lock model.GiftCardLock
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&lock).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLockNotFound
		}
		return nil, err
	}
	return &lock, nil
}

// Deduct 从预占中扣除 amount，扣完则关闭
//
// 条件更新 lock_amount = 旧值，防止同一笔预占被并发扣两次
func (r *LockRepository) Deduct(ctx context.Context, tx *gorm.DB, lock *model.GiftCardLock, amount int64) (*model.GiftCardLock, error) {
	remaining := lock.LockAmount - amount
	status := model.LockStatusActive
	if remaining <= 0 {
		remaining = 0
		status = model.LockStatusClosed
	}

	result := tx.WithContext(ctx).
		Model(&model.GiftCardLock{}).
		Where("id = ? AND status = ? AND lock_amount = ?", lock.ID, model.LockStatusActive, lock.LockAmount).
		Updates(map[string]interface{}{
			"lock_amount": remaining,
			"status":      status,
		})

	if result.Error != nil {
		return nil, result.Error
	}

	if result.RowsAffected == 0 {
		return nil, ErrLockStatusInvalid
	}

	updated := *lock
	updated.LockAmount = remaining
	updated.Status = status
	return &updated, nil
}

func (r *LockRepository) UpdateStatus(ctx context.Context, tx *gorm.DB, lockID int64, fromStatus, toStatus string) error {
	if !model.CanLockTransitionTo(fromStatus, toStatus) {
		return ErrLockStatusInvalid
	}

	if tx == nil {
		tx = r.db
	}

	result := tx.WithContext(ctx).
		Model(&model.GiftCardLock{}).
		Where("id = ? AND status = ?", lockID, fromStatus).
		Update("status", toStatus)

	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return ErrLockStatusInvalid
	}

	return nil
}

// CountActiveByCard 卡上仍生效的预占数量
func (r *LockRepository) CountActiveByCard(ctx context.Context, tx *gorm.DB, cardID int64) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	var count int64
	err := tx.WithContext(ctx).
		Model(&model.GiftCardLock{}).
		Where("card_id = ? AND status = ?", cardID, model.LockStatusActive).
		Count(&count).Error
	return count, err
}

func (r *LockRepository) ListByCard(ctx context.Context, cardID int64) ([]*model.GiftCardLock, error) {
	var locks []*model.GiftCardLock
	err := r.db.WithContext(ctx).
		Where("card_id = ?", cardID).
		Order("id ASC").
		Find(&locks).Error
	return locks, err
}

// GetExpiredActive 查询已过期但仍生效的预占
func (r *LockRepository) GetExpiredActive(ctx context.Context, now time.Time, limit int) ([]*model.GiftCardLock, error) {
	var locks []*model.GiftCardLock
	err := r.db.WithContext(ctx).
		Where("status = ? AND expiry < ?", model.LockStatusActive, now).
		Order("expiry ASC").
		Limit(limit).
		Find(&locks).Error
	return locks, err
}
