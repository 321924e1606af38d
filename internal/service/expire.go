package service

import (
	"context"
	"time"

	"giftcard/internal/model"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ListExpiredLocks 已过期但仍为 active 的预占，供过期任务分批处理
func (s *CardService) ListExpiredLocks(ctx context.Context, limit int) ([]*model.GiftCardLock, error) {
	locks, err := s.lockRepo.GetExpiredActive(ctx, s.now(), limit)
	if err != nil {
		return nil, translate("list_expired_locks", err)
	}
	return locks, nil
}

// ExpireLock 释放一条已过期的预占，金额退回余额
// 互斥锁被占用时返回 ErrBusy，由过期任务下一轮重试
func (s *CardService) ExpireLock(ctx context.Context, lockID int64) (err error) {
	const op = "expire_lock"
	start := time.Now()
	defer func() { observe(op, start, false, err) }()

	l, err := s.lockRepo.GetByID(ctx, lockID)
	if err != nil {
		return translate(op, err)
	}
	if err := expireRules.evaluate(op, &facts{now: s.now(), lock: l}); err != nil {
		return err
	}

	err = s.withCardExclusion(ctx, op, l.CardID, func() error {
		return s.inTx(ctx, op, func(tx *gorm.DB) error {
			l, err := s.lockRepo.GetByIDForUpdate(ctx, tx, lockID)
			if err != nil {
				return err
			}
			if err := expireRules.evaluate(op, &facts{now: s.now(), lock: l}); err != nil {
				return err
			}
			card, err := s.cardRepo.GetByIDForUpdate(ctx, tx, l.CardID)
			if err != nil {
				return err
			}
			return s.releaseLock(ctx, tx, card, l, model.EventCardLockExpired)
		})
	})
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"lock_id":  l.ID,
		"card_id":  l.CardID,
		"order_id": l.OrderID,
		"amount":   l.LockAmount,
	}).Info("[CardService] 预占过期释放")
	return nil
}
