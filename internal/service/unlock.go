package service

import (
	"context"
	"fmt"
	"time"

	"giftcard/internal/model"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type UnlockRequest struct {
	CardID  int64  `json:"card_id" validate:"gt=0"`
	UserID  int64  `json:"user_id" validate:"gt=0"`
	OrderID string `json:"order_id" validate:"required,max=64"`
}

// Unlock 释放预占，剩余金额退回余额
// 没有幂等键：重复调用会因为预占已不是 active 而返回 lock_not_found
func (s *CardService) Unlock(ctx context.Context, req UnlockRequest) (err error) {
	const op = "unlock"
	start := time.Now()
	defer func() { observe(op, start, false, err) }()

	if err := s.validateRequest(op, req); err != nil {
		return err
	}

	card, err := s.loadCard(ctx, op, req.CardID)
	if err != nil {
		return err
	}
	existing, err := s.activeLock(ctx, nil, req.CardID, req.OrderID)
	if err != nil {
		return translate(op, err)
	}
	if err := unlockRules.evaluate(op, &facts{userID: req.UserID, card: card, lock: existing}); err != nil {
		return err
	}

	var released int64
	err = s.withCardExclusion(ctx, op, req.CardID, func() error {
		return s.inTx(ctx, op, func(tx *gorm.DB) error {
			card, err := s.cardRepo.GetByIDForUpdate(ctx, tx, req.CardID)
			if err != nil {
				return err
			}
			existing, err := s.activeLock(ctx, tx, req.CardID, req.OrderID)
			if err != nil {
				return err
			}
			if err := unlockRules.evaluate(op, &facts{userID: req.UserID, card: card, lock: existing}); err != nil {
				return err
			}

			released = existing.LockAmount
			return s.releaseLock(ctx, tx, card, existing, model.EventCardUnlocked)
		})
	})
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"card_id":  req.CardID,
		"order_id": req.OrderID,
		"amount":   released,
	}).Info("[CardService] 解锁成功")
	return nil
}

// releaseLock 退回剩余预占金额并把预占置为 released，解锁和过期共用
func (s *CardService) releaseLock(ctx context.Context, tx *gorm.DB, card *model.GiftCard, l *model.GiftCardLock, event string) error {
	if err := s.cardRepo.Credit(ctx, tx, card.ID, l.LockAmount, card.Version); err != nil {
		return err
	}
	if err := s.lockRepo.UpdateStatus(ctx, tx, l.ID, model.LockStatusActive, model.LockStatusReleased); err != nil {
		return err
	}

	if err := s.writeEvent(ctx, tx, &model.CardEvent{
		Event:   event,
		CardID:  card.ID,
		UserID:  l.UserID,
		OrderID: l.OrderID,
		Amount:  l.LockAmount,
		Balance: card.Balance + l.LockAmount,
		Status:  card.Status,
	}); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	return nil
}
