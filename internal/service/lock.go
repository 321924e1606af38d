package service

import (
	"context"
	"fmt"
	"time"

	"giftcard/internal/model"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type LockRequest struct {
	CardID         int64  `json:"card_id" validate:"gt=0"`
	UserID         int64  `json:"user_id" validate:"gt=0"`
	OrderID        string `json:"order_id" validate:"required,max=64"`
	LockAmount     int64  `json:"lock_amount" validate:"gt=0"`
	LockTTLSeconds int    `json:"lock_ttl_seconds" validate:"gt=0"`
}

// Lock 为订单预占余额
//
// 同一 (card, order) 已有生效预占时拒绝（lock_already_active），
// 调用方需要先解锁或消费。
func (s *CardService) Lock(ctx context.Context, req LockRequest) (result *model.GiftCardLock, err error) {
	const op = "lock"
	start := time.Now()
	defer func() { observe(op, start, false, err) }()

	if err := s.validateRequest(op, req); err != nil {
		return nil, err
	}
	ttl := time.Duration(req.LockTTLSeconds) * time.Second
	if ttl > s.opts.MaxLockTTL {
		return nil, newError(op, ErrValidation, ReasonInvalidArgument,
			fmt.Errorf("预占时长不能超过 %s", s.opts.MaxLockTTL))
	}

	// 加锁前快速失败
	card, err := s.loadCard(ctx, op, req.CardID)
	if err != nil {
		return nil, err
	}
	existing, err := s.activeLock(ctx, nil, req.CardID, req.OrderID)
	if err != nil {
		return nil, translate(op, err)
	}
	f := &facts{now: s.now(), userID: req.UserID, amount: req.LockAmount, card: card, lock: existing}
	if err := lockRules.evaluate(op, f); err != nil {
		return nil, err
	}

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
			now := s.now()
			f := &facts{now: now, userID: req.UserID, amount: req.LockAmount, card: card, lock: existing}
			if err := lockRules.evaluate(op, f); err != nil {
				return err
			}

			l := &model.GiftCardLock{
				CardID:     card.ID,
				UserID:     req.UserID,
				OrderID:    req.OrderID,
				LockAmount: req.LockAmount,
				Expiry:     now.Add(ttl),
				Status:     model.LockStatusActive,
			}
			if err := s.lockRepo.Create(ctx, tx, l); err != nil {
				return fmt.Errorf("创建预占失败: %w", err)
			}

			if err := s.cardRepo.Debit(ctx, tx, card.ID, req.LockAmount, card.Version); err != nil {
				return err
			}

			if err := s.writeEvent(ctx, tx, &model.CardEvent{
				Event:   model.EventCardLocked,
				CardID:  card.ID,
				UserID:  req.UserID,
				OrderID: req.OrderID,
				Amount:  req.LockAmount,
				Balance: card.Balance - req.LockAmount,
				Status:  card.Status,
			}); err != nil {
				return fmt.Errorf("写入消息失败: %w", err)
			}

			result = l
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"card_id":  req.CardID,
		"order_id": req.OrderID,
		"amount":   req.LockAmount,
	}).Info("[CardService] 预占成功")
	return result, nil
}
