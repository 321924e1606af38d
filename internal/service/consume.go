package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"giftcard/internal/infrastructure/cache"
	"giftcard/internal/model"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type ConsumeRequest struct {
	CardID         int64  `json:"card_id" validate:"gt=0"`
	UserID         int64  `json:"user_id" validate:"gt=0"`
	OrderID        string `json:"order_id" validate:"required,max=64"`
	ConsumeAmount  int64  `json:"consume_amount" validate:"gt=0"`
	IdempotencyKey string `json:"idempotency_key" validate:"required,max=64"`
}

// Consume 从预占中扣款
//
// 幂等键已记录时返回 (nil, nil)。幂等存储不可用时直接失败，宁可拒绝也不重复扣款。
// 支持部分消费：剩余金额继续保留在预占里。
func (s *CardService) Consume(ctx context.Context, req ConsumeRequest) (record *model.GiftCardConsumption, err error) {
	const op = "consume"
	start := time.Now()
	replay := false
	defer func() { observe(op, start, replay, err) }()

	if err := s.validateRequest(op, req); err != nil {
		return nil, err
	}

	idemKey := cache.IdempotencyPrefixConsume + req.IdempotencyKey
	if replay, err = s.seenKey(ctx, op, idemKey); err != nil || replay {
		return nil, err
	}

	card, err := s.loadCard(ctx, op, req.CardID)
	if err != nil {
		return nil, err
	}
	existing, err := s.activeLock(ctx, nil, req.CardID, req.OrderID)
	if err != nil {
		return nil, translate(op, err)
	}
	f := &facts{now: s.now(), userID: req.UserID, amount: req.ConsumeAmount, card: card, lock: existing}
	if err := consumeRules.evaluate(op, f); err != nil {
		return nil, err
	}

	err = s.withCardExclusion(ctx, op, req.CardID, func() error {
		done, err := s.seenKey(ctx, op, idemKey)
		if err != nil || done {
			replay = done
			return err
		}

		err = s.inTx(ctx, op, func(tx *gorm.DB) error {
			card, err := s.cardRepo.GetByIDForUpdate(ctx, tx, req.CardID)
			if err != nil {
				return err
			}
			existing, err := s.activeLock(ctx, tx, req.CardID, req.OrderID)
			if err != nil {
				return err
			}
			now := s.now()
			f := &facts{now: now, userID: req.UserID, amount: req.ConsumeAmount, card: card, lock: existing}
			if err := consumeRules.evaluate(op, f); err != nil {
				return err
			}

			c := &model.GiftCardConsumption{
				CardID:        card.ID,
				UserID:        req.UserID,
				OrderID:       req.OrderID,
				ConsumeAmount: req.ConsumeAmount,
				ConsumeTime:   now,
			}
			if err := s.consumptionRepo.Create(ctx, tx, c); err != nil {
				return fmt.Errorf("记录消费流水失败: %w", err)
			}

			if _, err := s.lockRepo.Deduct(ctx, tx, existing, req.ConsumeAmount); err != nil {
				return err
			}

			// 余额为 0 且没有其他生效预占时，卡才算用完
			status := card.Status
			if card.Balance == 0 {
				active, err := s.lockRepo.CountActiveByCard(ctx, tx, card.ID)
				if err != nil {
					return err
				}
				if active == 0 {
					if err := s.cardRepo.UpdateStatus(ctx, tx, card.ID, model.CardStatusUsed, card.Version); err != nil {
						return err
					}
					status = model.CardStatusUsed
				}
			}

			if err := s.writeEvent(ctx, tx, &model.CardEvent{
				Event:   model.EventCardConsumed,
				CardID:  card.ID,
				UserID:  req.UserID,
				OrderID: req.OrderID,
				Amount:  req.ConsumeAmount,
				Balance: card.Balance,
				Status:  status,
			}); err != nil {
				return fmt.Errorf("写入消息失败: %w", err)
			}

			record = c
			return nil
		})
		if err != nil {
			return err
		}

		// 事务已提交，幂等键写失败必须让调用方知道，不能当作成功重试
		if err := s.idem.SetWithTTL(ctx, idemKey, strconv.FormatInt(record.ID, 10), s.opts.IdempotencyTTL); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"card_id":         req.CardID,
				"idempotency_key": req.IdempotencyKey,
				"consumption_id":  record.ID,
			}).Error("[CardService] 消费已提交但幂等键写入失败")
			return newError(op, ErrPersistence, ReasonIdempotencyRecord, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !replay {
		log.WithFields(log.Fields{
			"card_id":  req.CardID,
			"order_id": req.OrderID,
			"amount":   req.ConsumeAmount,
		}).Info("[CardService] 消费成功")
	}
	return record, nil
}
