package service

import (
	"context"
	"fmt"
	"time"

	"giftcard/internal/model"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Freeze 冻结卡，已冻结时直接成功
// 冻结后不能再预占，已有预占仍可消费或解锁
func (s *CardService) Freeze(ctx context.Context, cardID int64) (err error) {
	const op = "freeze"
	start := time.Now()
	defer func() { observe(op, start, false, err) }()

	return s.setFrozen(ctx, op, cardID, true)
}

// Unfreeze 解冻卡，未冻结时直接成功
func (s *CardService) Unfreeze(ctx context.Context, cardID int64) (err error) {
	const op = "unfreeze"
	start := time.Now()
	defer func() { observe(op, start, false, err) }()

	return s.setFrozen(ctx, op, cardID, false)
}

func (s *CardService) setFrozen(ctx context.Context, op string, cardID int64, frozen bool) error {
	card, err := s.loadCard(ctx, op, cardID)
	if err != nil {
		return err
	}
	if (card.Status == model.CardStatusFrozen) == frozen {
		return nil
	}

	target, event := model.CardStatusAvailable, model.EventCardUnfrozen
	if frozen {
		target, event = model.CardStatusFrozen, model.EventCardFrozen
	}

	changed := false
	err = s.withCardExclusion(ctx, op, cardID, func() error {
		return s.inTx(ctx, op, func(tx *gorm.DB) error {
			card, err := s.cardRepo.GetByIDForUpdate(ctx, tx, cardID)
			if err != nil {
				return err
			}
			// 拿到行锁后状态可能已被别人改过
			if (card.Status == model.CardStatusFrozen) == frozen {
				return nil
			}

			if err := s.cardRepo.UpdateStatus(ctx, tx, card.ID, target, card.Version); err != nil {
				return err
			}
			if err := s.writeEvent(ctx, tx, &model.CardEvent{
				Event:   event,
				CardID:  card.ID,
				UserID:  card.UserID,
				Balance: card.Balance,
				Status:  target,
			}); err != nil {
				return fmt.Errorf("写入消息失败: %w", err)
			}

			changed = true
			return nil
		})
	})
	if err != nil {
		return err
	}

	if changed {
		log.WithFields(log.Fields{
			"card_id": cardID,
			"status":  target,
		}).Info("[CardService] 卡状态变更")
	}
	return nil
}
