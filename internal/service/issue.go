package service

import (
	"context"
	"fmt"
	"time"

	"giftcard/internal/infrastructure/cache"
	"giftcard/internal/infrastructure/lock"
	"giftcard/internal/model"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type IssueRequest struct {
	UserID     int64  `json:"user_id" validate:"gt=0"`
	TemplateID int64  `json:"template_id" validate:"gt=0"`
	Quantity   int    `json:"quantity" validate:"gt=0"`
	RequestID  string `json:"request_id" validate:"required,max=64"`
}

// Issue 按模板给用户发卡
//
// request_id 已记录时直接返回成功（nil, nil），不产生任何副作用。
// 卡、已发数量、事件在同一个事务里落库，任何一步失败都不会占用库存。
func (s *CardService) Issue(ctx context.Context, req IssueRequest) (cards []*model.GiftCard, err error) {
	const op = "issue"
	start := time.Now()
	replay := false
	defer func() { observe(op, start, replay, err) }()

	if err := s.validateRequest(op, req); err != nil {
		return nil, err
	}
	if req.Quantity > s.opts.MaxIssueQuantity {
		return nil, newError(op, ErrValidation, ReasonInvalidArgument,
			fmt.Errorf("单次最多发 %d 张", s.opts.MaxIssueQuantity))
	}

	// 幂等校验
	idemKey := cache.IdempotencyPrefixIssue + req.RequestID
	if replay, err = s.seenKey(ctx, op, idemKey); err != nil || replay {
		return nil, err
	}

	tpl, err := s.templates.GetTemplateByID(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}
	if err := s.templates.CheckTemplateIssuable(ctx, tpl, req.Quantity, s.now()); err != nil {
		return nil, err
	}
	owned, err := s.cardRepo.CountByUserAndTemplate(ctx, nil, req.UserID, req.TemplateID)
	if err != nil {
		return nil, translate(op, err)
	}
	if err := userLimitRules.evaluate(op, &facts{quantity: req.Quantity, owned: owned, template: tpl}); err != nil {
		return nil, err
	}

	err = s.withExclusion(ctx, op, lock.IssueLockKey(req.UserID, req.TemplateID), func() error {
		// 获取锁后再次检查幂等
		done, err := s.seenKey(ctx, op, idemKey)
		if err != nil || done {
			replay = done
			return err
		}

		var eventNo string
		err = s.inTx(ctx, op, func(tx *gorm.DB) error {
			tpl, err := s.templates.GetTemplateForUpdate(ctx, tx, req.TemplateID)
			if err != nil {
				return err
			}
			now := s.now()
			if err := s.templates.CheckTemplateIssuable(ctx, tpl, req.Quantity, now); err != nil {
				return err
			}
			owned, err := s.cardRepo.CountByUserAndTemplate(ctx, tx, req.UserID, req.TemplateID)
			if err != nil {
				return err
			}
			if err := userLimitRules.evaluate(op, &facts{quantity: req.Quantity, owned: owned, template: tpl}); err != nil {
				return err
			}

			batch, err := s.newCards(ctx, tx, tpl, req)
			if err != nil {
				return err
			}
			if err := s.cardRepo.CreateBatch(ctx, tx, batch); err != nil {
				return fmt.Errorf("创建礼品卡失败: %w", err)
			}
			if err := s.templates.UpdateIssuedCount(ctx, tx, tpl.ID, req.Quantity); err != nil {
				return err
			}

			ids := make([]int64, 0, len(batch))
			for _, c := range batch {
				ids = append(ids, c.ID)
			}
			event := &model.CardEvent{
				Event:   model.EventCardIssued,
				UserID:  req.UserID,
				Amount:  tpl.FaceValue * int64(len(batch)),
				Status:  model.CardStatusAvailable,
				CardIDs: ids,
			}
			if err := s.writeEvent(ctx, tx, event); err != nil {
				return fmt.Errorf("写入消息失败: %w", err)
			}

			eventNo = event.EventNo
			cards = batch
			return nil
		})
		if err != nil {
			return err
		}

		// 卡已经发出去了，幂等键写失败只记日志
		if err := s.idem.SetWithTTL(ctx, idemKey, eventNo, s.opts.IdempotencyTTL); err != nil {
			log.WithError(err).WithField("request_id", req.RequestID).
				Error("[CardService] 发卡成功但幂等键写入失败")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !replay {
		log.WithFields(log.Fields{
			"user_id":     req.UserID,
			"template_id": req.TemplateID,
			"quantity":    len(cards),
		}).Info("[CardService] 发卡成功")
	}
	return cards, nil
}

// newCards 生成卡号并组装新卡，卡号冲突时重新生成
func (s *CardService) newCards(ctx context.Context, tx *gorm.DB, tpl *model.GiftCardTemplate, req IssueRequest) ([]*model.GiftCard, error) {
	seen := make(map[string]struct{}, req.Quantity)
	cards := make([]*model.GiftCard, 0, req.Quantity)

	for i := 0; i < req.Quantity; i++ {
		cardNo, err := s.uniqueCardNo(ctx, tx, seen)
		if err != nil {
			return nil, err
		}
		seen[cardNo] = struct{}{}

		cards = append(cards, &model.GiftCard{
			CardNo:       cardNo,
			UserID:       req.UserID,
			TemplateID:   tpl.ID,
			Balance:      tpl.FaceValue,
			DiscountRate: tpl.DiscountRate,
			ValidFrom:    tpl.ValidFrom,
			ValidTo:      tpl.ValidTo,
			Status:       model.CardStatusAvailable,
		})
	}
	return cards, nil
}

func (s *CardService) uniqueCardNo(ctx context.Context, tx *gorm.DB, seen map[string]struct{}) (string, error) {
	for attempt := 0; attempt < s.opts.CardNoAttempts; attempt++ {
		cardNo, err := s.opts.CardNoGenerator.Generate()
		if err != nil {
			return "", err
		}
		if _, dup := seen[cardNo]; dup {
			continue
		}
		exists, err := s.cardRepo.ExistsByCardNo(ctx, tx, cardNo)
		if err != nil {
			return "", err
		}
		if !exists {
			return cardNo, nil
		}
		log.WithField("card_no", cardNo).Warn("[CardService] 卡号冲突，重新生成")
	}
	return "", newError("issue", ErrPersistence, ReasonCardNoExhausted,
		fmt.Errorf("连续 %d 次生成的卡号都已存在", s.opts.CardNoAttempts))
}
