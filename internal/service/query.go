package service

import (
	"context"
	"errors"
	"fmt"

	"giftcard/internal/model"
)

// ListByUser 查询用户的卡，最新的在前；status 为空返回全部
func (s *CardService) ListByUser(ctx context.Context, userID int64, status string) ([]*model.GiftCard, error) {
	const op = "list_by_user"

	if userID <= 0 {
		return nil, newError(op, ErrValidation, ReasonInvalidArgument, errors.New("user_id 必须大于 0"))
	}
	if status != "" && !model.IsValidCardStatus(status) {
		return nil, newError(op, ErrValidation, ReasonInvalidArgument, fmt.Errorf("未知的卡状态 %q", status))
	}

	cards, err := s.cardRepo.ListByUser(ctx, userID, status)
	if err != nil {
		return nil, translate(op, err)
	}
	return cards, nil
}

func (s *CardService) GetCard(ctx context.Context, cardID int64) (*model.GiftCard, error) {
	return s.loadCard(ctx, "get_card", cardID)
}

// ListConsumptions 卡的消费流水，按时间先后
func (s *CardService) ListConsumptions(ctx context.Context, cardID int64) ([]*model.GiftCardConsumption, error) {
	const op = "list_consumptions"

	if _, err := s.loadCard(ctx, op, cardID); err != nil {
		return nil, err
	}
	records, err := s.consumptionRepo.ListByCard(ctx, cardID)
	if err != nil {
		return nil, translate(op, err)
	}
	return records, nil
}

// ListLocks 卡上的全部预占记录（含已关闭、已释放），用于对账
func (s *CardService) ListLocks(ctx context.Context, cardID int64) ([]*model.GiftCardLock, error) {
	const op = "list_locks"

	if _, err := s.loadCard(ctx, op, cardID); err != nil {
		return nil, err
	}
	locks, err := s.lockRepo.ListByCard(ctx, cardID)
	if err != nil {
		return nil, translate(op, err)
	}
	return locks, nil
}
