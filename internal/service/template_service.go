package service

import (
	"context"
	"time"

	"giftcard/internal/model"
	"giftcard/internal/repository"

	"gorm.io/gorm"
)

// TemplateProvider 发卡模板协作方
// 模板的维护不在本服务内，这里只读取、校验和累加已发数量
type TemplateProvider interface {
	GetTemplateByID(ctx context.Context, id int64) (*model.GiftCardTemplate, error)
	GetTemplateForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.GiftCardTemplate, error)
	CheckTemplateIssuable(ctx context.Context, tpl *model.GiftCardTemplate, quantity int, now time.Time) error
	UpdateIssuedCount(ctx context.Context, tx *gorm.DB, id int64, delta int) error
}

type TemplateService struct {
	templateRepo *repository.TemplateRepository
}

func NewTemplateService(db *gorm.DB) *TemplateService {
	return &TemplateService{
		templateRepo: repository.NewTemplateRepository(db),
	}
}

func (s *TemplateService) GetTemplateByID(ctx context.Context, id int64) (*model.GiftCardTemplate, error) {
	tpl, err := s.templateRepo.GetByID(ctx, id)
	if err != nil {
		return nil, translate("get_template", err)
	}
	return tpl, nil
}

func (s *TemplateService) GetTemplateForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.GiftCardTemplate, error) {
	tpl, err := s.templateRepo.GetByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, translate("get_template", err)
	}
	return tpl, nil
}

// CheckTemplateIssuable 状态、有效期、库存
func (s *TemplateService) CheckTemplateIssuable(ctx context.Context, tpl *model.GiftCardTemplate, quantity int, now time.Time) error {
	return templateIssuableRules.evaluate("check_template", &facts{
		now:      now,
		quantity: quantity,
		template: tpl,
	})
}

func (s *TemplateService) UpdateIssuedCount(ctx context.Context, tx *gorm.DB, id int64, delta int) error {
	return translate("update_issued_count", s.templateRepo.IncreaseIssuedCount(ctx, tx, id, delta))
}
