package repository

import (
	"context"

	"giftcard/internal/model"

	"gorm.io/gorm"
)

// OutboxRepository 礼品卡事件发件箱
//
// 事件和卡的变更在同一个事务里写入（Create 传入业务 tx），提交后才对 OutboxSender 可见。
// message_key 是卡 ID（批量发卡事件用事件号），Kafka 按 key 分区，
// 所以只要同一张卡的事件按 id 顺序投递，下游看到的就是卡的真实变更顺序。
type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Create 写入一条卡事件，tx 为 nil 时直接写库（只有测试这么用）
func (r *OutboxRepository) Create(ctx context.Context, tx *gorm.DB, msg *model.OutboxMessage) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(msg).Error
}

// GetPendingMessages 取待投递的卡事件，按自增 id 升序，即按事务提交前的写入顺序
//
// 不用 created_at 排序：同一事务内的多条事件时间戳可能相同，顺序不稳定
func (r *OutboxRepository) GetPendingMessages(ctx context.Context, limit int) ([]*model.OutboxMessage, error) {
	var messages []*model.OutboxMessage
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("id ASC").
		Limit(limit).
		Find(&messages).Error
	return messages, err
}

// MarkAsSent 投递成功；已经不是 PENDING 的消息不再改动
func (r *OutboxRepository) MarkAsSent(ctx context.Context, id int64) error {
	return r.pending(ctx, id).
		Update("status", model.OutboxStatusSent).Error
}

// IncrementRetryCount 投递失败但还能重试，留在 PENDING 等下一轮
func (r *OutboxRepository) IncrementRetryCount(ctx context.Context, id int64) error {
	return r.pending(ctx, id).
		UpdateColumn("retry_count", gorm.Expr("retry_count + 1")).Error
}

// MarkAsFailed 重试次数用完，本次失败也计入 retry_count；FAILED 的事件需要人工补发
func (r *OutboxRepository) MarkAsFailed(ctx context.Context, id int64) error {
	return r.pending(ctx, id).
		Updates(map[string]interface{}{
			"status":      model.OutboxStatusFailed,
			"retry_count": gorm.Expr("retry_count + 1"),
		}).Error
}

func (r *OutboxRepository) pending(ctx context.Context, id int64) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&model.OutboxMessage{}).
		Where("id = ? AND status = ?", id, model.OutboxStatusPending)
}
