package job

import (
	"context"
	"time"

	"giftcard/internal/config"
	"giftcard/internal/infrastructure/metrics"
	"giftcard/internal/model"
	"giftcard/internal/repository"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	publishSent   = "sent"
	publishRetry  = "retry"
	publishFailed = "failed"
)

// MessagePublisher 消息发布方，生产环境是 mq.Publisher
type MessagePublisher interface {
	SendMessage(topic, key, value string) error
}

type OutboxSender struct {
	outboxRepo    *repository.OutboxRepository
	publisher     MessagePublisher
	stopCh        chan struct{}
	interval      time.Duration
	batchSize     int
	maxRetryCount int
}

func NewOutboxSender(db *gorm.DB, publisher MessagePublisher, cfg *config.BusinessConfig) *OutboxSender {
	return &OutboxSender{
		outboxRepo:    repository.NewOutboxRepository(db),
		publisher:     publisher,
		stopCh:        make(chan struct{}),
		interval:      cfg.OutboxInterval(),
		batchSize:     cfg.OutboxBatchSize,
		maxRetryCount: cfg.MaxRetryCount,
	}
}

func (s *OutboxSender) Start(ctx context.Context) {
	log.Println("[OutboxSender] 消息发送任务启动")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[OutboxSender] 收到停止信号，任务退出")
			return
		case <-s.stopCh:
			log.Println("[OutboxSender] 任务停止")
			return
		case <-ticker.C:
			s.processPendingMessages(ctx)
		}
	}
}

func (s *OutboxSender) Stop() {
	close(s.stopCh)
}

func (s *OutboxSender) processPendingMessages(ctx context.Context) {
	messages, err := s.outboxRepo.GetPendingMessages(ctx, s.batchSize)
	if err != nil {
		log.Printf("[OutboxSender] 查询消息失败: %v", err)
		return
	}

	// 同一张卡前面的事件没投出去，后面的本轮不发，避免下游乱序
	blocked := make(map[string]struct{})
	for _, msg := range messages {
		if _, ok := blocked[msg.MessageKey]; ok {
			continue
		}
		if !s.sendMessage(ctx, msg) {
			blocked[msg.MessageKey] = struct{}{}
		}
	}
}

// sendMessage 返回消息是否已投递到 Kafka
func (s *OutboxSender) sendMessage(ctx context.Context, msg *model.OutboxMessage) bool {
	err := s.publisher.SendMessage(msg.Topic, msg.MessageKey, msg.Payload)

	if err == nil {
		metrics.ObserveOutboxPublish(publishSent)
		if updateErr := s.outboxRepo.MarkAsSent(ctx, msg.ID); updateErr != nil {
			log.Printf("[OutboxSender] 更新消息状态失败: id=%d, err=%v", msg.ID, updateErr)
		} else {
			log.Debugf("[OutboxSender] 消息发送成功: id=%d, topic=%s, key=%s", msg.ID, msg.Topic, msg.MessageKey)
		}
		return true
	}

	log.Printf("[OutboxSender] 消息发送失败: id=%d, err=%v", msg.ID, err)

	// MarkAsFailed 自带 retry_count + 1
	if msg.RetryCount+1 >= s.maxRetryCount {
		metrics.ObserveOutboxPublish(publishFailed)
		if err := s.outboxRepo.MarkAsFailed(ctx, msg.ID); err != nil {
			log.Printf("[OutboxSender] 标记消息失败状态失败: id=%d, err=%v", msg.ID, err)
		} else {
			log.Warnf("[OutboxSender] 消息超过最大重试次数，标记为失败: id=%d", msg.ID)
		}
		return false
	}

	metrics.ObserveOutboxPublish(publishRetry)
	if err := s.outboxRepo.IncrementRetryCount(ctx, msg.ID); err != nil {
		log.Printf("[OutboxSender] 增加重试次数失败: id=%d, err=%v", msg.ID, err)
	}
	return false
}
