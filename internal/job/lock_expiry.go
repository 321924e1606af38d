package job

import (
	"context"
	"errors"
	"time"

	"giftcard/internal/config"
	"giftcard/internal/model"
	"giftcard/internal/service"

	log "github.com/sirupsen/logrus"
)

// LockExpirer 过期预占的查询与释放，由 CardService 实现
type LockExpirer interface {
	ListExpiredLocks(ctx context.Context, limit int) ([]*model.GiftCardLock, error)
	ExpireLock(ctx context.Context, lockID int64) error
}

type LockExpiryJob struct {
	svc       LockExpirer
	stopCh    chan struct{}
	interval  time.Duration
	batchSize int
}

func NewLockExpiryJob(svc LockExpirer, cfg *config.BusinessConfig) *LockExpiryJob {
	return &LockExpiryJob{
		svc:       svc,
		stopCh:    make(chan struct{}),
		interval:  cfg.LockExpiryInterval(),
		batchSize: cfg.LockExpiryBatchSize,
	}
}

func (j *LockExpiryJob) Start(ctx context.Context) {
	log.Println("[LockExpiryJob] 预占过期任务启动")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[LockExpiryJob] 收到停止信号，任务退出")
			return
		case <-j.stopCh:
			log.Println("[LockExpiryJob] 任务停止")
			return
		case <-ticker.C:
			j.releaseExpiredLocks(ctx)
		}
	}
}

func (j *LockExpiryJob) Stop() {
	close(j.stopCh)
}

// releaseExpiredLocks 处理一批过期预占，返回成功释放的数量
func (j *LockExpiryJob) releaseExpiredLocks(ctx context.Context) int {
	locks, err := j.svc.ListExpiredLocks(ctx, j.batchSize)
	if err != nil {
		log.Printf("[LockExpiryJob] 查询过期预占失败: %v", err)
		return 0
	}

	if len(locks) == 0 {
		return 0
	}

	log.Printf("[LockExpiryJob] 发现 %d 个过期预占", len(locks))

	released := 0
	for _, l := range locks {
		err := j.svc.ExpireLock(ctx, l.ID)
		switch {
		case err == nil:
			released++
		case errors.Is(err, service.ErrBusy):
			// 卡正在被操作，下一轮再处理
			log.Debugf("[LockExpiryJob] 卡繁忙，跳过: lockID=%d, cardID=%d", l.ID, l.CardID)
		case errors.Is(err, service.ErrStateConflict):
			// 已被解锁或消费
			log.Debugf("[LockExpiryJob] 预占状态已变化: lockID=%d, reason=%s", l.ID, service.ReasonOf(err))
		default:
			log.Printf("[LockExpiryJob] 释放预占失败: lockID=%d, err=%v", l.ID, err)
		}
	}

	log.Printf("[LockExpiryJob] 本次释放 %d 个过期预占", released)
	return released
}
