package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"giftcard/internal/config"
	"giftcard/internal/infrastructure/lock"
	"giftcard/internal/infrastructure/metrics"
	"giftcard/internal/model"
	"giftcard/internal/repository"
	"giftcard/pkg/idgen"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ============================================================================
// 礼品卡账本服务
// ============================================================================
//
// 【一致性】两层保护
//
//   1. Redis 互斥锁 giftcard:lock:card:<id>，拿不到立即返回 ErrBusy，不排队
//   2. 数据库事务：SELECT ... FOR UPDATE 锁卡行 + version 条件更新
//
// 互斥锁只负责多实例之间快速失败；锁在事务执行中途过期时，
// 由行锁和版本号保证不会出现半成品或重复扣减。
//
// 【状态机】
//
//   预占:  active --消费完--> closed
//          active --解锁/过期--> released
//   卡:    available <--> frozen
//          available --余额为0且无生效预占--> used
//
// ============================================================================

// Locker 互斥锁
type Locker interface {
	TryAcquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
}

// IdempotencyStore 幂等键存储
type IdempotencyStore interface {
	Exists(ctx context.Context, key string) (bool, error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
}

type Options struct {
	ExclusionTTL     time.Duration
	IdempotencyTTL   time.Duration
	MaxLockTTL       time.Duration
	MaxIssueQuantity int
	CardNoAttempts   int
	EventTopic       string
	CardNoGenerator  *idgen.CardNoGenerator
	Clock            func() time.Time
}

// DefaultOptions 默认参数，与配置文件默认值一致
func DefaultOptions() Options {
	generator, _ := idgen.NewCardNoGenerator(idgen.DefaultCardNoPrefix, idgen.DefaultCardNoLength)
	return Options{
		ExclusionTTL:     30 * time.Second,
		IdempotencyTTL:   24 * time.Hour,
		MaxLockTTL:       24 * time.Hour,
		MaxIssueQuantity: 100,
		CardNoAttempts:   5,
		EventTopic:       "giftcard_event",
		CardNoGenerator:  generator,
		Clock:            time.Now,
	}
}

// OptionsFromConfig 从业务配置构造参数
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	generator, err := idgen.NewCardNoGenerator(cfg.Business.CardNoPrefix, cfg.Business.CardNoLength)
	if err != nil {
		return Options{}, err
	}
	return Options{
		ExclusionTTL:     cfg.Business.ExclusionLockTTL(),
		IdempotencyTTL:   cfg.Business.IdempotencyTTL(),
		MaxLockTTL:       time.Duration(cfg.Business.MaxLockTTLSeconds) * time.Second,
		MaxIssueQuantity: cfg.Business.MaxIssueQuantity,
		CardNoAttempts:   cfg.Business.CardNoMaxAttempts,
		EventTopic:       cfg.Kafka.Topic.CardEvent,
		CardNoGenerator:  generator,
		Clock:            time.Now,
	}, nil
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ExclusionTTL <= 0 {
		o.ExclusionTTL = d.ExclusionTTL
	}
	if o.IdempotencyTTL <= 0 {
		o.IdempotencyTTL = d.IdempotencyTTL
	}
	if o.MaxLockTTL <= 0 {
		o.MaxLockTTL = d.MaxLockTTL
	}
	if o.MaxIssueQuantity <= 0 {
		o.MaxIssueQuantity = d.MaxIssueQuantity
	}
	if o.CardNoAttempts <= 0 {
		o.CardNoAttempts = d.CardNoAttempts
	}
	if o.EventTopic == "" {
		o.EventTopic = d.EventTopic
	}
	if o.CardNoGenerator == nil {
		o.CardNoGenerator = d.CardNoGenerator
	}
	if o.Clock == nil {
		o.Clock = d.Clock
	}
	return o
}

type CardService struct {
	db        *gorm.DB
	locker    Locker
	idem      IdempotencyStore
	templates TemplateProvider
	opts      Options
	validate  *validator.Validate

	cardRepo        *repository.GiftCardRepository
	lockRepo        *repository.LockRepository
	consumptionRepo *repository.ConsumptionRepository
	outboxRepo      *repository.OutboxRepository
}

func NewCardService(db *gorm.DB, locker Locker, idem IdempotencyStore, templates TemplateProvider, opts Options) *CardService {
	return &CardService{
		db:              db,
		locker:          locker,
		idem:            idem,
		templates:       templates,
		opts:            opts.withDefaults(),
		validate:        validator.New(),
		cardRepo:        repository.NewGiftCardRepository(db),
		lockRepo:        repository.NewLockRepository(db),
		consumptionRepo: repository.NewConsumptionRepository(db),
		outboxRepo:      repository.NewOutboxRepository(db),
	}
}

func (s *CardService) now() time.Time {
	return s.opts.Clock()
}

func (s *CardService) validateRequest(op string, req interface{}) error {
	if err := s.validate.Struct(req); err != nil {
		return newError(op, ErrValidation, ReasonInvalidArgument, err)
	}
	return nil
}

// loadCard 无锁读取，用于加锁前的快速失败检查
func (s *CardService) loadCard(ctx context.Context, op string, cardID int64) (*model.GiftCard, error) {
	if cardID <= 0 {
		return nil, newError(op, ErrValidation, ReasonInvalidArgument, errors.New("card_id 必须大于 0"))
	}
	card, err := s.cardRepo.GetByID(ctx, cardID)
	if err != nil {
		return nil, translate(op, err)
	}
	return card, nil
}

// activeLock 查询生效预占，不存在返回 nil
func (s *CardService) activeLock(ctx context.Context, tx *gorm.DB, cardID int64, orderID string) (*model.GiftCardLock, error) {
	l, err := s.lockRepo.GetActive(ctx, tx, cardID, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrLockNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return l, nil
}

// withExclusion 非阻塞获取互斥锁后执行 fn，任何路径退出都会释放
func (s *CardService) withExclusion(ctx context.Context, op, key string, fn func() error) error {
	owner := uuid.NewString()

	ok, err := s.locker.TryAcquire(ctx, key, owner, s.opts.ExclusionTTL)
	if err != nil {
		return newError(op, ErrPersistence, ReasonLockProviderDown, err)
	}
	if !ok {
		return newError(op, ErrBusy, ReasonExclusionHeld, nil)
	}

	defer func() {
		// 请求被取消也要释放
		if err := s.locker.Release(context.WithoutCancel(ctx), key, owner); err != nil {
			if errors.Is(err, lock.ErrLockNotHeld) {
				log.WithField("key", key).Warn("[CardService] 互斥锁在执行期间已过期")
				return
			}
			log.WithError(err).WithField("key", key).Error("[CardService] 释放互斥锁失败")
		}
	}()

	return fn()
}

func (s *CardService) withCardExclusion(ctx context.Context, op string, cardID int64, fn func() error) error {
	return s.withExclusion(ctx, op, lock.CardLockKey(cardID), fn)
}

// inTx 执行事务，失败时整体回滚并归类错误
func (s *CardService) inTx(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	err := s.db.WithContext(ctx).Transaction(fn)
	return translate(op, err)
}

// writeEvent 与账本变更同事务写入 outbox
func (s *CardService) writeEvent(ctx context.Context, tx *gorm.DB, event *model.CardEvent) error {
	event.EventNo = idgen.GenerateEventNo()
	event.OccurredAt = s.now()

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	// 同一张卡的事件落到同一个分区
	key := event.EventNo
	if event.CardID > 0 {
		key = strconv.FormatInt(event.CardID, 10)
	}

	return s.outboxRepo.Create(ctx, tx, &model.OutboxMessage{
		MessageKey: key,
		Topic:      s.opts.EventTopic,
		Payload:    string(payload),
		Status:     model.OutboxStatusPending,
	})
}

func (s *CardService) seenKey(ctx context.Context, op, key string) (bool, error) {
	done, err := s.idem.Exists(ctx, key)
	if err != nil {
		return false, newError(op, ErrPersistence, ReasonIdempotencyDown, err)
	}
	return done, nil
}

func observe(op string, start time.Time, replay bool, err error) {
	result := metrics.ResultSuccess
	switch {
	case err == nil && replay:
		result = metrics.ResultReplay
	case err == nil:
	case errors.Is(err, ErrBusy):
		result = metrics.ResultBusy
	case errors.Is(err, ErrPersistence):
		result = metrics.ResultError
	default:
		result = metrics.ResultRejected
	}
	metrics.ObserveOperation(op, result, time.Since(start))
}
