package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"giftcard/internal/infrastructure/database"
	"giftcard/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func seedCard(t *testing.T, db *gorm.DB, cardNo string, userID, balance int64) *model.GiftCard {
	t.Helper()
	now := time.Now()
	card := &model.GiftCard{
		CardNo:     cardNo,
		UserID:     userID,
		TemplateID: 10,
		Balance:    balance,
		ValidFrom:  now.Add(-time.Hour),
		ValidTo:    now.Add(24 * time.Hour),
		Status:     model.CardStatusAvailable,
	}
	require.NoError(t, db.Create(card).Error)
	return card
}

func TestGiftCardRepository_DebitCredit(t *testing.T) {
	db := newTestDB(t)
	repo := NewGiftCardRepository(db)
	ctx := context.Background()
	card := seedCard(t, db, "8600000000000001", 1, 50)

	require.NoError(t, repo.Debit(ctx, db, card.ID, 20, card.Version))

	got, err := repo.GetByID(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), got.Balance)
	assert.Equal(t, card.Version+1, got.Version)

	// 旧版本号
	err = repo.Debit(ctx, db, card.ID, 10, card.Version)
	assert.ErrorIs(t, err, ErrVersionConflict)

	err = repo.Debit(ctx, db, card.ID, 31, got.Version)
	assert.ErrorIs(t, err, ErrBalanceNotEnough)

	require.NoError(t, repo.Credit(ctx, db, card.ID, 20, got.Version))
	got, err = repo.GetByID(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got.Balance)

	assert.ErrorIs(t, repo.Debit(ctx, db, 999, 1, 0), ErrCardNotFound)
}

func TestGiftCardRepository_UpdateStatusAndQueries(t *testing.T) {
	db := newTestDB(t)
	repo := NewGiftCardRepository(db)
	ctx := context.Background()
	a := seedCard(t, db, "8600000000000001", 1, 50)
	seedCard(t, db, "8600000000000002", 1, 50)
	seedCard(t, db, "8600000000000003", 2, 50)

	require.NoError(t, repo.UpdateStatus(ctx, db, a.ID, model.CardStatusFrozen, a.Version))
	assert.ErrorIs(t, repo.UpdateStatus(ctx, db, a.ID, model.CardStatusAvailable, a.Version), ErrVersionConflict)

	all, err := repo.ListByUser(ctx, 1, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	frozen, err := repo.ListByUser(ctx, 1, model.CardStatusFrozen)
	require.NoError(t, err)
	require.Len(t, frozen, 1)
	assert.Equal(t, a.ID, frozen[0].ID)

	exists, err := repo.ExistsByCardNo(ctx, nil, "8600000000000003")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsByCardNo(ctx, nil, "8600000000000009")
	require.NoError(t, err)
	assert.False(t, exists)

	count, err := repo.CountByUserAndTemplate(ctx, nil, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	_, err = repo.GetByID(ctx, 999)
	assert.ErrorIs(t, err, ErrCardNotFound)
}

func TestGiftCardRepository_CardNoUnique(t *testing.T) {
	db := newTestDB(t)
	repo := NewGiftCardRepository(db)
	seedCard(t, db, "8600000000000001", 1, 50)

	dup := []*model.GiftCard{{
		CardNo:     "8600000000000001",
		UserID:     2,
		TemplateID: 10,
		Balance:    10,
		ValidFrom:  time.Now(),
		ValidTo:    time.Now().Add(time.Hour),
		Status:     model.CardStatusAvailable,
	}}
	assert.Error(t, repo.CreateBatch(context.Background(), nil, dup))
}

func TestLockRepository_Lifecycle(t *testing.T) {
	db := newTestDB(t)
	repo := NewLockRepository(db)
	ctx := context.Background()
	card := seedCard(t, db, "8600000000000001", 1, 50)

	lock := &model.GiftCardLock{
		CardID:     card.ID,
		UserID:     1,
		OrderID:    "o1",
		LockAmount: 20,
		Expiry:     time.Now().Add(time.Minute),
		Status:     model.LockStatusActive,
	}
	require.NoError(t, repo.Create(ctx, nil, lock))

	got, err := repo.GetActive(ctx, nil, card.ID, "o1")
	require.NoError(t, err)
	assert.Equal(t, lock.ID, got.ID)

	_, err = repo.GetActive(ctx, nil, card.ID, "o2")
	assert.ErrorIs(t, err, ErrLockNotFound)

	// 部分扣减
	updated, err := repo.Deduct(ctx, db, got, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(15), updated.LockAmount)
	assert.Equal(t, model.LockStatusActive, updated.Status)

	// 旧快照再扣一次会失败
	_, err = repo.Deduct(ctx, db, got, 5)
	assert.ErrorIs(t, err, ErrLockStatusInvalid)

	closed, err := repo.Deduct(ctx, db, updated, 15)
	require.NoError(t, err)
	assert.Equal(t, int64(0), closed.LockAmount)
	assert.Equal(t, model.LockStatusClosed, closed.Status)

	count, err := repo.CountActiveByCard(ctx, nil, card.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// 终态不可再流转
	err = repo.UpdateStatus(ctx, nil, lock.ID, model.LockStatusClosed, model.LockStatusReleased)
	assert.ErrorIs(t, err, ErrLockStatusInvalid)
	err = repo.UpdateStatus(ctx, nil, lock.ID, model.LockStatusActive, model.LockStatusReleased)
	assert.ErrorIs(t, err, ErrLockStatusInvalid)

	locks, err := repo.ListByCard(ctx, card.ID)
	require.NoError(t, err)
	assert.Len(t, locks, 1)
}

func TestLockRepository_GetExpiredActive(t *testing.T) {
	db := newTestDB(t)
	repo := NewLockRepository(db)
	ctx := context.Background()
	card := seedCard(t, db, "8600000000000001", 1, 50)
	now := time.Now()

	for i, expiry := range []time.Time{now.Add(-2 * time.Hour), now.Add(2 * time.Hour)} {
		require.NoError(t, repo.Create(ctx, nil, &model.GiftCardLock{
			CardID:     card.ID,
			UserID:     1,
			OrderID:    []string{"expired", "live"}[i],
			LockAmount: 10,
			Expiry:     expiry,
			Status:     model.LockStatusActive,
		}))
	}

	expired, err := repo.GetExpiredActive(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "expired", expired[0].OrderID)

	require.NoError(t, repo.UpdateStatus(ctx, nil, expired[0].ID, model.LockStatusActive, model.LockStatusReleased))
	expired, err = repo.GetExpiredActive(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestConsumptionRepository_ListByCard(t *testing.T) {
	db := newTestDB(t)
	repo := NewConsumptionRepository(db)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, repo.Create(ctx, nil, &model.GiftCardConsumption{CardID: 1, UserID: 1, OrderID: "o2", ConsumeAmount: 7, ConsumeTime: now}))
	require.NoError(t, repo.Create(ctx, nil, &model.GiftCardConsumption{CardID: 1, UserID: 1, OrderID: "o1", ConsumeAmount: 5, ConsumeTime: now.Add(-time.Minute)}))
	require.NoError(t, repo.Create(ctx, nil, &model.GiftCardConsumption{CardID: 2, UserID: 1, OrderID: "o3", ConsumeAmount: 1, ConsumeTime: now}))

	records, err := repo.ListByCard(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "o1", records[0].OrderID)
	assert.Equal(t, "o2", records[1].OrderID)
}

func TestTemplateRepository_IncreaseIssuedCount(t *testing.T) {
	db := newTestDB(t)
	repo := NewTemplateRepository(db)
	ctx := context.Background()

	tpl := &model.GiftCardTemplate{
		Name:       "50元卡",
		FaceValue:  5000,
		TotalStock: 5,
		ValidFrom:  time.Now().Add(-time.Hour),
		ValidTo:    time.Now().Add(time.Hour),
		Status:     model.TemplateStatusActive,
	}
	require.NoError(t, db.Create(tpl).Error)

	require.NoError(t, repo.IncreaseIssuedCount(ctx, db, tpl.ID, 3))
	assert.ErrorIs(t, repo.IncreaseIssuedCount(ctx, db, tpl.ID, 3), ErrStockNotEnough)
	require.NoError(t, repo.IncreaseIssuedCount(ctx, db, tpl.ID, 2))

	got, err := repo.GetByID(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.IssuedCount)

	assert.ErrorIs(t, repo.IncreaseIssuedCount(ctx, db, 999, 1), ErrTemplateNotFound)
	_, err = repo.GetByID(ctx, 999)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestOutboxRepository_PendingFlow(t *testing.T) {
	db := newTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	for _, key := range []string{"1", "2"} {
		require.NoError(t, repo.Create(ctx, nil, &model.OutboxMessage{
			MessageKey: key,
			Topic:      "giftcard_event",
			Payload:    `{}`,
			Status:     model.OutboxStatusPending,
		}))
	}

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "1", pending[0].MessageKey)

	require.NoError(t, repo.MarkAsSent(ctx, pending[0].ID))
	require.NoError(t, repo.IncrementRetryCount(ctx, pending[1].ID))
	require.NoError(t, repo.MarkAsFailed(ctx, pending[1].ID))

	pending, err = repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	var failed model.OutboxMessage
	require.NoError(t, db.Where("message_key = ?", "2").First(&failed).Error)
	assert.Equal(t, model.OutboxStatusFailed, failed.Status)
	assert.Equal(t, 2, failed.RetryCount)

	// 只改 PENDING 的消息，FAILED 不会被误标成已发送或继续累加重试
	require.NoError(t, repo.MarkAsSent(ctx, failed.ID))
	require.NoError(t, repo.IncrementRetryCount(ctx, failed.ID))
	require.NoError(t, db.First(&failed, failed.ID).Error)
	assert.Equal(t, model.OutboxStatusFailed, failed.Status)
	assert.Equal(t, 2, failed.RetryCount)
}

func TestOutboxRepository_PendingKeepsWriteOrderPerCard(t *testing.T) {
	db := newTestDB(t)
	repo := NewOutboxRepository(db)
	ctx := context.Background()

	events := []string{"giftcard.locked", "giftcard.consumed", "giftcard.unlocked"}
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		for _, ev := range events {
			if err := repo.Create(ctx, tx, &model.OutboxMessage{
				MessageKey: "5",
				Topic:      "giftcard_event",
				Payload:    `{"event":"` + ev + `"}`,
				Status:     model.OutboxStatusPending,
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	pending, err := repo.GetPendingMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, len(events))
	for i, ev := range events {
		assert.Contains(t, pending[i].Payload, ev)
	}

	limited, err := repo.GetPendingMessages(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, pending[0].ID, limited[0].ID)
}

// 事务中途失败必须整体回滚，不能留下只插了预占没扣余额的半成品
func TestLockAndDebit_RollbackOnFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	db, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `giftcard_locks`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE `giftcards`").
		WillReturnError(errors.New("Deadlock found when trying to get lock"))
	mock.ExpectRollback()

	locks := NewLockRepository(db)
	cards := NewGiftCardRepository(db)
	ctx := context.Background()

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := locks.Create(ctx, tx, &model.GiftCardLock{
			CardID:     5,
			UserID:     1,
			OrderID:    "o1",
			LockAmount: 20,
			Expiry:     time.Now().Add(time.Minute),
			Status:     model.LockStatusActive,
		}); err != nil {
			return err
		}
		return cards.Debit(ctx, tx, 5, 20, 0)
	})

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
