package service

import (
	"time"

	"giftcard/internal/model"

	log "github.com/sirupsen/logrus"
)

// ============================================================================
// 前置条件决策表
// ============================================================================
//
// 每个操作的前置检查都是一张有序的规则表，按顺序求值，第一条不通过的规则
// 决定错误分类和拒绝原因。加锁前用快照求值一次（快速失败），拿到行锁后
// 在事务里对最新数据再求值一次。
//
//   操作      规则
//   --------  ------------------------------------------------------------
//   issue     template_active, template_in_validity, stock_enough, user_limit
//   lock      card_owned, card_available, card_in_validity, balance_covers, no_active_lock
//   consume   card_owned, lock_present, lock_not_expired, lock_covers
//   unlock    card_owned, lock_present
//   expire    lock_present, lock_past_expiry
//
// ============================================================================

// facts 求值时可见的全部数据，规则只读
type facts struct {
	now      time.Time
	userID   int64
	amount   int64
	quantity int
	owned    int64
	card     *model.GiftCard
	lock     *model.GiftCardLock
	template *model.GiftCardTemplate
}

type rule struct {
	name  string
	kind  error
	check func(f *facts) Reason
}

type ruleTable []rule

// evaluate 返回第一条不通过的规则对应的错误
func (t ruleTable) evaluate(op string, f *facts) error {
	for _, r := range t {
		if reason := r.check(f); reason != "" {
			log.WithFields(log.Fields{
				"op":     op,
				"rule":   r.name,
				"reason": reason,
			}).Debug("[Precondition] 前置条件不通过")
			return newError(op, r.kind, reason, nil)
		}
	}
	return nil
}

var (
	templateIssuableRules = ruleTable{
		{"template_active", ErrStateConflict, templateActive},
		{"template_in_validity", ErrStateConflict, templateInValidity},
		{"stock_enough", ErrStateConflict, stockEnough},
	}

	userLimitRules = ruleTable{
		{"user_limit", ErrStateConflict, userLimitNotReached},
	}

	lockRules = ruleTable{
		{"card_owned", ErrStateConflict, cardOwned},
		{"card_available", ErrStateConflict, cardAvailable},
		{"card_in_validity", ErrStateConflict, cardInValidity},
		{"balance_covers", ErrStateConflict, balanceCovers},
		{"no_active_lock", ErrStateConflict, noActiveLock},
	}

	consumeRules = ruleTable{
		{"card_owned", ErrStateConflict, cardOwned},
		{"lock_present", ErrNotFound, lockPresent},
		{"lock_not_expired", ErrStateConflict, lockNotExpired},
		{"lock_covers", ErrStateConflict, lockCovers},
	}

	unlockRules = ruleTable{
		{"card_owned", ErrStateConflict, cardOwned},
		{"lock_present", ErrNotFound, lockPresent},
	}

	expireRules = ruleTable{
		{"lock_present", ErrStateConflict, lockStillActive},
		{"lock_past_expiry", ErrStateConflict, lockPastExpiry},
	}
)

func templateActive(f *facts) Reason {
	if f.template.Status != model.TemplateStatusActive {
		return ReasonTemplateInactive
	}
	return ""
}

func templateInValidity(f *facts) Reason {
	if f.now.Before(f.template.ValidFrom) || f.now.After(f.template.ValidTo) {
		return ReasonTemplateOutOfValidity
	}
	return ""
}

func stockEnough(f *facts) Reason {
	if f.template.IssuedCount+f.quantity > f.template.TotalStock {
		return ReasonStockNotEnough
	}
	return ""
}

// per_user_limit 为 0 表示不限；只看用户已持有的张数，本次发放数量不计入
func userLimitNotReached(f *facts) Reason {
	limit := int64(f.template.PerUserLimit)
	if limit > 0 && f.owned >= limit {
		return ReasonUserLimitReached
	}
	return ""
}

func cardOwned(f *facts) Reason {
	if f.card.UserID != f.userID {
		return ReasonNotOwner
	}
	return ""
}

func cardAvailable(f *facts) Reason {
	if f.card.Status != model.CardStatusAvailable {
		return ReasonCardNotAvailable
	}
	return ""
}

func cardInValidity(f *facts) Reason {
	if !f.card.InValidity(f.now) {
		return ReasonCardOutOfValidity
	}
	return ""
}

func balanceCovers(f *facts) Reason {
	if f.card.Balance < f.amount {
		return ReasonInsufficientBalance
	}
	return ""
}

// 同一 (card, order) 只允许一条生效预占，重复预占直接拒绝
func noActiveLock(f *facts) Reason {
	if f.lock != nil {
		return ReasonLockAlreadyActive
	}
	return ""
}

func lockPresent(f *facts) Reason {
	if f.lock == nil || f.lock.Status != model.LockStatusActive {
		return ReasonLockNotFound
	}
	return ""
}

func lockNotExpired(f *facts) Reason {
	if f.lock.Expired(f.now) {
		return ReasonLockExpired
	}
	return ""
}

func lockCovers(f *facts) Reason {
	if f.lock.LockAmount < f.amount {
		return ReasonInsufficientLockAmount
	}
	return ""
}

func lockStillActive(f *facts) Reason {
	if f.lock.Status != model.LockStatusActive {
		return ReasonLockNotActive
	}
	return ""
}

func lockPastExpiry(f *facts) Reason {
	if !f.lock.Expired(f.now) {
		return ReasonLockNotExpired
	}
	return ""
}
