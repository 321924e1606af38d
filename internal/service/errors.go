package service

import (
	"errors"
	"strings"

	"giftcard/internal/repository"
)

// 错误分类，调用方用 errors.Is(err, service.ErrBusy) 判断
var (
	ErrValidation    = errors.New("参数错误")
	ErrNotFound      = errors.New("资源不存在")
	ErrStateConflict = errors.New("状态冲突")
	ErrBusy          = errors.New("系统繁忙，请稍后重试")
	ErrPersistence   = errors.New("存储异常")
)

// Reason 拒绝原因，出现在日志、响应和指标里
type Reason string

const (
	ReasonInvalidArgument        Reason = "invalid_argument"
	ReasonCardNotFound           Reason = "card_not_found"
	ReasonNotOwner               Reason = "not_owner"
	ReasonCardNotAvailable       Reason = "card_not_available"
	ReasonCardOutOfValidity      Reason = "card_out_of_validity"
	ReasonInsufficientBalance    Reason = "insufficient_balance"
	ReasonLockAlreadyActive      Reason = "lock_already_active"
	ReasonLockNotFound           Reason = "lock_not_found"
	ReasonLockNotActive          Reason = "lock_not_active"
	ReasonLockExpired            Reason = "lock_expired"
	ReasonLockNotExpired         Reason = "lock_not_expired"
	ReasonInsufficientLockAmount Reason = "insufficient_lock_amount"
	ReasonTemplateNotFound       Reason = "template_not_found"
	ReasonTemplateInactive       Reason = "template_inactive"
	ReasonTemplateOutOfValidity  Reason = "template_out_of_validity"
	ReasonStockNotEnough         Reason = "stock_not_enough"
	ReasonUserLimitReached       Reason = "user_limit_reached"
	ReasonExclusionHeld          Reason = "exclusion_held"
	ReasonVersionConflict        Reason = "version_conflict"
	ReasonLockProviderDown       Reason = "lock_provider_unavailable"
	ReasonIdempotencyDown        Reason = "idempotency_unavailable"
	ReasonIdempotencyRecord      Reason = "idempotency_record_failed"
	ReasonCardNoExhausted        Reason = "card_no_exhausted"
	ReasonStorage                Reason = "storage_error"
)

// Error 业务错误
//
// Kind 是上面的分类哨兵，Err 是底层原因（可为空）。
// Unwrap 同时返回两者，errors.Is 对分类和底层错误都成立。
type Error struct {
	Op     string
	Kind   error
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Op)
	sb.WriteString(": ")
	sb.WriteString(e.Kind.Error())
	if e.Reason != "" {
		sb.WriteString(" (")
		sb.WriteString(string(e.Reason))
		sb.WriteString(")")
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op string, kind error, reason Reason, err error) *Error {
	return &Error{Op: op, Kind: kind, Reason: reason, Err: err}
}

// ReasonOf 取出错误链上的拒绝原因
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}

// IsRetryable 只有繁忙类错误可以原样重试
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}

// translate 把仓储层哨兵错误归类，已经是 *Error 的原样返回
func translate(op string, err error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return err
	}

	switch {
	case errors.Is(err, repository.ErrCardNotFound):
		return newError(op, ErrNotFound, ReasonCardNotFound, err)
	case errors.Is(err, repository.ErrLockNotFound):
		return newError(op, ErrNotFound, ReasonLockNotFound, err)
	case errors.Is(err, repository.ErrTemplateNotFound):
		return newError(op, ErrNotFound, ReasonTemplateNotFound, err)
	case errors.Is(err, repository.ErrBalanceNotEnough):
		return newError(op, ErrStateConflict, ReasonInsufficientBalance, err)
	case errors.Is(err, repository.ErrStockNotEnough):
		return newError(op, ErrStateConflict, ReasonStockNotEnough, err)
	case errors.Is(err, repository.ErrLockStatusInvalid):
		return newError(op, ErrStateConflict, ReasonLockNotActive, err)
	case errors.Is(err, repository.ErrVersionConflict):
		// 读到旧版本，重试即可
		return newError(op, ErrBusy, ReasonVersionConflict, err)
	default:
		return newError(op, ErrPersistence, ReasonStorage, err)
	}
}
