package handler

import (
	"errors"

	"giftcard/internal/service"
	"giftcard/pkg/response"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

var reasonCodes = map[service.Reason]int{
	service.ReasonNotOwner:               response.CodeNotCardOwner,
	service.ReasonCardNotAvailable:       response.CodeCardNotAvailable,
	service.ReasonCardOutOfValidity:      response.CodeCardOutOfValidity,
	service.ReasonInsufficientBalance:    response.CodeBalanceNotEnough,
	service.ReasonLockAlreadyActive:      response.CodeLockAlreadyActive,
	service.ReasonLockExpired:            response.CodeLockExpired,
	service.ReasonInsufficientLockAmount: response.CodeLockAmountNotEnough,
	service.ReasonTemplateInactive:       response.CodeTemplateNotIssuable,
	service.ReasonTemplateOutOfValidity:  response.CodeTemplateNotIssuable,
	service.ReasonStockNotEnough:         response.CodeStockNotEnough,
	service.ReasonUserLimitReached:       response.CodeUserLimitReached,
	service.ReasonLockNotActive:          response.CodeLockStatusInvalid,
	service.ReasonLockNotExpired:         response.CodeLockStatusInvalid,
}

// renderError 业务错误分类 -> HTTP 状态码 + 响应码
func renderError(c *gin.Context, err error) {
	reason := service.ReasonOf(err)

	switch {
	case errors.Is(err, service.ErrValidation):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(c, string(reason))
	case errors.Is(err, service.ErrStateConflict):
		code, ok := reasonCodes[reason]
		if !ok {
			code = response.CodeBusinessError
		}
		response.BusinessError(c, code, string(reason))
	case errors.Is(err, service.ErrBusy):
		response.Busy(c, "系统繁忙，请稍后重试")
	default:
		log.WithError(err).WithField("path", c.FullPath()).Error("[HTTP] 请求处理失败")
		response.ServerError(c, "服务器内部错误")
	}
}
