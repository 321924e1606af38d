package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	CodeSuccess       = 0
	CodeParamError    = 400
	CodeNotFound      = 404
	CodeServerError   = 500
	CodeBusinessError = 1000
)

// 礼品卡业务错误码
const (
	CodeNotCardOwner        = 1001
	CodeCardNotAvailable    = 1002
	CodeCardOutOfValidity   = 1003
	CodeBalanceNotEnough    = 1004
	CodeLockAlreadyActive   = 1005
	CodeLockExpired         = 1006
	CodeLockAmountNotEnough = 1007
	CodeTemplateNotIssuable = 1008
	CodeStockNotEnough      = 1009
	CodeUserLimitReached    = 1010
	CodeLockStatusInvalid   = 1011
	CodeSystemBusy          = 1429
)

type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    CodeSuccess,
		Message: "success",
		Data:    data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
	})
}

func ParamError(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, CodeParamError, message)
}

func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, CodeNotFound, message)
}

func ServerError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, CodeServerError, message)
}

// BusinessError 状态冲突类错误，HTTP 409
func BusinessError(c *gin.Context, code int, message string) {
	Error(c, http.StatusConflict, code, message)
}

// Busy 可重试，HTTP 429
func Busy(c *gin.Context, message string) {
	Error(c, http.StatusTooManyRequests, CodeSystemBusy, message)
}
