package handler

import (
	"strconv"

	"giftcard/internal/service"
	"giftcard/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler 礼品卡接口，只做参数绑定和错误码转换
type Handler struct {
	cardService *service.CardService
}

func NewHandler(cardService *service.CardService) *Handler {
	return &Handler{cardService: cardService}
}

func cardIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, "卡 id 参数错误")
		return 0, false
	}
	return id, true
}

// ============================================================
// 发卡与查询
// ============================================================

// IssueCards 发卡
// POST /api/v1/giftcards/issue
func (h *Handler) IssueCards(c *gin.Context) {
	var req service.IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	cards, err := h.cardService.Issue(c.Request.Context(), req)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, gin.H{
		"cards":     cards,
		"duplicate": cards == nil,
	})
}

// ListCards 查询用户的卡
// GET /api/v1/giftcards?user_id=xxx&status=available
func (h *Handler) ListCards(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	cards, err := h.cardService.ListByUser(c.Request.Context(), userID, c.Query("status"))
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":  cards,
		"total": len(cards),
	})
}

// GetCard 卡详情
// GET /api/v1/giftcards/:id
func (h *Handler) GetCard(c *gin.Context) {
	id, ok := cardIDParam(c)
	if !ok {
		return
	}

	card, err := h.cardService.GetCard(c.Request.Context(), id)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, card)
}

// ListConsumptions 消费流水
// GET /api/v1/giftcards/:id/consumptions
func (h *Handler) ListConsumptions(c *gin.Context) {
	id, ok := cardIDParam(c)
	if !ok {
		return
	}

	records, err := h.cardService.ListConsumptions(c.Request.Context(), id)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, gin.H{"list": records})
}

// ListLocks 预占记录
// GET /api/v1/giftcards/:id/locks
func (h *Handler) ListLocks(c *gin.Context) {
	id, ok := cardIDParam(c)
	if !ok {
		return
	}

	locks, err := h.cardService.ListLocks(c.Request.Context(), id)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, gin.H{"list": locks})
}

// ============================================================
// 预占、消费、解锁
// ============================================================

// LockCard 为订单预占余额
// POST /api/v1/giftcards/:id/lock
//
// 【关键点】
// 1. 同一张卡同一时刻只有一个请求能进入，其余直接返回 429，客户端自行重试
// 2. 同一订单重复预占返回 409（lock_already_active）
func (h *Handler) LockCard(c *gin.Context) {
	id, ok := cardIDParam(c)
	if !ok {
		return
	}

	var req service.LockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	req.CardID = id

	lock, err := h.cardService.Lock(c.Request.Context(), req)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, lock)
}

// ConsumeCard 从预占中扣款
// POST /api/v1/giftcards/:id/consume
//
// idempotency_key 相同的请求只会扣一次
func (h *Handler) ConsumeCard(c *gin.Context) {
	id, ok := cardIDParam(c)
	if !ok {
		return
	}

	var req service.ConsumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	req.CardID = id

	record, err := h.cardService.Consume(c.Request.Context(), req)
	if err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, gin.H{
		"consumption": record,
		"duplicate":   record == nil,
	})
}

// UnlockCard 释放预占
// POST /api/v1/giftcards/:id/unlock
func (h *Handler) UnlockCard(c *gin.Context) {
	id, ok := cardIDParam(c)
	if !ok {
		return
	}

	var req service.UnlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	req.CardID = id

	if err := h.cardService.Unlock(c.Request.Context(), req); err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "解锁成功"})
}

// ============================================================
// 冻结、解冻
// ============================================================

// FreezeCard POST /api/v1/giftcards/:id/freeze
func (h *Handler) FreezeCard(c *gin.Context) {
	id, ok := cardIDParam(c)
	if !ok {
		return
	}

	if err := h.cardService.Freeze(c.Request.Context(), id); err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "冻结成功"})
}

// UnfreezeCard POST /api/v1/giftcards/:id/unfreeze
func (h *Handler) UnfreezeCard(c *gin.Context) {
	id, ok := cardIDParam(c)
	if !ok {
		return
	}

	if err := h.cardService.Unfreeze(c.Request.Context(), id); err != nil {
		renderError(c, err)
		return
	}

	response.Success(c, gin.H{"message": "解冻成功"})
}
