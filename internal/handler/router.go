package handler

import (
	"giftcard/internal/infrastructure/metrics"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		cards := api.Group("/giftcards")
		{
			cards.POST("/issue", h.IssueCards)
			cards.GET("", h.ListCards)
			cards.GET("/:id", h.GetCard)
			cards.GET("/:id/consumptions", h.ListConsumptions)
			cards.GET("/:id/locks", h.ListLocks)
			cards.POST("/:id/lock", h.LockCard)
			cards.POST("/:id/consume", h.ConsumeCard)
			cards.POST("/:id/unlock", h.UnlockCard)
			cards.POST("/:id/freeze", h.FreezeCard)
			cards.POST("/:id/unfreeze", h.UnfreezeCard)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	return r
}
