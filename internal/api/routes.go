package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"debate_arena/internal/api/handlers"
	"debate_arena/internal/middleware"
	"debate_arena/internal/service"
	"debate_arena/pkg/config"
)

func SetupRoutes(r *gin.Engine, services *service.Services, cfg *config.Config) {
	// 初始化 handlers
	authHandler := handlers.NewAuthHandler(services.User)
	sessionHandler := handlers.NewSessionHandler(services.Session, services.Turn, services.Judge, services.Invitation)
	wsHandler := handlers.NewWebSocketHandler(services.EventBus, services.Session)

	// API 路由群組
	api := r.Group("/api")

	// 處理 404 錯誤
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "找不到該路徑",
		})
	})

	// 公開路由
	{
		// 用戶認證相關
		api.POST("/register", authHandler.Register)
		api.POST("/login", authHandler.Login)

		// 基本的健康檢查
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status": "ok",
			})
		})
	}

	// 需要驗證的路由
	authorized := api.Group("/")
	authorized.Use(middleware.AuthMiddleware())

	// 寫入端點共用的限流防護
	writeLimit := middleware.RateLimitMiddleware(services.RateLimiter,
		cfg.RateLimit.SubmitQuota, cfg.RateLimit.SubmitWindowSeconds)

	{
		// 辯論會話相關
		sessions := authorized.Group("/sessions")
		{
			// 基本操作
			sessions.GET("", sessionHandler.ListSessions)  // 獲取會話列表
			sessions.POST("", sessionHandler.CreateSession) // 創建會話
			sessions.GET("/:id", sessionHandler.GetSession) // 獲取會話狀態

			// 會話參與
			sessions.POST("/:id/join", sessionHandler.JoinSession)            // 占用正反方位置
			sessions.POST("/:id/start", sessionHandler.StartSession)          // 開始辯論
			sessions.GET("/:id/invite", sessionHandler.GetInviteLink)         // 取得邀請連結
			sessions.POST("/:id/invite/accept", sessionHandler.AcceptInvitation) // 接受邀請

			// 發言與評審
			sessions.POST("/:id/turns", writeLimit, sessionHandler.SubmitTurn) // 提交發言
			sessions.POST("/:id/judge/retry", sessionHandler.RetryJudging)     // 重試評審

			// WebSocket 觀察者連接點
			sessions.GET("/:id/ws", wsHandler.HandleWebSocket)
		}
	}
}
