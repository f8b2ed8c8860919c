package handler

import (
	"context"
	"time"

	"im-sync/pkg/db"
	"im-sync/pkg/metrics"
	"im-sync/pkg/redis"
	"im-sync/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handlers 全部HTTP处理器
type Handlers struct {
	User    *UserHandler
	Message *MessageHandler
	Sync    *SyncHandler
	Group   *GroupHandler
	WS      *WSHandler
}

// Register 绑定路由。auth 为JWT中间件，limit 为按用户限流中间件（可为nil）
func (h *Handlers) Register(router *gin.Engine, auth gin.HandlerFunc, limit gin.HandlerFunc) {
	setupBasicRoutes(router)

	protected := []gin.HandlerFunc{auth}
	if limit != nil {
		protected = append(protected, limit)
	}

	v1 := router.Group("/api/v1")
	{
		users := v1.Group("/users")
		{
			// 公开接口（无需认证）
			users.POST("/register", h.User.Register)
			users.POST("/login", h.User.Login)

			// 需要认证的接口
			authUsers := users.Group("", protected...)
			{
				authUsers.GET("/profile", h.User.GetProfile)
				authUsers.PUT("/profile", h.User.UpdateProfile)
				authUsers.GET("/online", h.User.GetOnlineUsers)
				authUsers.GET("/:user_id/presence", h.User.CheckUserOnline)
			}
		}

		// 拉取同步
		v1.GET("/sync", append(protected, h.Sync.Pull)...)

		// 消息路由（需要认证）
		messages := v1.Group("/messages", protected...)
		{
			messages.GET("/unread/count", h.Message.GetUnreadCount) // 获取未读消息数量
			messages.DELETE("/:cid", h.Message.DeleteMessage)       // 删除消息
		}

		// 单聊会话
		chats := v1.Group("/chats", protected...)
		{
			chats.DELETE("/:user_id", h.Message.HideConversation) // 清除会话
		}

		groups := v1.Group("/groups", protected...)
		{
			groups.POST("", h.Group.Create)
			groups.GET("/:group_id", h.Group.Get)
			groups.GET("/:group_id/members", h.Group.Get)
			groups.POST("/:group_id/members", h.Group.AddMembers)
			groups.POST("/:group_id/members/:user_id/kick", h.Group.Kick)
			groups.POST("/:group_id/leave", h.Group.Leave)
			groups.DELETE("/:group_id", h.Group.Delete)
		}
	}

	// WebSocket路由，令牌通过 query / Authorization / 子协议携带
	if h.WS != nil {
		router.GET("/ws", h.WS.Handle)
	}
}

// setupBasicRoutes 健康检查与监控指标
func setupBasicRoutes(router *gin.Engine) {
	// 完整url为：http://localhost:8080/health
	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := "ok"
		if err := db.HealthCheck(ctx); err != nil {
			status = "db-down"
		}
		redisStatus := "disabled"
		if redis.Enabled() {
			redisStatus = "ok"
			if err := redis.HealthCheck(); err != nil {
				redisStatus = "down"
			}
		}
		response.Success(c, gin.H{
			"status": status,
			"redis":  redisStatus,
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
}
