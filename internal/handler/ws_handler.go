package handler

import (
	"context"
	"errors"

	"im-sync/config"
	"im-sync/internal/service"
	"im-sync/pkg/errs"
	"im-sync/pkg/jwt"
	"im-sync/pkg/logger"
	"im-sync/pkg/metrics"
	"im-sync/pkg/ratelimit"
	"im-sync/pkg/response"
	"im-sync/pkg/websocket"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// WSHandler 实时通道入口：认证 → 升级 → 注册会话 → 读写循环
type WSHandler struct {
	ctx        context.Context
	jwtSvc     *jwt.JWTService
	users      *service.UserService
	registry   *websocket.Registry
	dispatcher *service.Dispatcher
	limiter    *ratelimit.LimiterStore
	cfg        config.WebSocketConfig
}

// NewWSHandler ctx 在服务关闭时取消，用于终止仍在处理中的上行帧
func NewWSHandler(ctx context.Context, jwtSvc *jwt.JWTService, users *service.UserService, registry *websocket.Registry,
	dispatcher *service.Dispatcher, limiter *ratelimit.LimiterStore, cfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		ctx:        ctx,
		jwtSvc:     jwtSvc,
		users:      users,
		registry:   registry,
		dispatcher: dispatcher,
		limiter:    limiter,
		cfg:        cfg,
	}
}

// Handle GET /ws
func (h *WSHandler) Handle(c *gin.Context) {
	token := websocket.TokenFromRequest(c.Request)
	if token == "" {
		response.Unauthorized(c, "缺少token")
		return
	}
	identity, err := h.jwtSvc.Authenticate(token)
	if err != nil {
		response.Unauthorized(c, "token无效或已过期")
		return
	}
	user, err := h.users.Profile(c.Request.Context(), identity.UserID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			response.Unauthorized(c, "用户不存在")
			return
		}
		response.FromError(c, "查询用户失败", err)
		return
	}

	conn, err := websocket.Upgrade(c.Writer, c.Request)
	if err != nil {
		// Upgrade 已经写出了错误响应
		logger.Warn("WebSocket升级失败", zap.Uint("user_id", identity.UserID), zap.Error(err))
		return
	}

	session := websocket.NewSession(user.ID, user.Name(), h.cfg.SendBuffer)
	h.registry.Register(session)
	logger.Info("WebSocket连接建立", zap.Uint("user_id", session.UserID), zap.String("session_id", session.ID))
	defer func() {
		h.registry.Unregister(session)
		logger.Info("WebSocket连接断开", zap.Uint("user_id", session.UserID), zap.String("session_id", session.ID))
	}()

	key := "ws:" + session.ID
	websocket.Serve(conn, session, h.cfg, func(payload []byte) {
		if h.limiter != nil && !h.limiter.Allow(key) {
			metrics.RejectedFrames.WithLabelValues("rate_limited").Inc()
			logger.Warn("上行帧超出限流", zap.Uint("user_id", session.UserID), zap.String("session_id", session.ID))
			h.dispatcher.Reject(session, payload)
			return
		}
		h.dispatcher.Dispatch(h.ctx, session, payload)
	})
}
