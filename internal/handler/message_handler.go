package handler

import (
	"im-sync/internal/service"
	"im-sync/pkg/jwt"
	"im-sync/pkg/response"

	"github.com/gin-gonic/gin"
)

// MessageHandler 消息处理器
type MessageHandler struct {
	service *service.MessageService
}

// NewMessageHandler 创建MessageHandler实例
func NewMessageHandler(s *service.MessageService) *MessageHandler {
	return &MessageHandler{service: s}
}

// DeleteMessage 删除自己发送的消息
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	if err := h.service.DeleteMessage(c.Request.Context(), c.Param("cid"), jwt.GetUserID(c)); err != nil {
		response.FromError(c, "删除消息失败", err)
		return
	}
	response.SuccessWithMessage(c, "消息删除成功", nil)
}

// HideConversation 清除与某个用户的单聊会话
func (h *MessageHandler) HideConversation(c *gin.Context) {
	peerID, ok := parseID(c, "user_id")
	if !ok {
		return
	}
	if err := h.service.HideConversation(c.Request.Context(), jwt.GetUserID(c), peerID); err != nil {
		response.FromError(c, "清除会话失败", err)
		return
	}
	response.SuccessWithMessage(c, "会话已清除", nil)
}

// GetUnreadCount 获取未读消息数量
func (h *MessageHandler) GetUnreadCount(c *gin.Context) {
	count, err := h.service.GetUnreadCount(c.Request.Context(), jwt.GetUserID(c))
	if err != nil {
		response.FromError(c, "获取未读消息数量失败", err)
		return
	}
	response.SuccessWithMessage(c, "获取未读消息数量成功", gin.H{
		"unread_count": count,
	})
}
