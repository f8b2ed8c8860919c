package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"im-sync/internal/repository"
	"im-sync/pkg/errs"
	"im-sync/pkg/logger"
	"im-sync/pkg/redis"

	"go.uber.org/zap"
)

// MessageService 消息的 HTTP 侧操作：删除与未读计数
type MessageService struct {
	messageRepo *repository.MessageRepository
	now         func() time.Time
}

// NewMessageService 创建MessageService实例
func NewMessageService(messageRepo *repository.MessageRepository) *MessageService {
	return &MessageService{messageRepo: messageRepo, now: time.Now}
}

// DeleteMessage 发送者删除自己的消息，其他设备与对方在下次同步时收到墓碑
func (s *MessageService) DeleteMessage(ctx context.Context, cid string, userID uint) error {
	cid = strings.TrimSpace(cid)
	if cid == "" {
		return errs.Conflict("cid不能为空")
	}

	message, err := s.messageRepo.DeleteByCid(ctx, cid, userID, s.now().UnixMilli())
	if err != nil {
		return err
	}

	// 未读的单聊消息被删除后，对方的未读计数同步减一
	if message.ReceiverID != nil && !message.IsRead {
		if err := redis.DecrementUnreadCount(*message.ReceiverID); err != nil && !errors.Is(err, redis.ErrNotInitialized) {
			logger.Warn("减少未读消息计数失败", zap.Uint("user_id", *message.ReceiverID), zap.Error(err))
		}
	}
	return nil
}

// HideConversation 清除当前用户与 peerID 的单聊会话，只影响当前用户的设备
func (s *MessageService) HideConversation(ctx context.Context, userID, peerID uint) error {
	if peerID == userID {
		return errs.Conflict("不能清除与自己的会话")
	}
	return s.messageRepo.HideConversation(ctx, userID, peerID, s.now().UnixMilli())
}

// GetUnreadCount 获取未读消息数量（优先从Redis获取）
func (s *MessageService) GetUnreadCount(ctx context.Context, userID uint) (int64, error) {
	count, err := redis.GetUnreadCount(userID)
	if err == nil {
		return count, nil
	}
	if !errors.Is(err, redis.ErrNotInitialized) {
		logger.Warn("从Redis获取未读计数失败，回退数据库", zap.Uint("user_id", userID), zap.Error(err))
	}
	return s.messageRepo.CountUnread(ctx, userID)
}
