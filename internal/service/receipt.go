package service

import (
	"context"
	"errors"

	"im-sync/pkg/errs"
	"im-sync/pkg/logger"
	"im-sync/pkg/protocol"
	"im-sync/pkg/redis"
	"im-sync/pkg/websocket"

	"go.uber.org/zap"
)

// ReceiptService 送达/已读回执与输入中提示的转发
type ReceiptService struct {
	messages MessageStore
	groups   GroupLookup
	registry *websocket.Registry
}

func NewReceiptService(messages MessageStore, groups GroupLookup, registry *websocket.Registry) *ReceiptService {
	return &ReceiptService{messages: messages, groups: groups, registry: registry}
}

// Propagate 转发回执。单聊通知 recipientId；群聊通知除回执者外的全部成员
// 单聊 READ 同时落库已读标记并扣减对方未读计数
func (s *ReceiptService) Propagate(ctx context.Context, origin *websocket.Session, receipt *protocol.DeliveryStatus) error {
	if !origin.Authenticated() {
		return errs.Authentication("会话未认证")
	}
	// 回执者以认证身份为准
	receipt.UserID = origin.UserID

	targets, err := s.audience(ctx, origin.UserID, receipt.RecipientID, receipt.GroupID)
	if err != nil {
		return err
	}

	if receipt.Status == protocol.StatusRead && receipt.GroupID == nil && receipt.Cid != "" {
		changed, err := s.messages.MarkReadByCid(ctx, receipt.Cid, origin.UserID)
		if err != nil {
			logger.Warn("标记已读失败", zap.String("cid", receipt.Cid), zap.Error(err))
		} else if changed {
			if err := redis.DecrementUnreadCount(origin.UserID); err != nil && !errors.Is(err, redis.ErrNotInitialized) {
				logger.Warn("扣减未读计数失败", zap.Uint("user_id", origin.UserID), zap.Error(err))
			}
		}
	}

	// 回执者自己的其他设备也同步这份状态
	targets = append(targets, origin.UserID)
	_, err = s.registry.DeliverFrame(targets, receipt, origin)
	return err
}

// Typing 转发输入中提示
func (s *ReceiptService) Typing(ctx context.Context, origin *websocket.Session, typing *protocol.Typing) error {
	if !origin.Authenticated() {
		return errs.Authentication("会话未认证")
	}
	typing.SenderID = origin.UserID

	targets, err := s.audience(ctx, origin.UserID, typing.RecipientID, typing.GroupID)
	if err != nil {
		return err
	}
	_, err = s.registry.DeliverFrame(targets, typing, origin)
	return err
}

// audience 单聊为对方；群聊为除自己外的成员，自己必须在群内
func (s *ReceiptService) audience(ctx context.Context, actorID uint, recipientID, groupID *uint) ([]uint, error) {
	if groupID != nil {
		members, err := s.groups.MemberIDs(ctx, *groupID)
		if err != nil {
			return nil, err
		}
		if !containsUint(members, actorID) {
			return nil, errs.NotFound("用户 %d 不在群 %d", actorID, *groupID)
		}
		return withoutUint(members, actorID), nil
	}
	if *recipientID == actorID {
		return nil, nil
	}
	return []uint{*recipientID}, nil
}
