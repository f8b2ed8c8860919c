package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"im-sync/internal/model"
	"im-sync/internal/repository"
	"im-sync/pkg/errs"
	"im-sync/pkg/logger"
	"im-sync/pkg/metrics"
	"im-sync/pkg/protocol"
	"im-sync/pkg/redis"
	"im-sync/pkg/websocket"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ChatRouter 消息发送链路：校验 → 幂等查重 → 持久化 → 扇出 → 回执
// 持久化先于 ack；持久化失败只回 FAILED 给发起会话，不扇出
type ChatRouter struct {
	messages MessageStore
	users    UserLookup
	groups   GroupLookup
	registry *websocket.Registry

	now   func() time.Time
	newID func() string
}

func NewChatRouter(messages MessageStore, users UserLookup, groups GroupLookup, registry *websocket.Registry) *ChatRouter {
	return &ChatRouter{
		messages: messages,
		users:    users,
		groups:   groups,
		registry: registry,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Submit 处理一次消息提交，返回最终对应的持久化记录
func (r *ChatRouter) Submit(ctx context.Context, origin *websocket.Session, sub *protocol.Chat) (*model.Message, error) {
	if !origin.Authenticated() {
		return nil, errs.Authentication("会话未认证")
	}

	sub.Cid = strings.TrimSpace(sub.Cid)
	if sub.Cid == "" {
		// 没有幂等键就无法关联回执，只能丢弃
		metrics.RejectedFrames.WithLabelValues("missing_cid").Inc()
		logger.Warn("丢弃缺少cid的消息", zap.Uint("user_id", origin.UserID))
		return nil, errs.Conflict("消息缺少cid")
	}

	if err := validateTarget(origin.UserID, sub); err != nil {
		r.fail(origin, sub.Cid, err)
		return nil, err
	}

	message, created, err := r.persist(ctx, origin, sub)
	if err != nil {
		r.fail(origin, sub.Cid, err)
		return nil, err
	}

	if message.DeletedAt.Valid {
		// 重放一条已被删除的消息：确认即可，不再扇出
		r.ack(origin, &protocol.Ack{Cid: message.Cid, MessageID: message.MessageID, Status: protocol.StatusSent})
		return message, nil
	}

	recipients, err := r.recipients(ctx, message)
	if err != nil {
		// 消息已持久化，收件人解析失败时离线方会通过拉取同步拿到
		logger.Error("解析收件人失败", zap.String("cid", message.Cid), zap.Error(err))
	} else if _, err := r.registry.DeliverFrame(recipients, ToChat(message), origin); err != nil {
		logger.Error("扇出消息失败", zap.String("cid", message.Cid), zap.Error(err))
	}

	r.ack(origin, &protocol.Ack{Cid: message.Cid, MessageID: message.MessageID, Status: protocol.StatusSent})

	if created && message.ReceiverID != nil {
		if err := redis.IncrementUnreadCount(*message.ReceiverID); err != nil && !errors.Is(err, redis.ErrNotInitialized) {
			logger.Warn("更新未读计数失败", zap.Uint("user_id", *message.ReceiverID), zap.Error(err))
		}
	}
	return message, nil
}

// persist 返回已有记录或新写入的记录；created 表示本次是否新写入
func (r *ChatRouter) persist(ctx context.Context, origin *websocket.Session, sub *protocol.Chat) (*model.Message, bool, error) {
	existing, err := r.findExisting(ctx, origin, sub.Cid)
	if err != nil || existing != nil {
		return existing, false, err
	}

	if err := r.checkTarget(ctx, origin.UserID, sub); err != nil {
		return nil, false, err
	}

	message := &model.Message{
		MessageID:   r.newID(),
		Cid:         sub.Cid,
		SenderID:    origin.UserID,
		SenderName:  origin.Username,
		ReceiverID:  sub.Target(),
		GroupID:     sub.GroupID,
		Content:     sub.Content,
		MediaKey:    sub.MediaKey,
		MessageType: protocol.InferKind(sub.MessageType, sub.MediaKey),
		Timestamp:   r.now().UnixMilli(),
	}
	if message.GroupID != nil {
		message.ReceiverID = nil
	}

	if err := r.messages.Create(ctx, message); err != nil {
		if errors.Is(err, repository.ErrDuplicateCid) {
			// 并发重试抢先写入了同一cid
			existing, findErr := r.findExisting(ctx, origin, sub.Cid)
			if findErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		logger.Error("持久化消息失败", zap.String("cid", sub.Cid), zap.Error(err))
		return nil, false, err
	}

	metrics.MessagesPersisted.Inc()
	return message, true, nil
}

func (r *ChatRouter) findExisting(ctx context.Context, origin *websocket.Session, cid string) (*model.Message, error) {
	existing, err := r.messages.FindByCid(ctx, cid)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if existing.SenderID != origin.UserID {
		return nil, errs.Conflict("cid %q 已被其他用户使用", cid)
	}
	metrics.MessagesDeduplicated.Inc()
	return existing, nil
}

// checkTarget 确认单聊对象存在，或发送者是群成员
func (r *ChatRouter) checkTarget(ctx context.Context, senderID uint, sub *protocol.Chat) error {
	if sub.GroupID != nil {
		if _, err := r.groups.GetByID(ctx, *sub.GroupID); err != nil {
			return err
		}
		members, err := r.groups.MemberIDs(ctx, *sub.GroupID)
		if err != nil {
			return err
		}
		if !containsUint(members, senderID) {
			return errs.NotFound("用户 %d 不在群 %d", senderID, *sub.GroupID)
		}
		return nil
	}
	_, err := r.users.GetByID(ctx, *sub.Target())
	return err
}

// recipients 群消息发给全部成员；单聊发给对方和发送者自己的其他设备
func (r *ChatRouter) recipients(ctx context.Context, message *model.Message) ([]uint, error) {
	if message.GroupID != nil {
		return r.groups.MemberIDs(ctx, *message.GroupID)
	}
	return []uint{*message.ReceiverID, message.SenderID}, nil
}

func (r *ChatRouter) ack(origin *websocket.Session, ack *protocol.Ack) {
	metrics.Acks.WithLabelValues(ack.Status).Inc()
	if err := origin.SendFrame(ack); err != nil {
		logger.Warn("发送ack失败", zap.String("cid", ack.Cid), zap.String("session_id", origin.ID), zap.Error(err))
	}
}

// Reject 未进入发送链路的提交（例如被限流）同样以 FAILED 通知发起会话
func (r *ChatRouter) Reject(origin *websocket.Session, cid string, cause error) {
	cid = strings.TrimSpace(cid)
	if cid == "" {
		return
	}
	r.fail(origin, cid, cause)
}

func (r *ChatRouter) fail(origin *websocket.Session, cid string, cause error) {
	logger.Warn("消息发送失败", zap.Uint("user_id", origin.UserID), zap.String("cid", cid), zap.Error(cause))
	r.ack(origin, &protocol.Ack{Cid: cid, Status: protocol.StatusFailed})
}

// validateTarget 必须且只能指定一个目标，且单聊不能发给自己
func validateTarget(senderID uint, sub *protocol.Chat) error {
	target := sub.Target()
	switch {
	case target == nil && sub.GroupID == nil:
		return errs.Conflict("消息缺少recipientId和groupId")
	case target != nil && sub.GroupID != nil:
		return errs.Conflict("消息不能同时指定recipientId和groupId")
	case target != nil && *target == senderID:
		return errs.Conflict("不能给自己发送单聊消息")
	case target != nil && *target == 0:
		return errs.Conflict("recipientId非法")
	}
	return nil
}
