// Package reconciler 把服务端下发的消息、回执和墓碑合并进本地镜像。
//
// 同一条消息可能经实时通道和拉取同步各到达一次，合并以 cid 为键且状态只升不降，
// 所以到达顺序和重复次数都不影响最终结果。
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"im-sync/internal/client/localstore"
	"im-sync/pkg/errs"
	"im-sync/pkg/logger"
	"im-sync/pkg/protocol"

	"go.uber.org/zap"
)

// ErrUnidentifiable 消息既没有 cid 也没有服务端ID，无法去重
var ErrUnidentifiable = errors.New("消息缺少cid和服务端ID")

// Reconciler 以某个登录用户的视角合并数据
type Reconciler struct {
	store    *localstore.Store
	viewerID uint
	log      *zap.Logger
	now      func() time.Time
}

// New 创建合并器
func New(store *localstore.Store, viewerID uint) *Reconciler {
	return &Reconciler{
		store:    store,
		viewerID: viewerID,
		log:      logger.Named("reconciler"),
		now:      time.Now,
	}
}

// ViewerID 当前用户
func (r *Reconciler) ViewerID() uint { return r.viewerID }

// Normalize 返回消息的本地主键；只有服务端ID时用它充当 cid
func Normalize(chat *protocol.Chat) (string, error) {
	if chat.Cid != "" {
		return chat.Cid, nil
	}
	if chat.MessageID != "" {
		return chat.MessageID, nil
	}
	return "", ErrUnidentifiable
}

// DeriveThread 计算消息在当前用户视角下所属的会话
func DeriveThread(viewerID uint, chat *protocol.Chat) (localstore.ThreadKey, error) {
	if chat.GroupID != nil {
		return localstore.GroupThread(*chat.GroupID), nil
	}
	target := chat.Target()
	if chat.SenderID == viewerID {
		if target == nil {
			return localstore.ThreadKey{}, errs.Conflict("自己发出的单聊消息缺少接收者")
		}
		if *target == viewerID {
			return localstore.ThreadKey{}, errs.Conflict("单聊消息不能发给自己")
		}
		return localstore.DirectThread(*target), nil
	}
	if target == nil || *target != viewerID {
		return localstore.ThreadKey{}, errs.Conflict("消息 %q 不是发给用户 %d 的", chat.Cid, viewerID)
	}
	return localstore.DirectThread(chat.SenderID), nil
}

// ApplyMessage 在独立事务中合并一条消息，返回是否为本地新消息
func (r *Reconciler) ApplyMessage(ctx context.Context, chat *protocol.Chat, status localstore.Status) (bool, error) {
	var created bool
	err := r.store.WithTx(ctx, func(tx *localstore.Tx) error {
		var err error
		created, err = r.MessageTx(ctx, tx, chat, status)
		return err
	})
	return created, err
}

// MessageTx 在调用方的事务中合并一条消息并更新会话摘要
//
// 只有本地第一次见到的消息才更新会话；别人发来且未读的消息使未读数加一。
func (r *Reconciler) MessageTx(ctx context.Context, tx *localstore.Tx, chat *protocol.Chat, status localstore.Status) (bool, error) {
	cid, err := Normalize(chat)
	if err != nil {
		return false, err
	}
	thread, err := DeriveThread(r.viewerID, chat)
	if err != nil {
		return false, err
	}

	exists, err := tx.MessageExists(ctx, cid)
	if err != nil {
		return false, err
	}

	ts := chat.Timestamp
	if ts == 0 {
		ts = r.now().UnixMilli()
	}
	msg := &localstore.Message{
		Cid:        cid,
		ServerID:   chat.MessageID,
		Thread:     thread,
		SenderID:   chat.SenderID,
		SenderName: chat.SenderName,
		Content:    chat.Content,
		MediaKey:   chat.MediaKey,
		Kind:       protocol.InferKind(chat.MessageType, chat.MediaKey),
		Timestamp:  ts,
		Status:     status,
		IsMine:     chat.SenderID == r.viewerID,
	}
	if err := tx.UpsertMessage(ctx, msg); err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	unread := 0
	if !msg.IsMine && status.Rank() < localstore.StatusRead.Rank() {
		unread = 1
	}
	if err := tx.TouchThread(ctx, thread, Preview(msg), ts, unread); err != nil {
		return false, err
	}
	return true, nil
}

// RecordOutgoing 乐观写入一条待发送消息
func (r *Reconciler) RecordOutgoing(ctx context.Context, msg *localstore.Message) error {
	msg.SenderID = r.viewerID
	msg.IsMine = true
	msg.Status = localstore.StatusSending
	if msg.Timestamp == 0 {
		msg.Timestamp = r.now().UnixMilli()
	}
	msg.Kind = protocol.InferKind(msg.Kind, msg.MediaKey)
	return r.store.WithTx(ctx, func(tx *localstore.Tx) error {
		if err := tx.UpsertMessage(ctx, msg); err != nil {
			return err
		}
		return tx.TouchThread(ctx, msg.Thread, Preview(msg), msg.Timestamp, 0)
	})
}

// ApplyAck 服务端确认：SENT 时记下服务端ID，FAILED 时标记失败
//
// FAILED 的 rank 低于 SENT，迟到的失败确认不会覆盖已经成功的消息。
func (r *Reconciler) ApplyAck(ctx context.Context, ack *protocol.Ack) error {
	switch ack.Status {
	case protocol.StatusSent:
		return r.store.UpdateStatus(ctx, ack.Cid, localstore.StatusSent, ack.MessageID)
	case protocol.StatusFailed:
		return r.store.UpdateStatus(ctx, ack.Cid, localstore.StatusFailed, "")
	default:
		return errs.Conflict("未知的确认状态 %q", ack.Status)
	}
}

// ApplyStatus 合并送达/已读回执，先按 cid 查找，找不到再按服务端ID
//
// 回执来自当前用户的其他设备且为已读时，同时清零对应会话的未读数。
func (r *Reconciler) ApplyStatus(ctx context.Context, ds *protocol.DeliveryStatus) error {
	status := localstore.Status(ds.Status)
	if status != localstore.StatusDelivered && status != localstore.StatusRead {
		return errs.Conflict("未知的回执状态 %q", ds.Status)
	}

	return r.store.WithTx(ctx, func(tx *localstore.Tx) error {
		msg, err := lookup(ctx, tx, ds.Cid, ds.MessageID)
		if err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, msg.Cid, status, ds.MessageID); err != nil {
			return err
		}
		if status == localstore.StatusRead && ds.UserID == r.viewerID && !msg.IsMine {
			return tx.ResetUnread(ctx, msg.Thread)
		}
		return nil
	})
}

// TombstoneTx 在调用方的事务中应用一条删除记录，本地不存在的条目直接忽略
func (r *Reconciler) TombstoneTx(ctx context.Context, tx *localstore.Tx, item protocol.TombstoneItem) error {
	switch item.ItemType {
	case protocol.TombstoneMessage:
		deleted, err := tx.DeleteMessage(ctx, item.ItemID)
		if err != nil || deleted {
			return err
		}
		// 墓碑的 itemId 也可能是服务端ID
		msg, err := tx.GetMessageByServerID(ctx, item.ItemID)
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		_, err = tx.DeleteMessage(ctx, msg.Cid)
		return err
	case protocol.TombstoneGroup, protocol.TombstoneChat:
		id, err := strconv.ParseUint(item.ItemID, 10, 64)
		if err != nil {
			return errs.Conflict("墓碑 %s 的ID %q 非法", item.ItemType, item.ItemID)
		}
		key := localstore.GroupThread(uint(id))
		if item.ItemType == protocol.TombstoneChat {
			key = localstore.DirectThread(uint(id))
		}
		return tx.DeleteThread(ctx, key)
	default:
		r.log.Warn("忽略未知类型的墓碑", zap.String("item_type", item.ItemType), zap.String("item_id", item.ItemID))
		return nil
	}
}

func lookup(ctx context.Context, tx *localstore.Tx, cid, serverID string) (*localstore.Message, error) {
	if cid != "" {
		msg, err := tx.GetMessage(ctx, cid)
		if err == nil || !errors.Is(err, errs.ErrNotFound) || serverID == "" {
			return msg, err
		}
	}
	if serverID == "" {
		return nil, errs.NotFound("回执缺少消息标识")
	}
	msg, err := tx.GetMessageByServerID(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("按服务端ID查找消息: %w", err)
	}
	return msg, nil
}

// Preview 会话列表里显示的摘要
func Preview(msg *localstore.Message) string {
	if msg.Content != "" {
		return msg.Content
	}
	switch msg.Kind {
	case protocol.TypeImage:
		return "[图片]"
	case protocol.TypeVoice:
		return "[语音]"
	case protocol.TypeVideo:
		return "[视频]"
	case protocol.TypeFile:
		return "[文件]"
	default:
		return ""
	}
}
