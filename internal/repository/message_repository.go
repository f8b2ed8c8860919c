package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"im-sync/internal/model"
	"im-sync/pkg/errs"

	"gorm.io/gorm"
)

// ErrDuplicateCid 并发提交同一幂等键时，后写入者会得到该错误
var ErrDuplicateCid = errors.New("幂等键已存在")

// Scope 用户可见范围：自己参与的单聊 + 所在的群
type Scope struct {
	UserID   uint
	GroupIDs []uint
}

// visible 追加可见范围条件
func (s Scope) visible(db *gorm.DB) *gorm.DB {
	direct := "group_id IS NULL AND (sender_id = ? OR receiver_id = ?)"
	if len(s.GroupIDs) == 0 {
		return db.Where(direct, s.UserID, s.UserID)
	}
	return db.Where(db.Session(&gorm.Session{NewDB: true}).
		Where(direct, s.UserID, s.UserID).
		Or("group_id IN ?", s.GroupIDs))
}

// MessageRepository 消息数据仓储
type MessageRepository struct {
	db *gorm.DB
}

// NewMessageRepository 创建MessageRepository实例
func NewMessageRepository(db *gorm.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Create 持久化新消息；幂等键冲突时返回 ErrDuplicateCid
func (r *MessageRepository) Create(ctx context.Context, message *model.Message) error {
	err := r.db.WithContext(ctx).Create(message).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("写入消息 %q: %w", message.Cid, ErrDuplicateCid)
	}
	if err != nil {
		return fmt.Errorf("写入消息 %q: %w", message.Cid, err)
	}
	return nil
}

// FindByCid 按幂等键查找，包含已删除的消息；不存在时返回 errs.ErrNotFound
func (r *MessageRepository) FindByCid(ctx context.Context, cid string) (*model.Message, error) {
	var message model.Message
	err := r.db.WithContext(ctx).Unscoped().Where("cid = ?", cid).First(&message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("消息 %q", cid)
		}
		return nil, fmt.Errorf("查询消息 %q: %w", cid, err)
	}
	return &message, nil
}

// ListAfter 按 (timestamp, message_id) 升序返回时间戳大于 after 的可见消息
func (r *MessageRepository) ListAfter(ctx context.Context, scope Scope, after int64, limit int) ([]*model.Message, error) {
	var messages []*model.Message
	err := scope.visible(r.db.WithContext(ctx)).
		Where("timestamp > ?", after).
		Order("timestamp ASC").
		Order("message_id ASC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("查询同步消息: %w", err)
	}
	return messages, nil
}

// ListAt 返回某一时间戳上的全部可见消息，用于补齐被分页截断的同时间戳消息
func (r *MessageRepository) ListAt(ctx context.Context, scope Scope, ts int64) ([]*model.Message, error) {
	var messages []*model.Message
	err := scope.visible(r.db.WithContext(ctx)).
		Where("timestamp = ?", ts).
		Order("message_id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("查询同步消息: %w", err)
	}
	return messages, nil
}

// MarkReadByCid 接收者标记单聊消息已读，返回是否发生了变化
func (r *MessageRepository) MarkReadByCid(ctx context.Context, cid string, readerID uint) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("cid = ? AND receiver_id = ? AND is_read = ?", cid, readerID, false).
		Update("is_read", true)
	if result.Error != nil {
		return false, fmt.Errorf("标记已读 %q: %w", cid, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// DeleteByCid 发送者删除消息：软删除 + 写入墓碑，在同一事务内完成
func (r *MessageRepository) DeleteByCid(ctx context.Context, cid string, senderID uint, deletedAt int64) (*model.Message, error) {
	var message model.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("cid = ?", cid).First(&message).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.NotFound("消息 %q", cid)
			}
			return err
		}
		if message.SenderID != senderID {
			return errs.NotFound("消息 %q", cid)
		}
		if err := tx.Delete(&message).Error; err != nil {
			return err
		}
		return tx.Create(&model.Tombstone{
			ItemType:   model.TombstoneMessage,
			ItemID:     message.Cid,
			SenderID:   message.SenderID,
			ReceiverID: message.ReceiverID,
			GroupID:    message.GroupID,
			DeletedAt:  deletedAt,
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("删除消息 %q: %w", cid, err)
	}
	return &message, nil
}

// HideConversation 用户清除与 peerID 的单聊会话：写入只对该用户可见的 CHAT 墓碑，消息本身保留
func (r *MessageRepository) HideConversation(ctx context.Context, userID, peerID uint, deletedAt int64) error {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("group_id IS NULL").
		Where("((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))", userID, peerID, peerID, userID).
		Count(&n).Error
	if err != nil {
		return fmt.Errorf("查询会话 %d/%d: %w", userID, peerID, err)
	}
	if n == 0 {
		return errs.NotFound("与用户 %d 的会话", peerID)
	}
	uid := userID
	err = r.db.WithContext(ctx).Create(&model.Tombstone{
		ItemType:   model.TombstoneChat,
		ItemID:     strconv.FormatUint(uint64(peerID), 10),
		SenderID:   userID,
		ReceiverID: &uid,
		DeletedAt:  deletedAt,
	}).Error
	if err != nil {
		return fmt.Errorf("写入会话墓碑: %w", err)
	}
	return nil
}

// CountUnread 用户未读的单聊消息数
func (r *MessageRepository) CountUnread(ctx context.Context, receiverID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Message{}).
		Where("receiver_id = ? AND group_id IS NULL AND is_read = ?", receiverID, false).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("统计未读消息: %w", err)
	}
	return n, nil
}
