package model

import "im-sync/pkg/protocol"

// 墓碑条目类型，与同步响应中的 itemType 一致
const (
	TombstoneMessage = protocol.TombstoneMessage
	TombstoneChat    = protocol.TombstoneChat
	TombstoneGroup   = protocol.TombstoneGroup
)

// Tombstone 删除记录，客户端同步时据此删除本地副本
// SenderID/ReceiverID/GroupID 记录被删条目的可见范围，只下发给能看到它的用户
type Tombstone struct {
	ID         uint   `gorm:"primaryKey"`
	ItemType   string `gorm:"type:varchar(16);not null;comment:条目类型"`
	ItemID     string `gorm:"type:varchar(64);not null;index;comment:条目ID"`
	SenderID   uint   `gorm:"index;comment:消息发送者"`
	ReceiverID *uint  `gorm:"index;comment:消息接收者(单聊)"`
	GroupID    *uint  `gorm:"index;comment:群ID"`
	DeletedAt  int64  `gorm:"not null;index;comment:删除时间(毫秒)"`
}

func (Tombstone) TableName() string { return "tombstone" }
