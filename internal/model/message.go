package model

import (
	"time"

	"gorm.io/gorm"
)

// Message 消息模型
// ReceiverID 与 GroupID 二选一：单聊填 ReceiverID，群聊填 GroupID
// Cid 为客户端生成的幂等键，MessageID 为服务端首次持久化时分配的 uuid
// Timestamp 为服务端毫秒时间戳，同步游标基于它推进

type Message struct {
	ID          uint           `gorm:"primaryKey"`
	MessageID   string         `gorm:"type:varchar(64);not null;uniqueIndex;comment:服务端消息ID"`
	Cid         string         `gorm:"type:varchar(64);not null;uniqueIndex;comment:客户端幂等键"`
	SenderID    uint           `gorm:"not null;index;comment:发送者ID"`
	SenderName  string         `gorm:"type:varchar(64);comment:发送者名称"`
	ReceiverID  *uint          `gorm:"index;comment:接收者ID(单聊)"`
	GroupID     *uint          `gorm:"index;comment:群ID(群聊)"`
	Content     string         `gorm:"type:text;not null;comment:消息内容"`
	MediaKey    string         `gorm:"type:varchar(255);comment:媒体文件key"`
	MessageType string         `gorm:"type:varchar(32);default:'text';comment:消息类型"`
	Timestamp   int64          `gorm:"not null;index;comment:服务端时间戳(毫秒)"`
	IsRead      bool           `gorm:"default:false;comment:是否已读"`
	CreatedAt   time.Time      `gorm:"comment:创建时间"`
	UpdatedAt   time.Time      `gorm:"comment:更新时间"`
	DeletedAt   gorm.DeletedAt `gorm:"index"`
}

func (Message) TableName() string { return "message" }

// IsGroup 是否群聊消息
func (m *Message) IsGroup() bool { return m.GroupID != nil }
