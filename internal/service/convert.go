package service

import (
	"im-sync/internal/model"
	"im-sync/pkg/protocol"
)

// ToChat 持久化消息转为下发帧
func ToChat(m *model.Message) *protocol.Chat {
	return &protocol.Chat{
		MessageID:   m.MessageID,
		Cid:         m.Cid,
		SenderID:    m.SenderID,
		SenderName:  m.SenderName,
		Content:     m.Content,
		Timestamp:   m.Timestamp,
		GroupID:     m.GroupID,
		ReceiverID:  m.ReceiverID,
		MediaKey:    m.MediaKey,
		MessageType: m.MessageType,
	}
}

// ToTombstoneItem 墓碑转为同步条目
func ToTombstoneItem(t *model.Tombstone) protocol.TombstoneItem {
	return protocol.TombstoneItem{
		ItemType:  t.ItemType,
		ItemID:    t.ItemID,
		DeletedAt: t.DeletedAt,
	}
}

func containsUint(ids []uint, v uint) bool {
	for _, id := range ids {
		if id == v {
			return true
		}
	}
	return false
}

func withoutUint(ids []uint, v uint) []uint {
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id != v {
			out = append(out, id)
		}
	}
	return out
}
