package protocol

// TombstoneItem 同步响应中的删除记录
type TombstoneItem struct {
	ItemType  string `json:"itemType"`
	ItemID    string `json:"itemId"`
	DeletedAt int64  `json:"deletedAt"`
}

// SyncPage 拉取同步的一页结果
type SyncPage struct {
	Messages   []Chat          `json:"messages"`
	Tombstones []TombstoneItem `json:"tombstones"`
	LastTs     int64           `json:"lastTs"`
	HasMore    bool            `json:"hasMore"`
}

// 墓碑条目类型。MESSAGE 的 itemId 是消息 cid，GROUP 是群ID，CHAT 是单聊对方的用户ID
const (
	TombstoneMessage = "MESSAGE"
	TombstoneChat    = "CHAT"
	TombstoneGroup   = "GROUP"
)
