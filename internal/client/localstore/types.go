package localstore

// Status 本地消息状态
type Status string

const (
	StatusSending   Status = "SENDING"
	StatusFailed    Status = "FAILED"
	StatusSent      Status = "SENT"
	StatusSynced    Status = "SYNCED"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
)

// Rank 状态只能单调上升；FAILED 低于 SENT，一旦服务端确认就不会被迟到的失败覆盖
func (s Status) Rank() int {
	switch s {
	case StatusSending:
		return 0
	case StatusFailed:
		return 1
	case StatusSent:
		return 2
	case StatusSynced:
		return 3
	case StatusDelivered:
		return 4
	case StatusRead:
		return 5
	default:
		return -1
	}
}

// 会话类型
const (
	ThreadDirect = "direct"
	ThreadGroup  = "group"
)

// ThreadKey 会话标识。单聊为对方用户ID，群聊为群ID，类型不同的ID互不冲突
type ThreadKey struct {
	Type string
	ID   uint
}

func DirectThread(userID uint) ThreadKey { return ThreadKey{Type: ThreadDirect, ID: userID} }

func GroupThread(groupID uint) ThreadKey { return ThreadKey{Type: ThreadGroup, ID: groupID} }

// Message 本地消息记录，以 cid 为主键
type Message struct {
	Cid        string
	ServerID   string
	Thread     ThreadKey
	SenderID   uint
	SenderName string
	Content    string
	MediaKey   string
	Kind       string
	Timestamp  int64
	Status     Status
	IsMine     bool
}

// Thread 会话列表条目
type Thread struct {
	Key         ThreadKey
	LastPreview string
	LastTime    int64
	UnreadCount int
}

// Draft 每个会话至多一条草稿
type Draft struct {
	Thread    ThreadKey
	Content   string
	Kind      string
	UpdatedAt int64
}

// Contact 联系人最近一次已知的在线状态
type Contact struct {
	UserID    uint
	Status    string
	UpdatedAt int64
}
