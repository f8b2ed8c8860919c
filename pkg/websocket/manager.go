package websocket

import (
	"sort"
	"sync"

	"im-sync/pkg/metrics"
	"im-sync/pkg/protocol"
)

// PresenceListener 用户上线(首个连接)或下线(最后一个连接断开)时回调
type PresenceListener func(userID uint, username string, online bool)

// Registry 在线连接注册表：用户ID → 该用户的全部会话
// 一把互斥锁串行化所有注册、注销与查询；上下线广播在持锁期间入队，保证事件顺序

type Registry struct {
	mu       sync.Mutex
	sessions map[uint]map[string]*Session
	listener PresenceListener
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[uint]map[string]*Session),
	}
}

// SetPresenceListener 设置上下线回调（例如写入Redis在线镜像）
func (r *Registry) SetPresenceListener(fn PresenceListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = fn
}

// Register 注册会话，返回是否为该用户的第一个连接
// 首个连接会向其他所有在线会话广播 online；新会话总会收到一次 presence_list
func (r *Registry) Register(s *Session) bool {
	r.mu.Lock()
	userSessions, ok := r.sessions[s.UserID]
	if !ok {
		userSessions = make(map[string]*Session)
		r.sessions[s.UserID] = userSessions
	}
	userSessions[s.ID] = s
	first := len(userSessions) == 1

	if first {
		r.broadcastLocked(s.UserID, &protocol.Status{UserID: s.UserID, Status: protocol.PresenceOnline})
	}
	_ = s.SendFrame(&protocol.PresenceList{OnlineUserIDs: r.onlineLocked(s.UserID)})

	metrics.Sessions.Inc()
	if first {
		metrics.OnlineUsers.Inc()
	}
	listener := r.listener
	r.mu.Unlock()

	if first && listener != nil {
		listener(s.UserID, s.Username, true)
	}
	return first
}

// Unregister 注销会话，返回是否为该用户的最后一个连接
func (r *Registry) Unregister(s *Session) bool {
	r.mu.Lock()
	userSessions, ok := r.sessions[s.UserID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	if _, ok := userSessions[s.ID]; !ok {
		r.mu.Unlock()
		return false
	}
	delete(userSessions, s.ID)
	last := len(userSessions) == 0
	if last {
		delete(r.sessions, s.UserID)
		r.broadcastLocked(s.UserID, &protocol.Status{UserID: s.UserID, Status: protocol.PresenceOffline})
		metrics.OnlineUsers.Dec()
	}
	metrics.Sessions.Dec()
	listener := r.listener
	r.mu.Unlock()

	if last && listener != nil {
		listener(s.UserID, s.Username, false)
	}
	return last
}

// SessionsFor 返回用户当前的全部会话（可能为空）
func (r *Registry) SessionsFor(userID uint) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	userSessions := r.sessions[userID]
	out := make([]*Session, 0, len(userSessions))
	for _, s := range userSessions {
		out = append(out, s)
	}
	return out
}

// IsOnline 判断用户是否至少有一个连接
func (r *Registry) IsOnline(userID uint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[userID]) > 0
}

// OnlineUsers 返回所有在线用户ID（升序）
func (r *Registry) OnlineUsers() []uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.onlineLocked(0)
}

// Deliver 把同一份数据投递给多个用户的所有会话，except 会话除外
// 返回成功入队的会话数；离线用户直接跳过
func (r *Registry) Deliver(userIDs []uint, data []byte, except *Session) int {
	targets := r.collect(userIDs, except)

	delivered := 0
	for _, s := range targets {
		if err := s.Enqueue(data); err == nil {
			delivered++
		}
	}
	metrics.FanoutFrames.Add(float64(delivered))
	return delivered
}

// DeliverFrame 编码后投递
func (r *Registry) DeliverFrame(userIDs []uint, frame protocol.Frame, except *Session) (int, error) {
	data, err := protocol.Encode(frame)
	if err != nil {
		return 0, err
	}
	return r.Deliver(userIDs, data, except), nil
}

func (r *Registry) collect(userIDs []uint, except *Session) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[uint]struct{}, len(userIDs))
	var targets []*Session
	for _, id := range userIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		for _, s := range r.sessions[id] {
			if except != nil && s.ID == except.ID {
				continue
			}
			targets = append(targets, s)
		}
	}
	return targets
}

// broadcastLocked 向除 userID 以外的所有会话广播，调用方持有锁
func (r *Registry) broadcastLocked(userID uint, frame protocol.Frame) {
	data, err := protocol.Encode(frame)
	if err != nil {
		return
	}
	for id, userSessions := range r.sessions {
		if id == userID {
			continue
		}
		for _, s := range userSessions {
			_ = s.Enqueue(data)
		}
	}
}

func (r *Registry) onlineLocked(exclude uint) []uint {
	ids := make([]uint, 0, len(r.sessions))
	for id := range r.sessions {
		if id != exclude {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
