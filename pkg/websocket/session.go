package websocket

import (
	"errors"
	"sync"

	"im-sync/pkg/metrics"
	"im-sync/pkg/protocol"

	"github.com/google/uuid"
)

var (
	ErrSessionClosed = errors.New("会话已关闭")
	ErrSlowConsumer  = errors.New("发送队列已满，会话被关闭")
)

// Session 一个已认证的实时连接
// 所有下行帧都进入 send 队列，由唯一的写协程按入队顺序写出

type Session struct {
	ID       string
	UserID   uint
	Username string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession 创建会话，buffer 为发送队列长度
func NewSession(userID uint, username string, buffer int) *Session {
	if buffer <= 0 {
		buffer = 256
	}
	return &Session{
		ID:       uuid.NewString(),
		UserID:   userID,
		Username: username,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
	}
}

// Authenticated 会话是否带有已验证身份
func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != 0
}

// Enqueue 非阻塞入队。队列满时关闭会话，客户端重连后通过拉取同步补齐
func (s *Session) Enqueue(data []byte) error {
	select {
	case <-s.done:
		metrics.DroppedFrames.Inc()
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- data:
		return nil
	case <-s.done:
		metrics.DroppedFrames.Inc()
		return ErrSessionClosed
	default:
		metrics.DroppedFrames.Inc()
		s.Close()
		return ErrSlowConsumer
	}
}

// SendFrame 编码并入队
func (s *Session) SendFrame(frame protocol.Frame) error {
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}
	return s.Enqueue(data)
}

// Outbound 写协程读取的队列
func (s *Session) Outbound() <-chan []byte {
	return s.send
}

// Done 会话关闭后可读
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close 关闭会话，可重复调用
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
