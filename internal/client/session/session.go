// Package session 客户端实时通道：发送、重发、已读回执，以及把下行帧合并进本地镜像
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"im-sync/internal/client/localstore"
	"im-sync/internal/client/reconciler"
	"im-sync/pkg/errs"
	"im-sync/pkg/logger"
	"im-sync/pkg/protocol"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const writeTimeout = 10 * time.Second

// Handlers 下行事件回调，均可为空
type Handlers struct {
	OnConnected func()
	OnChat      func(chat *protocol.Chat, created bool)
	OnPresence  func(userID uint, status string)
	OnTyping    func(t *protocol.Typing)
	OnSignal    func(s *protocol.Signal)
}

// Session 一个登录用户的实时通道
type Session struct {
	store    *localstore.Store
	rec      *reconciler.Reconciler
	handlers Handlers
	log      *zap.Logger
	newCid   func() string

	mu   sync.Mutex
	conn FrameConn
}

// New 创建会话，连接前也可以离线发送（消息会标记为 FAILED 等待重发）
func New(store *localstore.Store, rec *reconciler.Reconciler, handlers Handlers) *Session {
	return &Session{
		store:    store,
		rec:      rec,
		handlers: handlers,
		log:      logger.Named("session"),
		newCid:   uuid.NewString,
	}
}

// Connect 拨号并挂上连接
func (s *Session) Connect(ctx context.Context, wsURL, token string) error {
	conn, err := Dial(ctx, wsURL, token)
	if err != nil {
		return err
	}
	s.Attach(conn)
	return nil
}

// Attach 使用已建立的连接，触发 OnConnected
func (s *Session) Attach(conn FrameConn) {
	s.mu.Lock()
	old := s.conn
	s.conn = conn
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	s.log.Info("实时通道已连接", zap.Uint("user_id", s.rec.ViewerID()))
	if s.handlers.OnConnected != nil {
		s.handlers.OnConnected()
	}
}

// Serve 读循环，连接断开或 ctx 结束时返回
func (s *Session) Serve(ctx context.Context) error {
	conn := s.current()
	if conn == nil {
		return errs.Transient(nil, "实时通道未连接")
	}
	defer s.detach(conn)

	for {
		data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errs.Transient(err, "实时通道断开")
		}
		s.handle(ctx, data)
	}
}

// Close 关闭当前连接
func (s *Session) Close() error {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (s *Session) current() FrameConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *Session) detach(conn FrameConn) {
	s.mu.Lock()
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()
	_ = conn.Close()
}

// write 编码并发送一帧，未连接时返回传输错误
func (s *Session) write(ctx context.Context, frame protocol.Frame) error {
	conn := s.current()
	if conn == nil {
		return errs.Transient(nil, "实时通道未连接")
	}
	data, err := protocol.Encode(frame)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, data); err != nil {
		return errs.Transient(err, "发送%s帧失败", frame.Kind())
	}
	return nil
}

// Send 乐观写入本地后提交消息；发送失败时消息标记为 FAILED，可以用 Resend 重发
func (s *Session) Send(ctx context.Context, target localstore.ThreadKey, content, mediaKey string) (*localstore.Message, error) {
	if content == "" && mediaKey == "" {
		return nil, errs.Conflict("消息内容和媒体均为空")
	}
	if target.Type == localstore.ThreadDirect && target.ID == s.rec.ViewerID() {
		return nil, errs.Conflict("单聊消息不能发给自己")
	}

	msg := &localstore.Message{
		Cid:      s.newCid(),
		Thread:   target,
		Content:  content,
		MediaKey: mediaKey,
	}
	if err := s.rec.RecordOutgoing(ctx, msg); err != nil {
		return nil, err
	}
	return s.submit(ctx, msg)
}

// Resend 用同一个 cid 重发失败或迟迟没有 ack 的消息
func (s *Session) Resend(ctx context.Context, cid string) (*localstore.Message, error) {
	msg, err := s.store.MarkResending(ctx, cid)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, msg)
}

func (s *Session) submit(ctx context.Context, msg *localstore.Message) (*localstore.Message, error) {
	chat := &protocol.Chat{
		Cid:         msg.Cid,
		Content:     msg.Content,
		MediaKey:    msg.MediaKey,
		MessageType: msg.Kind,
	}
	id := msg.Thread.ID
	if msg.Thread.Type == localstore.ThreadGroup {
		chat.GroupID = &id
	} else {
		chat.RecipientID = &id
	}

	if err := s.write(ctx, chat); err != nil {
		if uerr := s.store.UpdateStatus(ctx, msg.Cid, localstore.StatusFailed, ""); uerr != nil {
			s.log.Error("标记消息发送失败出错", zap.String("cid", msg.Cid), zap.Error(uerr))
		}
		msg.Status = localstore.StatusFailed
		return msg, err
	}
	return msg, nil
}

// MarkRead 本地标记已读并清零会话未读，再通知对方
func (s *Session) MarkRead(ctx context.Context, cid string) error {
	msg, err := s.store.GetMessage(ctx, cid)
	if err != nil {
		return err
	}
	if msg.IsMine {
		return errs.Conflict("不能对自己发出的消息发送已读回执")
	}
	err = s.store.WithTx(ctx, func(tx *localstore.Tx) error {
		if err := tx.UpdateStatus(ctx, cid, localstore.StatusRead, ""); err != nil {
			return err
		}
		return tx.ResetUnread(ctx, msg.Thread)
	})
	if err != nil {
		return err
	}
	return s.write(ctx, receipt(msg.Cid, msg.ServerID, msg.SenderID, msg.Thread, protocol.StatusRead))
}

// SetTyping 发送输入中提示
func (s *Session) SetTyping(ctx context.Context, target localstore.ThreadKey, typing bool) error {
	frame := &protocol.Typing{IsTyping: typing}
	id := target.ID
	if target.Type == localstore.ThreadGroup {
		frame.GroupID = &id
	} else {
		frame.RecipientID = &id
	}
	return s.write(ctx, frame)
}

// SendSignal 发送呼叫信令
func (s *Session) SendSignal(ctx context.Context, sig *protocol.Signal) error {
	return s.write(ctx, sig)
}

// SaveDraft 保存会话草稿，内容为空时删除
func (s *Session) SaveDraft(ctx context.Context, thread localstore.ThreadKey, content string) error {
	if content == "" {
		return s.store.DeleteDraft(ctx, thread)
	}
	return s.store.SaveDraft(ctx, &localstore.Draft{Thread: thread, Content: content})
}

// Draft 读取会话草稿
func (s *Session) Draft(ctx context.Context, thread localstore.ThreadKey) (*localstore.Draft, error) {
	return s.store.GetDraft(ctx, thread)
}

// DeleteDraft 删除会话草稿
func (s *Session) DeleteDraft(ctx context.Context, thread localstore.ThreadKey) error {
	return s.store.DeleteDraft(ctx, thread)
}

// receipt 回执发给原发送者；群消息回执按群投递
func receipt(cid, serverID string, senderID uint, thread localstore.ThreadKey, status string) *protocol.DeliveryStatus {
	ds := &protocol.DeliveryStatus{Cid: cid, MessageID: serverID, Status: status}
	if thread.Type == localstore.ThreadGroup {
		gid := thread.ID
		ds.GroupID = &gid
	} else {
		ds.RecipientID = &senderID
	}
	return ds
}

// handle 处理一条下行帧，单帧出错只记录日志
func (s *Session) handle(ctx context.Context, data []byte) {
	frame, err := protocol.Decode(data)
	if err != nil {
		s.log.Warn("忽略无法解析的下行帧", zap.Error(err))
		return
	}

	switch f := frame.(type) {
	case *protocol.Chat:
		s.handleChat(ctx, f)
	case *protocol.Ack:
		if err := s.rec.ApplyAck(ctx, f); err != nil {
			s.log.Warn("合并发送确认失败", zap.String("cid", f.Cid), zap.Error(err))
		}
	case *protocol.DeliveryStatus:
		if err := s.rec.ApplyStatus(ctx, f); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				s.log.Debug("回执对应的消息不在本地", zap.String("cid", f.Cid), zap.String("message_id", f.MessageID))
				return
			}
			s.log.Warn("合并回执失败", zap.String("cid", f.Cid), zap.Error(err))
		}
	case *protocol.Status:
		if err := s.store.SetPresence(ctx, f.UserID, f.Status); err != nil {
			s.log.Warn("更新联系人在线状态失败", zap.Uint("user_id", f.UserID), zap.Error(err))
		}
		if s.handlers.OnPresence != nil {
			s.handlers.OnPresence(f.UserID, f.Status)
		}
	case *protocol.PresenceList:
		err := s.store.WithTx(ctx, func(tx *localstore.Tx) error {
			return tx.ReplaceOnline(ctx, f.OnlineUserIDs)
		})
		if err != nil {
			s.log.Warn("更新在线列表失败", zap.Error(err))
		}
	case *protocol.Typing:
		if s.handlers.OnTyping != nil {
			s.handlers.OnTyping(f)
		}
	case *protocol.Signal:
		if s.handlers.OnSignal != nil {
			s.handlers.OnSignal(f)
		}
	}
}

// handleChat 合并下行消息；别人发来的新消息回复 DELIVERED
func (s *Session) handleChat(ctx context.Context, chat *protocol.Chat) {
	created, err := s.rec.ApplyMessage(ctx, chat, localstore.StatusSynced)
	if err != nil {
		s.log.Warn("合并下行消息失败", zap.String("cid", chat.Cid), zap.String("message_id", chat.MessageID), zap.Error(err))
		return
	}
	if created && chat.SenderID != s.rec.ViewerID() {
		thread, _ := reconciler.DeriveThread(s.rec.ViewerID(), chat)
		cid, _ := reconciler.Normalize(chat)
		if err := s.write(ctx, receipt(cid, chat.MessageID, chat.SenderID, thread, protocol.StatusDelivered)); err != nil {
			s.log.Warn("发送送达回执失败", zap.String("cid", cid), zap.Error(err))
		}
	}
	if s.handlers.OnChat != nil {
		s.handlers.OnChat(chat, created)
	}
}
