// Package protocol 定义实时通道上的 JSON 帧。
//
// 每个帧都是一个带 "kind" 字段的 JSON 对象，kind 决定其余字段的形状。
// 解码时先读 kind，再按对应结构解析并校验；未知 kind 返回 ErrUnknownKind。
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// 帧类型
const (
	KindChat           = "chat"
	KindStatus         = "status"
	KindPresenceList   = "presence_list"
	KindAck            = "ack"
	KindDeliveryStatus = "delivery_status"
	KindTyping         = "typing"
	KindSignal         = "signal"
)

// 消息状态
const (
	StatusSent      = "SENT"
	StatusFailed    = "FAILED"
	StatusDelivered = "DELIVERED"
	StatusRead      = "READ"
)

// 在线状态
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// 呼叫信令类型
const (
	SignalOffer        = "OFFER"
	SignalAnswer       = "ANSWER"
	SignalIceCandidate = "ICE_CANDIDATE"
	SignalHangup       = "HANGUP"
	SignalBusy         = "BUSY"
)

var (
	ErrMissingKind    = errors.New("帧缺少kind字段")
	ErrUnknownKind    = errors.New("未知的帧类型")
	ErrMalformedFrame = errors.New("帧格式错误")
)

// Frame 所有帧的公共接口
type Frame interface {
	Kind() string
	Validate() error
}

// Chat 聊天消息。客户端提交时填 cid、content 以及 recipientId 或 groupId；
// 服务端下发时补齐 messageId、senderId、senderName、timestamp，单聊目标写在 receiverId。
type Chat struct {
	MessageID   string `json:"messageId,omitempty"`
	Cid         string `json:"cid,omitempty"`
	SenderID    uint   `json:"senderId,omitempty"`
	SenderName  string `json:"senderName,omitempty"`
	Content     string `json:"content"`
	Timestamp   int64  `json:"timestamp,omitempty"`
	GroupID     *uint  `json:"groupId,omitempty"`
	ReceiverID  *uint  `json:"receiverId,omitempty"`
	RecipientID *uint  `json:"recipientId,omitempty"`
	MediaKey    string `json:"mediaKey,omitempty"`
	MessageType string `json:"messageType,omitempty"`
}

func (*Chat) Kind() string { return KindChat }

func (c *Chat) Validate() error {
	if c.Content == "" && c.MediaKey == "" {
		return fmt.Errorf("chat 内容和媒体均为空: %w", ErrMalformedFrame)
	}
	return nil
}

// Target 单聊对象，兼容提交时的 recipientId 与下发时的 receiverId
func (c *Chat) Target() *uint {
	if c.RecipientID != nil {
		return c.RecipientID
	}
	return c.ReceiverID
}

// Status 用户上下线通知
type Status struct {
	UserID uint   `json:"userId"`
	Status string `json:"status"`
}

func (*Status) Kind() string { return KindStatus }

func (s *Status) Validate() error {
	if s.UserID == 0 {
		return fmt.Errorf("status 缺少userId: %w", ErrMalformedFrame)
	}
	if s.Status != PresenceOnline && s.Status != PresenceOffline {
		return fmt.Errorf("status 非法状态 %q: %w", s.Status, ErrMalformedFrame)
	}
	return nil
}

// PresenceList 连接建立后下发一次的在线用户列表
type PresenceList struct {
	OnlineUserIDs []uint `json:"onlineUserIds"`
}

func (*PresenceList) Kind() string { return KindPresenceList }

func (*PresenceList) Validate() error { return nil }

// Ack 只发给提交消息的那个会话
type Ack struct {
	Cid       string `json:"cid"`
	MessageID string `json:"messageId,omitempty"`
	Status    string `json:"status"`
}

func (*Ack) Kind() string { return KindAck }

func (a *Ack) Validate() error {
	if a.Cid == "" {
		return fmt.Errorf("ack 缺少cid: %w", ErrMalformedFrame)
	}
	if a.Status != StatusSent && a.Status != StatusFailed {
		return fmt.Errorf("ack 非法状态 %q: %w", a.Status, ErrMalformedFrame)
	}
	return nil
}

// DeliveryStatus 送达/已读回执。UserID 是产生回执的用户，RecipientID 是需要被通知的原发送者
type DeliveryStatus struct {
	MessageID   string `json:"messageId,omitempty"`
	Cid         string `json:"cid,omitempty"`
	Status      string `json:"status"`
	UserID      uint   `json:"userId,omitempty"`
	RecipientID *uint  `json:"recipientId,omitempty"`
	GroupID     *uint  `json:"groupId,omitempty"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

func (*DeliveryStatus) Kind() string { return KindDeliveryStatus }

func (d *DeliveryStatus) Validate() error {
	if d.Status != StatusDelivered && d.Status != StatusRead {
		return fmt.Errorf("delivery_status 非法状态 %q: %w", d.Status, ErrMalformedFrame)
	}
	if d.Cid == "" && d.MessageID == "" {
		return fmt.Errorf("delivery_status 缺少消息标识: %w", ErrMalformedFrame)
	}
	if (d.RecipientID == nil) == (d.GroupID == nil) {
		return fmt.Errorf("delivery_status 需要且只能指定recipientId或groupId: %w", ErrMalformedFrame)
	}
	return nil
}

// Typing 输入中提示
type Typing struct {
	SenderID    uint  `json:"senderId,omitempty"`
	RecipientID *uint `json:"recipientId,omitempty"`
	GroupID     *uint `json:"groupId,omitempty"`
	IsTyping    bool  `json:"isTyping"`
}

func (*Typing) Kind() string { return KindTyping }

func (t *Typing) Validate() error {
	if (t.RecipientID == nil) == (t.GroupID == nil) {
		return fmt.Errorf("typing 需要且只能指定recipientId或groupId: %w", ErrMalformedFrame)
	}
	return nil
}

// Signal 呼叫信令，Payload 对服务端不透明
type Signal struct {
	Type       string `json:"type"`
	SenderID   uint   `json:"senderId,omitempty"`
	ReceiverID uint   `json:"receiverId"`
	Payload    string `json:"payload"`
}

func (*Signal) Kind() string { return KindSignal }

func (s *Signal) Validate() error {
	switch s.Type {
	case SignalOffer, SignalAnswer, SignalIceCandidate, SignalHangup, SignalBusy:
	default:
		return fmt.Errorf("signal 非法类型 %q: %w", s.Type, ErrMalformedFrame)
	}
	if s.ReceiverID == 0 {
		return fmt.Errorf("signal 缺少receiverId: %w", ErrMalformedFrame)
	}
	return nil
}

type envelope struct {
	Kind string `json:"kind"`
}

// Decode 先解析kind，再按类型解析并校验帧内容
func Decode(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("解析帧失败: %w: %w", ErrMalformedFrame, err)
	}

	var frame Frame
	switch env.Kind {
	case "":
		return nil, ErrMissingKind
	case KindChat:
		frame = &Chat{}
	case KindStatus:
		frame = &Status{}
	case KindPresenceList:
		frame = &PresenceList{}
	case KindAck:
		frame = &Ack{}
	case KindDeliveryStatus:
		frame = &DeliveryStatus{}
	case KindTyping:
		frame = &Typing{}
	case KindSignal:
		frame = &Signal{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}

	if err := json.Unmarshal(data, frame); err != nil {
		return nil, fmt.Errorf("解析%s帧失败: %w: %w", env.Kind, ErrMalformedFrame, err)
	}
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	return frame, nil
}

// Encode 序列化帧并写入kind字段
func Encode(frame Frame) ([]byte, error) {
	body, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("序列化%s帧失败: %w", frame.Kind(), err)
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(frame.Kind()) + 12)
	buf.WriteString(`{"kind":`)
	kind, _ := json.Marshal(frame.Kind())
	buf.Write(kind)
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}
