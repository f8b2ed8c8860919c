package service

import (
	"context"
	"errors"

	"im-sync/pkg/errs"
	"im-sync/pkg/logger"
	"im-sync/pkg/metrics"
	"im-sync/pkg/protocol"
	"im-sync/pkg/websocket"

	"go.uber.org/zap"
)

// Dispatcher 解码上行帧并按 kind 分发
type Dispatcher struct {
	router   *ChatRouter
	receipts *ReceiptService
	relay    *SignalRelay
}

func NewDispatcher(router *ChatRouter, receipts *ReceiptService, relay *SignalRelay) *Dispatcher {
	return &Dispatcher{router: router, receipts: receipts, relay: relay}
}

// Dispatch 处理一帧上行数据。坏帧只记日志，不断开连接
func (d *Dispatcher) Dispatch(ctx context.Context, origin *websocket.Session, payload []byte) {
	frame, err := protocol.Decode(payload)
	if err != nil {
		metrics.RejectedFrames.WithLabelValues(rejectReason(err)).Inc()
		logger.Warn("丢弃无法解析的帧", zap.Uint("user_id", origin.UserID), zap.String("session_id", origin.ID), zap.Error(err))
		return
	}

	switch f := frame.(type) {
	case *protocol.Chat:
		// 失败已经以 FAILED ack 通知发起方
		_, _ = d.router.Submit(ctx, origin, f)
	case *protocol.DeliveryStatus:
		if err := d.receipts.Propagate(ctx, origin, f); err != nil {
			logger.Warn("转发回执失败", zap.Uint("user_id", origin.UserID), zap.String("cid", f.Cid), zap.Error(err))
		}
	case *protocol.Typing:
		if err := d.receipts.Typing(ctx, origin, f); err != nil {
			logger.Debug("转发输入提示失败", zap.Uint("user_id", origin.UserID), zap.Error(err))
		}
	case *protocol.Signal:
		if _, err := d.relay.Relay(origin, f); err != nil {
			logger.Warn("转发信令失败", zap.Uint("user_id", origin.UserID), zap.String("type", f.Type), zap.Error(err))
		}
	default:
		// status / presence_list / ack 只由服务端下发
		metrics.RejectedFrames.WithLabelValues("unexpected_kind").Inc()
		logger.Warn("客户端不应发送该类型的帧", zap.Uint("user_id", origin.UserID), zap.String("kind", frame.Kind()))
	}
}

// Reject 上行帧被限流时调用：消息提交回 FAILED，其余帧直接丢弃
func (d *Dispatcher) Reject(origin *websocket.Session, payload []byte) {
	frame, err := protocol.Decode(payload)
	if err != nil {
		return
	}
	if chat, ok := frame.(*protocol.Chat); ok {
		d.router.Reject(origin, chat.Cid, errs.Transient(nil, "发送过于频繁"))
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrMissingKind):
		return "missing_kind"
	case errors.Is(err, protocol.ErrUnknownKind):
		return "unknown_kind"
	default:
		return "malformed"
	}
}
