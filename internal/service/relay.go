package service

import (
	"im-sync/pkg/errs"
	"im-sync/pkg/logger"
	"im-sync/pkg/metrics"
	"im-sync/pkg/protocol"
	"im-sync/pkg/websocket"

	"go.uber.org/zap"
)

// 信令处理结果
const (
	SignalForwarded = "forwarded"
	SignalBusy      = "busy"
	SignalDropped   = "dropped"
)

// SignalRelay 无状态转发呼叫信令，不持久化、不重试
type SignalRelay struct {
	registry *websocket.Registry
}

func NewSignalRelay(registry *websocket.Registry) *SignalRelay {
	return &SignalRelay{registry: registry}
}

// Relay 转发信令并返回处理结果
// 对离线用户发起 OFFER 时立即给主叫回 BUSY（payload 为 "offline"），被叫不会收到任何内容
func (r *SignalRelay) Relay(origin *websocket.Session, sig *protocol.Signal) (string, error) {
	if !origin.Authenticated() {
		return "", errs.Authentication("会话未认证")
	}
	// 发送者以认证身份为准
	sig.SenderID = origin.UserID

	if !r.registry.IsOnline(sig.ReceiverID) {
		if sig.Type == protocol.SignalOffer {
			busy := &protocol.Signal{
				Type:       protocol.SignalBusy,
				SenderID:   sig.ReceiverID,
				ReceiverID: origin.UserID,
				Payload:    "offline",
			}
			if err := origin.SendFrame(busy); err != nil {
				logger.Warn("回送BUSY失败", zap.String("session_id", origin.ID), zap.Error(err))
			}
			metrics.Signals.WithLabelValues(sig.Type, SignalBusy).Inc()
			return SignalBusy, nil
		}
		metrics.Signals.WithLabelValues(sig.Type, SignalDropped).Inc()
		return SignalDropped, nil
	}

	n, err := r.registry.DeliverFrame([]uint{sig.ReceiverID}, sig, nil)
	if err != nil {
		return "", err
	}
	if n == 0 {
		// 检查与投递之间对方刚好下线
		metrics.Signals.WithLabelValues(sig.Type, SignalDropped).Inc()
		return SignalDropped, nil
	}
	metrics.Signals.WithLabelValues(sig.Type, SignalForwarded).Inc()
	return SignalForwarded, nil
}
