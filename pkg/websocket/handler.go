package websocket

import (
	"net/http"
	"strings"
	"time"

	"im-sync/config"
	"im-sync/pkg/logger"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许跨域
	},
}

// TokenFromRequest 依次从 ?token=、Authorization: Bearer、Sec-WebSocket-Protocol 中取令牌
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	protocol := r.Header.Get("Sec-WebSocket-Protocol")
	if protocol == "" {
		return ""
	}
	// 浏览器只能通过子协议携带令牌，形如 "Bearer, <token>" 或 "Bearer <token>"
	protocol = strings.TrimPrefix(protocol, "Bearer")
	protocol = strings.TrimLeft(protocol, ", ")
	return protocol
}

// Upgrade 升级为WebSocket，回显子协议避免客户端提示 "Server sent no subprotocol"
func Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	respHeader := http.Header{}
	if protocol := r.Header.Get("Sec-WebSocket-Protocol"); protocol != "" {
		respHeader.Set("Sec-WebSocket-Protocol", strings.TrimSpace(strings.Split(protocol, ",")[0]))
	}
	return upgrader.Upgrade(w, r, respHeader)
}

// Serve 运行会话的读写循环，直到连接断开或会话被关闭
// 写协程是会话唯一的写者，保证下行帧按入队顺序写出；onFrame 在读协程中串行调用
func Serve(conn *websocket.Conn, s *Session, cfg config.WebSocketConfig, onFrame func(payload []byte)) {
	cfg = withDefaults(cfg)
	defer func() {
		s.Close()
		_ = conn.Close()
	}()

	// 启动写协程 + 定时发送ping心跳
	go writePump(conn, s, cfg)

	// 读协程。若超时未收到任何读事件则断开
	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	_ = conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	conn.SetPongHandler(func(appData string) error {
		return conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
	})
	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("WebSocket读取异常", zap.Uint("user_id", s.UserID), zap.String("session_id", s.ID), zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(cfg.ReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		onFrame(payload)

		select {
		case <-s.Done():
			return
		default:
		}
	}
}

func withDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 3 * cfg.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return cfg
}

func writePump(conn *websocket.Conn, s *Session, cfg config.WebSocketConfig) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer func() {
		ticker.Stop()
		// 写失败或会话关闭时同时结束读循环
		_ = conn.Close()
	}()

	for {
		select {
		case msg := <-s.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(cfg.WriteTimeout)); err != nil {
				s.Close()
				return
			}
		case <-s.Done():
			// 尽量把已入队的帧写完再关闭
			for {
				select {
				case msg := <-s.Outbound():
					_ = conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
					if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
					return
				}
			}
		}
	}
}
