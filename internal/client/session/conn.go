package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"im-sync/pkg/errs"

	"nhooyr.io/websocket"
)

// maxFrameSize 单帧读取上限
const maxFrameSize = 1 << 20

// FrameConn 实时通道上的一条连接，Read 只能在一个 goroutine 中调用
type FrameConn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

type wsConn struct {
	conn *websocket.Conn
}

// Dial 携带访问令牌连接 /ws
func Dial(ctx context.Context, wsURL, token string) (FrameConn, error) {
	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		if rejected(resp) {
			return nil, errs.Authentication("实时通道拒绝了令牌")
		}
		return nil, errs.Transient(err, "连接实时通道 %s 失败", wsURL)
	}
	conn.SetReadLimit(maxFrameSize)
	return &wsConn{conn: conn}, nil
}

// rejected 握手被拒时服务端返回统一响应体，code 为 401
func rejected(resp *http.Response) bool {
	if resp == nil {
		return false
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return true
	}
	if resp.Body == nil {
		return false
	}
	var env struct {
		Code int `json:"code"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return json.Unmarshal(data, &env) == nil && env.Code == http.StatusUnauthorized
}

func (c *wsConn) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("读取帧失败: %w", err)
	}
	return data, nil
}

func (c *wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}
