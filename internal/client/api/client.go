// Package api 客户端访问服务端 REST 接口
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"im-sync/pkg/errs"
	"im-sync/pkg/protocol"
)

// Client 带访问令牌的 HTTP 客户端
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New 创建客户端，timeout<=0 时不设超时
func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// SetToken 登录后更新令牌
func (c *Client) SetToken(token string) { c.token = token }

// Token 当前令牌
func (c *Client) Token() string { return c.token }

// envelope 服务端统一响应
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// User 登录返回的用户信息
type User struct {
	ID          uint   `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Status      string `json:"status"`
}

// Session 注册/登录结果
type Session struct {
	User        *User  `json:"user"`
	AccessToken string `json:"access_token"`
}

// Register 注册并返回令牌
func (c *Client) Register(ctx context.Context, username, password, displayName string) (*Session, error) {
	body := map[string]string{"username": username, "password": password, "display_name": displayName}
	var out Session
	if err := c.do(ctx, http.MethodPost, "/api/v1/users/register", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Login 登录并返回令牌
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	body := map[string]string{"username": username, "password": password}
	var out Session
	if err := c.do(ctx, http.MethodPost, "/api/v1/users/login", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Sync 拉取游标之后的一页数据
func (c *Client) Sync(ctx context.Context, lastTs int64, limit int) (*protocol.SyncPage, error) {
	q := url.Values{}
	q.Set("last_ts", strconv.FormatInt(lastTs, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var page protocol.SyncPage
	if err := c.do(ctx, http.MethodGet, "/api/v1/sync", q, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// DeleteMessage 删除自己发出的消息
func (c *Client) DeleteMessage(ctx context.Context, cid string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/messages/"+url.PathEscape(cid), nil, nil, nil)
}

// WebSocketURL 由 HTTP 地址推导 /ws 地址
func WebSocketURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("解析服务端地址失败: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return errs.Transient(err, "%s %s 请求失败", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Transient(err, "读取 %s 响应失败", path)
	}
	if resp.StatusCode >= 500 {
		return errs.Transient(nil, "%s 返回HTTP %d", path, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("解析 %s 响应失败 (HTTP %d): %w", path, resp.StatusCode, err)
	}
	if env.Code != 0 {
		return classify(env.Code, path, env.Message)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("解析 %s 数据失败: %w", path, err)
	}
	return nil
}

// classify 把响应码还原成错误分类
func classify(code int, path, message string) error {
	switch {
	case code == 401 || code == 403:
		return errs.Authentication("%s: %s", path, message)
	case code == 404:
		return errs.NotFound("%s: %s", path, message)
	case code == 429 || code >= 500:
		return errs.Transient(nil, "%s: %s (code %d)", path, message, code)
	default:
		return errs.Conflict("%s: %s (code %d)", path, message, code)
	}
}
