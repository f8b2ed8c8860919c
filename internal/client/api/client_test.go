package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"im-sync/pkg/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncSendsCursorAndToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sync", r.URL.Path)
		assert.Equal(t, "1700", r.URL.Query().Get("last_ts"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"code":0,"message":"success","data":{"messages":[{"messageId":"m1","cid":"c1","senderId":2,"content":"hi","timestamp":1800,"receiverId":1}],"tombstones":[{"itemType":"MESSAGE","itemId":"c0","deletedAt":1750}],"lastTs":1800,"hasMore":true}}`))
	}))
	defer srv.Close()

	page, err := New(srv.URL, "tok", 0).Sync(context.Background(), 1700, 50)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "c1", page.Messages[0].Cid)
	require.Len(t, page.Tombstones, 1)
	assert.Equal(t, int64(1800), page.LastTs)
	assert.True(t, page.HasMore)
}

func TestErrorCodesMapToKinds(t *testing.T) {
	tests := []struct {
		name string
		body string
		http int
		want error
	}{
		{"未认证", `{"code":401,"message":"令牌无效"}`, 200, errs.ErrAuthentication},
		{"不存在", `{"code":404,"message":"无"}`, 200, errs.ErrNotFound},
		{"参数错误", `{"code":400,"message":"invalid last_ts"}`, 200, errs.ErrConflictInvariant},
		{"限流", `{"code":429,"message":"请求过于频繁"}`, 200, errs.ErrTransientTransport},
		{"服务不可用", `{"code":503,"message":"db"}`, 200, errs.ErrTransientTransport},
		{"网关错误", `bad gateway`, 502, errs.ErrTransientTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.http)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(srv.URL, "", 0).Sync(context.Background(), 0, 0)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUnreachableServerIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, "", 0).Login(context.Background(), "alice", "pw")
	assert.ErrorIs(t, err, errs.ErrTransientTransport)
}

func TestLoginDecodesSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		_, _ = w.Write([]byte(`{"code":0,"message":"登录成功","data":{"user":{"id":7,"username":"alice"},"access_token":"jwt"}}`))
	}))
	defer srv.Close()

	s, err := New(srv.URL+"/", "", 0).Login(context.Background(), "alice", "pw")
	require.NoError(t, err)
	assert.Equal(t, "jwt", s.AccessToken)
	assert.Equal(t, uint(7), s.User.ID)
}

func TestWebSocketURL(t *testing.T) {
	u, err := WebSocketURL("https://im.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "wss://im.example.com/ws", u)

	u, err = WebSocketURL("http://localhost:8080")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws", u)
}
