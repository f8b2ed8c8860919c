package jwt

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"im-sync/config"
	"im-sync/pkg/errs"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService() *JWTService {
	return NewJWTService(config.JWTConfig{Secret: "test-secret", Issuer: "im-sync", ExpireTime: time.Hour})
}

func TestGenerateAndAuthenticate(t *testing.T) {
	svc := newTestService()
	token, err := svc.GenerateToken(42, "alice")
	require.NoError(t, err)

	id, err := svc.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: 42, Username: "alice"}, id)
}

func TestAuthenticateRejectsForeignTokens(t *testing.T) {
	svc := newTestService()
	other := NewJWTService(config.JWTConfig{Secret: "other", Issuer: "im-sync", ExpireTime: time.Hour})
	token, err := other.GenerateToken(1, "mallory")
	require.NoError(t, err)

	_, err = svc.Authenticate(token)
	assert.ErrorIs(t, err, errs.ErrAuthentication)

	_, err = svc.Authenticate("")
	assert.ErrorIs(t, err, errs.ErrAuthentication)

	expired := NewJWTService(config.JWTConfig{Secret: "test-secret", Issuer: "im-sync", ExpireTime: -time.Minute})
	token, err = expired.GenerateToken(1, "late")
	require.NoError(t, err)
	_, err = svc.Authenticate(token)
	assert.ErrorIs(t, err, errs.ErrAuthentication)
}

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := newTestService()
	r := gin.New()
	r.GET("/me", svc.AuthMiddleware(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": GetUserID(c), "name": GetUsername(c)})
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/me", nil))
	assert.Contains(t, w.Body.String(), `"code":401`)

	token, err := svc.GenerateToken(7, "bob")
	require.NoError(t, err)
	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.JSONEq(t, `{"id":7,"name":"bob"}`, w.Body.String())
}
