package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestAllowRespectsBurstPerKey(t *testing.T) {
	s := NewLimiterStore(rate.Every(time.Hour), 2, time.Minute)
	defer s.Stop()

	assert.True(t, s.Allow("a"))
	assert.True(t, s.Allow("a"))
	assert.False(t, s.Allow("a"))
	assert.True(t, s.Allow("b"))
}

func TestEvictIdle(t *testing.T) {
	s := NewLimiterStore(rate.Every(time.Hour), 1, time.Minute)
	defer s.Stop()

	assert.True(t, s.Allow("a"))
	assert.False(t, s.Allow("a"))
	s.evictIdle(time.Now().Add(time.Second))
	assert.True(t, s.Allow("a"))
}

func TestGinMiddlewareKeysByUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewLimiterStore(rate.Every(time.Hour), 1, time.Minute)
	defer s.Stop()

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("user_id", uint(9)); c.Next() })
	r.Use(GinMiddleware(s, "user_id"))
	r.GET("/x", func(c *gin.Context) { c.String(200, "ok") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))
	assert.Equal(t, "ok", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))
	assert.Contains(t, w.Body.String(), `"code":429`)
}

func TestPerMinute(t *testing.T) {
	assert.Equal(t, rate.Inf, PerMinute(0))
	assert.InDelta(t, 1.0, float64(PerMinute(60)), 1e-9)
}

func TestPerSecond(t *testing.T) {
	assert.Equal(t, rate.Inf, PerSecond(-1))
	assert.Equal(t, rate.Limit(20), PerSecond(20))
}
