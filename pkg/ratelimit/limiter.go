package ratelimit

import (
	"strconv"
	"sync"
	"time"

	"im-sync/pkg/response"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// LimiterStore 按key维护令牌桶，定期清理长时间未使用的条目
type LimiterStore struct {
	mu              sync.Mutex
	limit           rate.Limit
	burst           int
	clients         map[string]*clientEntry
	cleanupInterval time.Duration
	idleAfter       time.Duration
	stopOnce        sync.Once
	stopCh          chan struct{}
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiterStore 创建限流器集合，limit 为每秒事件数，burst 为突发容量
func NewLimiterStore(limit rate.Limit, burst int, cleanupInterval time.Duration) *LimiterStore {
	if burst <= 0 {
		burst = 1
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}
	s := &LimiterStore{
		limit:           limit,
		burst:           burst,
		clients:         map[string]*clientEntry{},
		cleanupInterval: cleanupInterval,
		idleAfter:       10 * time.Minute,
		stopCh:          make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// PerMinute 每分钟 n 次
func PerMinute(n int) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Every(time.Minute / time.Duration(n))
}

// PerSecond 每秒 n 次，n<=0 表示不限
func PerSecond(n float64) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Limit(n)
}

func (s *LimiterStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictIdle(time.Now().Add(-s.idleAfter))
		case <-s.stopCh:
			return
		}
	}
}

func (s *LimiterStore) evictIdle(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.clients {
		if v.lastSeen.Before(cutoff) {
			delete(s.clients, k)
		}
	}
}

// Stop 停止清理协程
func (s *LimiterStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *LimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.clients[key]; ok {
		e.lastSeen = time.Now()
		return e.limiter
	}
	limiter := rate.NewLimiter(s.limit, s.burst)
	s.clients[key] = &clientEntry{limiter: limiter, lastSeen: time.Now()}
	return limiter
}

// Allow 判断该key的一次事件是否放行
func (s *LimiterStore) Allow(key string) bool {
	return s.getLimiter(key).Allow()
}

// UserKey 按用户限流的key，同一用户的多个设备共享额度
func UserKey(prefix string, userID uint) string {
	return prefix + ":" + strconv.FormatUint(uint64(userID), 10)
}

// GinMiddleware 按已认证用户限流，未认证请求按客户端IP限流
// userIDKey 为认证中间件写入gin.Context的键名
func GinMiddleware(store *LimiterStore, userIDKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if v, ok := c.Get(userIDKey); ok {
			if id, ok := v.(uint); ok && id != 0 {
				key = UserKey("api", id)
			}
		}
		if !store.Allow(key) {
			response.Error(c, 429, "请求过于频繁，请稍后再试")
			c.Abort()
			return
		}
		c.Next()
	}
}
