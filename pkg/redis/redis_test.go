package redis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// 未启用Redis时所有操作都应快速失败而不是panic
func TestDisabledClientFailsFast(t *testing.T) {
	assert.False(t, Enabled())
	assert.ErrorIs(t, HealthCheck(), ErrNotInitialized)
	assert.ErrorIs(t, SetUserPresence(1, "alice", "online"), ErrNotInitialized)
	assert.ErrorIs(t, IncrementUnreadCount(1), ErrNotInitialized)
	assert.ErrorIs(t, DecrementUnreadCount(1), ErrNotInitialized)
	assert.ErrorIs(t, ResetUnreadCount(1), ErrNotInitialized)

	_, err := GetUnreadCount(1)
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = GetOnlineUsers()
	assert.ErrorIs(t, err, ErrNotInitialized)
	_, err = GetUserPresence(1)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, ClearOnlineUsers(), ErrNotInitialized)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "im:presence:user:42", presenceKey(42))
	assert.Equal(t, "im:unread:42", unreadKey(42))
}
