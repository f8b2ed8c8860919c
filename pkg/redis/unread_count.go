package redis

import (
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// 未读消息计数相关常量
const (
	UnreadCountKeyPrefix = "im:unread:" // 未读消息计数key前缀
	UnreadCountTTL       = 7 * 24 * time.Hour
)

// decrFloorScript 原子减一，不低于0
var decrFloorScript = redis.NewScript(`
local v = tonumber(redis.call("GET", KEYS[1]) or "0")
if v <= 1 then
  redis.call("DEL", KEYS[1])
  return 0
end
return redis.call("DECR", KEYS[1])
`)

// IncrementUnreadCount 增加用户未读消息计数
func IncrementUnreadCount(userID uint) error {
	if client == nil {
		return ErrNotInitialized
	}

	key := unreadKey(userID)
	pipe := client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, UnreadCountTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("增加未读消息计数失败: %w", err)
	}
	return nil
}

// DecrementUnreadCount 减少用户未读消息计数
func DecrementUnreadCount(userID uint) error {
	if client == nil {
		return ErrNotInitialized
	}

	if err := decrFloorScript.Run(ctx, client, []string{unreadKey(userID)}).Err(); err != nil {
		return fmt.Errorf("减少未读消息计数失败: %w", err)
	}
	return nil
}

// GetUnreadCount 获取用户未读消息计数，没有记录时为0
func GetUnreadCount(userID uint) (int64, error) {
	if client == nil {
		return 0, ErrNotInitialized
	}

	count, err := client.Get(ctx, unreadKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("获取未读消息计数失败: %w", err)
	}
	return count, nil
}

// ResetUnreadCount 清零
func ResetUnreadCount(userID uint) error {
	if client == nil {
		return ErrNotInitialized
	}
	if err := client.Del(ctx, unreadKey(userID)).Err(); err != nil {
		return fmt.Errorf("重置未读消息计数失败: %w", err)
	}
	return nil
}

func unreadKey(userID uint) string {
	return fmt.Sprintf("%s%d", UnreadCountKeyPrefix, userID)
}
