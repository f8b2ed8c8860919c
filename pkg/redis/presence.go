package redis

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// PresenceData 在线状态镜像，供其他进程或运维查询；实时判断以连接注册表为准
type PresenceData struct {
	UserID   uint      `json:"user_id"`
	Username string    `json:"username"`
	Status   string    `json:"status"` // online/offline
	LastSeen time.Time `json:"last_seen"`
}

// 在线状态相关常量
const (
	PresenceKeyPrefix = "im:presence:user:" // 用户在线状态key前缀
	OnlineUsersKey    = "im:online:users"   // 在线用户集合key
	PresenceTTL       = 7 * 24 * time.Hour  // 离线记录保留时间，用于查询最近在线
)

// SetUserPresence 记录用户上线/下线
func SetUserPresence(userID uint, username string, status string) error {
	if client == nil {
		return ErrNotInitialized
	}

	presence := PresenceData{
		UserID:   userID,
		Username: username,
		Status:   status,
		LastSeen: time.Now(),
	}
	data, err := json.Marshal(presence)
	if err != nil {
		return fmt.Errorf("序列化在线状态失败: %w", err)
	}

	pipe := client.TxPipeline()
	pipe.Set(ctx, presenceKey(userID), data, PresenceTTL)
	if status == "online" {
		pipe.SAdd(ctx, OnlineUsersKey, userID)
	} else {
		pipe.SRem(ctx, OnlineUsersKey, userID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("更新用户在线状态失败: %w", err)
	}
	return nil
}

// GetUserPresence 获取用户最近一次的在线状态记录
func GetUserPresence(userID uint) (*PresenceData, error) {
	if client == nil {
		return nil, ErrNotInitialized
	}

	data, err := client.Get(ctx, presenceKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("获取用户在线状态失败: %w", err)
	}

	var presence PresenceData
	if err := json.Unmarshal(data, &presence); err != nil {
		return nil, fmt.Errorf("反序列化在线状态失败: %w", err)
	}
	return &presence, nil
}

// GetOnlineUsers 获取镜像中的在线用户ID
func GetOnlineUsers() ([]uint, error) {
	if client == nil {
		return nil, ErrNotInitialized
	}

	members, err := client.SMembers(ctx, OnlineUsersKey).Result()
	if err != nil {
		return nil, fmt.Errorf("获取在线用户列表失败: %w", err)
	}

	userIDs := make([]uint, 0, len(members))
	for _, member := range members {
		if id, err := strconv.ParseUint(member, 10, 64); err == nil {
			userIDs = append(userIDs, uint(id))
		}
	}
	return userIDs, nil
}

// ClearOnlineUsers 进程启动时清空在线集合，上一次运行留下的连接都已失效
func ClearOnlineUsers() error {
	if client == nil {
		return ErrNotInitialized
	}
	return client.Del(ctx, OnlineUsersKey).Err()
}

func presenceKey(userID uint) string {
	return fmt.Sprintf("%s%d", PresenceKeyPrefix, userID)
}
