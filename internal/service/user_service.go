package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"im-sync/internal/model"
	"im-sync/internal/repository"
	"im-sync/pkg/errs"
	"im-sync/pkg/jwt"
	"im-sync/pkg/password"
	"im-sync/pkg/protocol"
	"im-sync/pkg/redis"
	"im-sync/pkg/websocket"
)

type UserService struct {
	repo       *repository.UserRepository
	jwtService *jwt.JWTService
	registry   *websocket.Registry
}

func NewUserService(repo *repository.UserRepository, jwtService *jwt.JWTService, registry *websocket.Registry) *UserService {
	return &UserService{repo: repo, jwtService: jwtService, registry: registry}
}

// Register 注册并签发令牌
func (s *UserService) Register(ctx context.Context, username, plainPassword, displayName string) (*model.User, string, error) {
	username = strings.TrimSpace(username)
	if username == "" || plainPassword == "" {
		return nil, "", errs.Conflict("用户名和密码不能为空")
	}
	// 密码哈希
	hash, err := password.Hash(plainPassword)
	if err != nil {
		return nil, "", err
	}
	user := &model.User{
		Username:     username,
		DisplayName:  strings.TrimSpace(displayName),
		PasswordHash: hash,
		Status:       protocol.PresenceOffline,
		LastSeen:     time.Now(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, "", err
	}
	token, err := s.jwtService.GenerateToken(user.ID, user.Username)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Login 用户名密码登录
func (s *UserService) Login(ctx context.Context, username, plainPassword string) (*model.User, string, error) {
	username = strings.TrimSpace(username)
	if username == "" || plainPassword == "" {
		return nil, "", errs.Authentication("用户名和密码不能为空")
	}
	u, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			// 不区分用户不存在与密码错误
			return nil, "", errs.Authentication("用户名或密码错误")
		}
		return nil, "", err
	}
	if !password.Verify(plainPassword, u.PasswordHash) {
		return nil, "", errs.Authentication("用户名或密码错误")
	}
	token, err := s.jwtService.GenerateToken(u.ID, u.Username)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

func (s *UserService) Profile(ctx context.Context, userID uint) (*model.User, error) {
	return s.repo.GetByID(ctx, userID)
}

// ProfileUpdate 资料修改，nil 字段保持不变
type ProfileUpdate struct {
	DisplayName *string
	Avatar      *string
}

// UpdateProfile 修改显示名称或头像，用户名不可修改
func (s *UserService) UpdateProfile(ctx context.Context, userID uint, update ProfileUpdate) (*model.User, error) {
	fields := map[string]interface{}{}
	if update.DisplayName != nil {
		name := strings.TrimSpace(*update.DisplayName)
		if utf8.RuneCountInString(name) > 64 {
			return nil, errs.Conflict("显示名称不能超过64个字符")
		}
		fields["display_name"] = name
	}
	if update.Avatar != nil {
		avatar := strings.TrimSpace(*update.Avatar)
		if len(avatar) > 255 {
			return nil, errs.Conflict("头像引用过长")
		}
		fields["avatar"] = avatar
	}
	if len(fields) == 0 {
		return nil, errs.Conflict("没有需要修改的字段")
	}
	if err := s.repo.UpdateProfile(ctx, userID, fields); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, userID)
}

// OnlineUsers 当前在线用户，以连接注册表为准
func (s *UserService) OnlineUsers() []uint {
	return s.registry.OnlineUsers()
}

// Presence 查询某个用户的在线状态
// 在线与会话数来自注册表；离线时最近在线时间优先取 Redis 镜像，其次取数据库
func (s *UserService) Presence(ctx context.Context, userID uint) (online bool, sessions int, lastSeen time.Time, err error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return false, 0, time.Time{}, err
	}
	sessions = len(s.registry.SessionsFor(userID))
	lastSeen = user.LastSeen
	if data, err := redis.GetUserPresence(userID); err == nil && data != nil && data.LastSeen.After(lastSeen) {
		lastSeen = data.LastSeen
	}
	return sessions > 0, sessions, lastSeen, nil
}

// MarkPresence 首个连接建立或最后一个连接断开时调用
func (s *UserService) MarkPresence(ctx context.Context, userID uint, username string, online bool) error {
	status := protocol.PresenceOffline
	if online {
		status = protocol.PresenceOnline
	}
	if err := s.repo.UpdatePresence(ctx, userID, status, time.Now()); err != nil {
		return err
	}
	if err := redis.SetUserPresence(userID, username, status); err != nil && !errors.Is(err, redis.ErrNotInitialized) {
		return err
	}
	return nil
}
