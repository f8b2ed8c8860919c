package service

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"im-sync/config"
	"im-sync/internal/model"
	"im-sync/internal/repository"
	"im-sync/pkg/db"
	"im-sync/pkg/protocol"
	"im-sync/pkg/websocket"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fixture 一套基于临时 sqlite 的仓储与注册表
type fixture struct {
	orm        *gorm.DB
	users      *repository.UserRepository
	messages   *repository.MessageRepository
	tombstones *repository.TombstoneRepository
	groups     *repository.GroupRepository
	registry   *websocket.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	orm, err := db.Open(config.DatabaseConfig{
		Driver:   "sqlite",
		Database: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	require.NoError(t, orm.AutoMigrate(model.All()...))
	t.Cleanup(func() {
		if sqlDB, err := orm.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return &fixture{
		orm:        orm,
		users:      repository.NewUserRepository(orm),
		messages:   repository.NewMessageRepository(orm),
		tombstones: repository.NewTombstoneRepository(orm),
		groups:     repository.NewGroupRepository(orm),
		registry:   websocket.NewRegistry(),
	}
}

// user 创建用户并返回其ID
func (f *fixture) user(t *testing.T, name string) uint {
	t.Helper()
	u := &model.User{Username: name, PasswordHash: "x", LastSeen: time.Now()}
	require.NoError(t, f.users.Create(context.Background(), u))
	return u.ID
}

func (f *fixture) group(t *testing.T, owner uint, members ...uint) uint {
	t.Helper()
	g := &model.Group{Name: "g", OwnerID: owner}
	require.NoError(t, f.groups.Create(context.Background(), g, members))
	return g.ID
}

// connect 注册一个会话并清空注册时收到的在线通知
func (f *fixture) connect(t *testing.T, userID uint, name string) *websocket.Session {
	t.Helper()
	s := websocket.NewSession(userID, name, 64)
	f.registry.Register(s)
	for _, other := range f.registry.OnlineUsers() {
		for _, peer := range f.registry.SessionsFor(other) {
			drain(t, peer)
		}
	}
	return s
}

func drain(t *testing.T, s *websocket.Session) []protocol.Frame {
	t.Helper()
	var frames []protocol.Frame
	for {
		select {
		case data := <-s.Outbound():
			frame, err := protocol.Decode(data)
			require.NoError(t, err)
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}

func uintPtr(v uint) *uint { return &v }

func itoa(v uint) string { return strconv.FormatUint(uint64(v), 10) }
