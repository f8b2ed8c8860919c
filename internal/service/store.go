package service

import (
	"context"

	"im-sync/internal/model"
	"im-sync/internal/repository"
)

// MessageStore 消息持久化契约：按幂等键追加，按幂等键查找
type MessageStore interface {
	FindByCid(ctx context.Context, cid string) (*model.Message, error)
	Create(ctx context.Context, message *model.Message) error
	MarkReadByCid(ctx context.Context, cid string, readerID uint) (bool, error)
}

// SyncStore 按游标分页读取消息与墓碑
type SyncStore interface {
	ListAfter(ctx context.Context, scope repository.Scope, after int64, limit int) ([]*model.Message, error)
	ListAt(ctx context.Context, scope repository.Scope, ts int64) ([]*model.Message, error)
}

// TombstoneStore 墓碑读取
type TombstoneStore interface {
	ListAfter(ctx context.Context, scope repository.Scope, after, upTo int64) ([]*model.Tombstone, error)
}

// UserLookup 用户查询
type UserLookup interface {
	GetByID(ctx context.Context, id uint) (*model.User, error)
}

// GroupLookup 群与成员查询
type GroupLookup interface {
	GetByID(ctx context.Context, id uint) (*model.Group, error)
	MemberIDs(ctx context.Context, groupID uint) ([]uint, error)
	GroupIDsForUser(ctx context.Context, userID uint) ([]uint, error)
}

var (
	_ MessageStore   = (*repository.MessageRepository)(nil)
	_ SyncStore      = (*repository.MessageRepository)(nil)
	_ TombstoneStore = (*repository.TombstoneRepository)(nil)
	_ UserLookup     = (*repository.UserRepository)(nil)
	_ GroupLookup    = (*repository.GroupRepository)(nil)
)
