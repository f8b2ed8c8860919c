package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"im-sync/internal/model"
	"im-sync/internal/repository"
	"im-sync/pkg/errs"
)

// GroupService 群管理
type GroupService struct {
	groups *repository.GroupRepository
	users  *repository.UserRepository
	now    func() time.Time
}

func NewGroupService(groups *repository.GroupRepository, users *repository.UserRepository) *GroupService {
	return &GroupService{groups: groups, users: users, now: time.Now}
}

// Create 建群，创建者自动成为管理员
func (s *GroupService) Create(ctx context.Context, ownerID uint, name string, memberIDs []uint) (*model.Group, []uint, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, errs.Conflict("群名称不能为空")
	}
	memberIDs = dedupe(append(memberIDs, ownerID))
	if err := s.ensureUsersExist(ctx, memberIDs); err != nil {
		return nil, nil, err
	}

	group := &model.Group{Name: name, OwnerID: ownerID}
	if err := s.groups.Create(ctx, group, memberIDs); err != nil {
		return nil, nil, err
	}
	members, err := s.groups.MemberIDs(ctx, group.ID)
	if err != nil {
		return nil, nil, err
	}
	return group, members, nil
}

// Get 查询群信息，只有成员可见
func (s *GroupService) Get(ctx context.Context, userID, groupID uint) (*model.Group, []uint, error) {
	group, err := s.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	members, err := s.groups.MemberIDs(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	if !containsUint(members, userID) {
		return nil, nil, errs.NotFound("群 %d", groupID)
	}
	return group, members, nil
}

// AddMembers 管理员拉人进群
func (s *GroupService) AddMembers(ctx context.Context, actorID, groupID uint, userIDs []uint) ([]uint, error) {
	if err := s.requireAdmin(ctx, actorID, groupID); err != nil {
		return nil, err
	}
	userIDs = dedupe(userIDs)
	if err := s.ensureUsersExist(ctx, userIDs); err != nil {
		return nil, err
	}
	if err := s.groups.AddMembers(ctx, groupID, userIDs); err != nil {
		return nil, err
	}
	return s.groups.MemberIDs(ctx, groupID)
}

// Delete 管理员解散群，成员下次同步时收到 GROUP 墓碑
func (s *GroupService) Delete(ctx context.Context, actorID, groupID uint) error {
	if err := s.requireAdmin(ctx, actorID, groupID); err != nil {
		return err
	}
	return s.groups.Delete(ctx, groupID, s.now().UnixMilli())
}

// Leave 成员退群。管理员只有在群里只剩自己时才能退出，此时群随之解散
func (s *GroupService) Leave(ctx context.Context, userID, groupID uint) error {
	if _, err := s.groups.GetByID(ctx, groupID); err != nil {
		return err
	}
	role, err := s.groups.Role(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if role != model.RoleAdmin {
		return s.groups.RemoveMember(ctx, groupID, userID, s.now().UnixMilli())
	}
	members, err := s.groups.MemberIDs(ctx, groupID)
	if err != nil {
		return err
	}
	if len(members) > 1 {
		return errs.Conflict("管理员退群前需要先解散群或移出其他成员")
	}
	return s.groups.Delete(ctx, groupID, s.now().UnixMilli())
}

// Kick 管理员把成员移出群，被移出的用户下次同步时收到 GROUP 墓碑
func (s *GroupService) Kick(ctx context.Context, actorID, groupID, userID uint) error {
	if err := s.requireAdmin(ctx, actorID, groupID); err != nil {
		return err
	}
	if actorID == userID {
		return errs.Conflict("管理员不能移出自己")
	}
	return s.groups.RemoveMember(ctx, groupID, userID, s.now().UnixMilli())
}

func (s *GroupService) requireAdmin(ctx context.Context, actorID, groupID uint) error {
	if _, err := s.groups.GetByID(ctx, groupID); err != nil {
		return err
	}
	role, err := s.groups.Role(ctx, groupID, actorID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return errs.NotFound("群 %d", groupID)
		}
		return err
	}
	if role != model.RoleAdmin {
		return errs.Conflict("只有管理员可以执行该操作")
	}
	return nil
}

func (s *GroupService) ensureUsersExist(ctx context.Context, ids []uint) error {
	n, err := s.users.CountExisting(ctx, ids)
	if err != nil {
		return err
	}
	if n != int64(len(ids)) {
		return errs.NotFound("部分用户不存在")
	}
	return nil
}

func dedupe(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
