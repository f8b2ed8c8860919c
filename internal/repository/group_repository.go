package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"im-sync/internal/model"
	"im-sync/pkg/errs"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GroupRepository 群与群成员仓储
type GroupRepository struct {
	db *gorm.DB
}

func NewGroupRepository(db *gorm.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// Create 建群，创建者为管理员，其余为普通成员
func (r *GroupRepository) Create(ctx context.Context, group *model.Group, memberIDs []uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(group).Error; err != nil {
			return fmt.Errorf("创建群: %w", err)
		}
		members := []model.GroupMember{{GroupID: group.ID, UserID: group.OwnerID, Role: model.RoleAdmin}}
		for _, id := range memberIDs {
			if id != group.OwnerID {
				members = append(members, model.GroupMember{GroupID: group.ID, UserID: id, Role: model.RoleMember})
			}
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&members).Error; err != nil {
			return fmt.Errorf("添加群成员: %w", err)
		}
		return nil
	})
}

// GetByID 查询未删除的群
func (r *GroupRepository) GetByID(ctx context.Context, id uint) (*model.Group, error) {
	var g model.Group
	if err := r.db.WithContext(ctx).First(&g, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("群 %d", id)
		}
		return nil, fmt.Errorf("查询群 %d: %w", id, err)
	}
	return &g, nil
}

// AddMembers 添加成员，已在群内的忽略
func (r *GroupRepository) AddMembers(ctx context.Context, groupID uint, userIDs []uint) error {
	if len(userIDs) == 0 {
		return nil
	}
	members := make([]model.GroupMember, 0, len(userIDs))
	for _, id := range userIDs {
		members = append(members, model.GroupMember{GroupID: groupID, UserID: id, Role: model.RoleMember})
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&members).Error
}

// MemberIDs 群成员ID，升序
func (r *GroupRepository) MemberIDs(ctx context.Context, groupID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&model.GroupMember{}).
		Where("group_id = ?", groupID).
		Order("user_id ASC").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("查询群 %d 成员: %w", groupID, err)
	}
	return ids, nil
}

// Role 成员角色，不在群内时返回 errs.ErrNotFound
func (r *GroupRepository) Role(ctx context.Context, groupID, userID uint) (string, error) {
	var m model.GroupMember
	err := r.db.WithContext(ctx).Where("group_id = ? AND user_id = ?", groupID, userID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", errs.NotFound("用户 %d 不在群 %d", userID, groupID)
		}
		return "", err
	}
	return m.Role, nil
}

// GroupIDsForUser 用户所在的全部群（含已解散的群，以便下发解散墓碑）
func (r *GroupRepository) GroupIDsForUser(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).Model(&model.GroupMember{}).
		Where("user_id = ?", userID).
		Order("group_id ASC").
		Pluck("group_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("查询用户 %d 所在群: %w", userID, err)
	}
	return ids, nil
}

// Delete 解散群：软删除群并写入 GROUP 墓碑
func (r *GroupRepository) Delete(ctx context.Context, groupID uint, deletedAt int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&model.Group{}, groupID)
		if result.Error != nil {
			return fmt.Errorf("解散群 %d: %w", groupID, result.Error)
		}
		if result.RowsAffected == 0 {
			return errs.NotFound("群 %d", groupID)
		}
		gid := groupID
		return tx.Create(&model.Tombstone{
			ItemType:  model.TombstoneGroup,
			ItemID:    strconv.FormatUint(uint64(groupID), 10),
			GroupID:   &gid,
			DeletedAt: deletedAt,
		}).Error
	})
}

// RemoveMember 移出成员（退群或被踢）并写入只对该用户可见的 GROUP 墓碑
func (r *GroupRepository) RemoveMember(ctx context.Context, groupID, userID uint, deletedAt int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Where("group_id = ? AND user_id = ?", groupID, userID).Delete(&model.GroupMember{})
		if result.Error != nil {
			return fmt.Errorf("移出群 %d 成员 %d: %w", groupID, userID, result.Error)
		}
		if result.RowsAffected == 0 {
			return errs.NotFound("用户 %d 不在群 %d", userID, groupID)
		}
		uid := userID
		return tx.Create(&model.Tombstone{
			ItemType:   model.TombstoneGroup,
			ItemID:     strconv.FormatUint(uint64(groupID), 10),
			SenderID:   userID,
			ReceiverID: &uid,
			DeletedAt:  deletedAt,
		}).Error
	})
}
