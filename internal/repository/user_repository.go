package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"im-sync/internal/model"
	"im-sync/pkg/errs"

	"gorm.io/gorm"
)

type UserRepository struct {
	orm *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{orm: db}
}

func (r *UserRepository) Create(ctx context.Context, user *model.User) error {
	err := r.orm.WithContext(ctx).Create(user).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errs.Conflict("用户名 %q 已存在", user.Username)
	}
	return err
}

func (r *UserRepository) GetByID(ctx context.Context, id uint) (*model.User, error) {
	var u model.User
	if err := r.orm.WithContext(ctx).First(&u, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("用户 %d", id)
		}
		return nil, fmt.Errorf("查询用户 %d: %w", id, err)
	}
	return &u, nil
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	if err := r.orm.WithContext(ctx).Where("username = ?", username).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.NotFound("用户 %q", username)
		}
		return nil, fmt.Errorf("查询用户 %q: %w", username, err)
	}
	return &u, nil
}

// CountExisting 返回给定ID中实际存在的用户数
func (r *UserRepository) CountExisting(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int64
	err := r.orm.WithContext(ctx).Model(&model.User{}).Where("id IN ?", ids).Count(&n).Error
	return n, err
}

// UpdatePresence 更新粗粒度在线状态与最近在线时间
func (r *UserRepository) UpdatePresence(ctx context.Context, id uint, status string, lastSeen time.Time) error {
	return r.orm.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "last_seen": lastSeen}).Error
}

// UpdateProfile 更新可修改的资料字段，fields 的键为列名
func (r *UserRepository) UpdateProfile(ctx context.Context, id uint, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	result := r.orm.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("更新用户 %d 资料: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return errs.NotFound("用户 %d", id)
	}
	return nil
}
