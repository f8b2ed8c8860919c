package repository

import (
	"context"
	"fmt"

	"im-sync/internal/model"

	"gorm.io/gorm"
)

// TombstoneRepository 删除记录仓储
type TombstoneRepository struct {
	db *gorm.DB
}

func NewTombstoneRepository(db *gorm.DB) *TombstoneRepository {
	return &TombstoneRepository{db: db}
}

// ListAfter 返回 deleted_at 在 (after, upTo] 内的可见墓碑；upTo 为0表示不设上限
func (r *TombstoneRepository) ListAfter(ctx context.Context, scope Scope, after, upTo int64) ([]*model.Tombstone, error) {
	var tombstones []*model.Tombstone
	q := scope.visible(r.db.WithContext(ctx)).Where("deleted_at > ?", after)
	if upTo > 0 {
		q = q.Where("deleted_at <= ?", upTo)
	}
	if err := q.Order("deleted_at ASC").Order("id ASC").Find(&tombstones).Error; err != nil {
		return nil, fmt.Errorf("查询墓碑: %w", err)
	}
	return tombstones, nil
}
