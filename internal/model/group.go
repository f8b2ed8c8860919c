package model

import (
	"time"

	"gorm.io/gorm"
)

// 群成员角色
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Group 群组

type Group struct {
	ID        uint           `gorm:"primaryKey"`
	Name      string         `gorm:"type:varchar(64);not null;comment:群名称"`
	OwnerID   uint           `gorm:"not null;index;comment:创建者ID"`
	CreatedAt time.Time      `gorm:"comment:创建时间"`
	UpdatedAt time.Time      `gorm:"comment:更新时间"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (Group) TableName() string { return "chat_group" }

// GroupMember 群成员，(group_id, user_id) 唯一

type GroupMember struct {
	ID        uint      `gorm:"primaryKey"`
	GroupID   uint      `gorm:"not null;uniqueIndex:idx_group_user;comment:群ID"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_group_user;index;comment:用户ID"`
	Role      string    `gorm:"type:varchar(16);default:'member';comment:角色"`
	CreatedAt time.Time `gorm:"comment:加入时间"`
}

func (GroupMember) TableName() string { return "group_member" }
