package identity

import "time"

// User 评审平台用户
type User struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	Username string `json:"username" gorm:"size:100;not null;uniqueIndex"`
	Email    string `json:"email" gorm:"size:255;index"`
	IsActive bool   `json:"isActive" gorm:"default:true"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// TableName 指定表名
func (User) TableName() string {
	return "users"
}

// Role 角色
type Role struct {
	ID   string `json:"id" gorm:"primaryKey;type:uuid"`
	Code string `json:"code" gorm:"size:100;not null;uniqueIndex"`
	Name string `json:"name" gorm:"size:100;not null"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

// TableName 指定表名
func (Role) TableName() string {
	return "roles"
}

// UserRole 用户-角色关联
type UserRole struct {
	ID     string `json:"id" gorm:"primaryKey;type:uuid"`
	UserID string `json:"userId" gorm:"type:uuid;not null;index"`
	RoleID string `json:"roleId" gorm:"type:uuid;not null;index"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

// TableName 指定表名
func (UserRole) TableName() string {
	return "user_roles"
}
