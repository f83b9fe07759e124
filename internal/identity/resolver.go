package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"backend/internal/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Resolver 基于用户/角色表解析评审人
type Resolver struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewResolver 创建解析器
func NewResolver(db *gorm.DB) *Resolver {
	return &Resolver{
		db:     db,
		logger: logger.Named("identity.resolver"),
	}
}

// AutoMigrate 自动迁移表结构
func (r *Resolver) AutoMigrate() error {
	return r.db.AutoMigrate(&User{}, &Role{}, &UserRole{})
}

// ResolveRole 将角色解析为启用中的用户 ID 集合。
// 空集合表示该角色当前无人，调用方按“未分配”处理而非错误。
func (r *Resolver) ResolveRole(ctx context.Context, role string) ([]string, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		return nil, nil
	}
	var rows []struct {
		UserID string
	}
	err := r.db.WithContext(ctx).
		Table("user_roles AS ur").
		Select("u.id AS user_id").
		Joins("JOIN users u ON ur.user_id = u.id").
		Joins("JOIN roles ro ON ur.role_id = ro.id").
		Where("(ro.code = ? OR ro.name = ?) AND u.is_active = ?", role, role, true).
		Order("u.created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("查询角色成员失败: %w", err)
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.UserID)
	}
	return ids, nil
}

// LookupEmail 查询用户邮箱，未找到时返回空串而非错误
func (r *Resolver) LookupEmail(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", nil
	}
	var user User
	err := r.db.WithContext(ctx).
		Select("email").
		Where("id = ?", userID).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		r.logger.Debug("查询用户邮箱失败", zap.String("userId", userID), zap.Error(err))
		return "", fmt.Errorf("查询用户邮箱失败: %w", err)
	}
	return strings.TrimSpace(user.Email), nil
}
