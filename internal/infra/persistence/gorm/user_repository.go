package gormpersistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"portal-gateway/internal/domain"
	"portal-gateway/internal/repository"
)

// GormUserRepository 是 UserRepository 接口的 GORM 实现
type GormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository 创建 GormUserRepository 实例
func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	if db == nil {
		panic("database connection cannot be nil for GormUserRepository")
	}
	return &GormUserRepository{db: db}
}

// FindByID 实现根据用户 ID 查找用户
func (r *GormUserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	// 主键是字符串，必须显式写条件，否则 GORM 会把它当成 SQL 片段
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrUserNotFound
		}
		return nil, fmt.Errorf("gorm: find user by id %s: %w", id, err)
	}
	return &user, nil
}

// FindByRoom 返回房间的全部成员，按加入先后排序
func (r *GormUserRepository) FindByRoom(ctx context.Context, roomID string) ([]domain.User, error) {
	var users []domain.User
	err := r.db.WithContext(ctx).Where("room_id = ?", roomID).Order("updated_at ASC").Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: find users in room %s: %w", roomID, err)
	}
	return users, nil
}

// MemberIDs 只查询成员 ID
func (r *GormUserRepository) MemberIDs(ctx context.Context, roomID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&domain.User{}).Where("room_id = ?", roomID).
		Order("updated_at ASC").Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("gorm: pluck member ids of room %s: %w", roomID, err)
	}
	return ids, nil
}

// CountMembers 统计房间成员数量
func (r *GormUserRepository) CountMembers(ctx context.Context, roomID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&domain.User{}).Where("room_id = ?", roomID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("gorm: count members of room %s: %w", roomID, err)
	}
	return count, nil
}

// SetRoom 更新用户的 room_id，nil 写入 NULL
func (r *GormUserRepository) SetRoom(ctx context.Context, userID string, roomID *string) error {
	result := r.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", userID).Update("room_id", roomID)
	if result.Error != nil {
		return fmt.Errorf("gorm: set room of user %s: %w", userID, result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.ErrUserNotFound
	}
	return nil
}

// ClearRoom 让房间所有成员离开
func (r *GormUserRepository) ClearRoom(ctx context.Context, roomID string) error {
	err := r.db.WithContext(ctx).Model(&domain.User{}).Where("room_id = ?", roomID).Update("room_id", nil).Error
	if err != nil {
		return fmt.Errorf("gorm: clear members of room %s: %w", roomID, err)
	}
	return nil
}
