package repository

import (
	"context"

	"portal-gateway/internal/domain"
)

// UserRepository 定义了用户数据的存储和检索操作。
// 房间成员关系保存在用户记录上 (room_id)。
type UserRepository interface {
	// FindByID 根据用户 ID 查找用户。
	// 如果用户不存在，返回 ErrUserNotFound。
	FindByID(ctx context.Context, id string) (*domain.User, error)

	// FindByRoom 返回房间的全部成员。
	FindByRoom(ctx context.Context, roomID string) ([]domain.User, error)

	// MemberIDs 返回房间全部成员的 ID。
	MemberIDs(ctx context.Context, roomID string) ([]string, error)

	// CountMembers 返回房间成员数量。
	CountMembers(ctx context.Context, roomID string) (int64, error)

	// SetRoom 设置用户所在的房间，roomID 为 nil 表示离开房间。
	SetRoom(ctx context.Context, userID string, roomID *string) error

	// ClearRoom 让房间的所有成员离开该房间。
	ClearRoom(ctx context.Context, roomID string) error
}
