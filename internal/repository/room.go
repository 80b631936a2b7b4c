package repository

import (
	"context"
	"time"

	"portal-gateway/internal/domain"
)

// RoomRepository 定义了房间文档的存储和检索操作。
type RoomRepository interface {
	// FindByID 根据房间 ID 查找房间。
	// 如果房间不存在，返回 ErrRoomNotFound。
	FindByID(ctx context.Context, id string) (*domain.Room, error)

	// FindByPortalID 根据门户 ID 查找房间，用于门户服务的状态回调。
	FindByPortalID(ctx context.Context, portalID string) (*domain.Room, error)

	// Create 创建新房间。
	Create(ctx context.Context, room *domain.Room) error

	// Delete 删除房间。
	Delete(ctx context.Context, id string) error

	// UpdateOwner 更新房主。
	UpdateOwner(ctx context.Context, id string, ownerID string) error

	// UpdateType 更新房间类型。
	UpdateType(ctx context.Context, id string, roomType domain.RoomType) error

	// UpdateController 更新控制者，nil 表示无人控制。
	UpdateController(ctx context.Context, id string, controllerID *string) error

	// UpdatePortal 整体写入门户分配 (调用方负责合并)。
	UpdatePortal(ctx context.Context, id string, portal domain.PortalAllocation) error

	// ClaimPortal 仅当门户状态属于 from 时把状态改为 to。
	// 返回 true 表示本次调用完成了状态迁移，并发调用中只有一个会成功。
	ClaimPortal(ctx context.Context, id string, from []domain.PortalStatus, to domain.PortalStatus, now time.Time) (bool, error)
}
