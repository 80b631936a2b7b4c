package gormpersistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"portal-gateway/internal/domain"
	"portal-gateway/internal/repository"
)

// GormRoomRepository 是 RoomRepository 接口的 GORM 实现
type GormRoomRepository struct {
	db *gorm.DB
}

// NewGormRoomRepository 创建 GormRoomRepository 实例
func NewGormRoomRepository(db *gorm.DB) *GormRoomRepository {
	if db == nil {
		panic("database connection cannot be nil for GormRoomRepository")
	}
	return &GormRoomRepository{db: db}
}

// FindByID 实现根据房间 ID 查找房间
func (r *GormRoomRepository) FindByID(ctx context.Context, id string) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: find room by id %s: %w", id, err)
	}
	return &room, nil
}

// FindByPortalID 实现根据门户 ID 查找房间
func (r *GormRoomRepository) FindByPortalID(ctx context.Context, portalID string) (*domain.Room, error) {
	var room domain.Room
	err := r.db.WithContext(ctx).Where("portal_id = ?", portalID).First(&room).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("gorm: find room by portal id %s: %w", portalID, err)
	}
	return &room, nil
}

// Create 插入新房间
func (r *GormRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	err := r.db.WithContext(ctx).Create(room).Error
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return repository.ErrDuplicateEntry
		}
		return fmt.Errorf("gorm: create room %s: %w", room.ID, err)
	}
	return nil
}

// Delete 删除房间
func (r *GormRoomRepository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Room{}).Error
	if err != nil {
		return fmt.Errorf("gorm: delete room %s: %w", id, err)
	}
	return nil
}

// UpdateOwner 更新房主
func (r *GormRoomRepository) UpdateOwner(ctx context.Context, id string, ownerID string) error {
	return r.updateColumns(ctx, id, map[string]interface{}{"owner_id": ownerID})
}

// UpdateType 更新房间类型
func (r *GormRoomRepository) UpdateType(ctx context.Context, id string, roomType domain.RoomType) error {
	return r.updateColumns(ctx, id, map[string]interface{}{"type": roomType})
}

// UpdateController 更新控制者，nil 写入 NULL
func (r *GormRoomRepository) UpdateController(ctx context.Context, id string, controllerID *string) error {
	return r.updateColumns(ctx, id, map[string]interface{}{"controller_id": controllerID})
}

// UpdatePortal 写入完整的门户分配
func (r *GormRoomRepository) UpdatePortal(ctx context.Context, id string, portal domain.PortalAllocation) error {
	return r.updateColumns(ctx, id, map[string]interface{}{
		"portal_id":              portal.ID,
		"portal_status":          portal.Status,
		"portal_janus_id":        portal.JanusID,
		"portal_janus_ip":        portal.JanusIP,
		"portal_last_updated_at": portal.LastUpdatedAt,
	})
}

// ClaimPortal 用带条件的 UPDATE 实现状态迁移，RowsAffected 为 1 表示本次调用赢得了迁移。
func (r *GormRoomRepository) ClaimPortal(ctx context.Context, id string, from []domain.PortalStatus, to domain.PortalStatus, now time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Model(&domain.Room{}).
		Where("id = ? AND portal_status IN ?", id, from).
		Updates(map[string]interface{}{
			"portal_status":          to,
			"portal_last_updated_at": now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("gorm: claim portal of room %s: %w", id, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *GormRoomRepository) updateColumns(ctx context.Context, id string, columns map[string]interface{}) error {
	result := r.db.WithContext(ctx).Model(&domain.Room{}).Where("id = ?", id).Updates(columns)
	if result.Error != nil {
		return fmt.Errorf("gorm: update room %s: %w", id, result.Error)
	}
	return nil
}
