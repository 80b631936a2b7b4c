package repository

import (
	"context"
	"encoding/json"

	"portal-gateway/internal/domain"
)

// SessionStore 定义了所有网关进程共享的会话状态，通常由 Redis 实现。
type SessionStore interface {
	// === Runtime config ===

	// SocketConfig 读取运行时连接参数，缺失的字段使用默认值。
	SocketConfig(ctx context.Context) (domain.SocketConfig, error)

	// === Connected clients ===

	AddConnected(ctx context.Context, userID string) error
	RemoveConnected(ctx context.Context, userID string) error

	// ConnectedAmong 返回 ids 中当前有连接的那一部分，保持原顺序。
	ConnectedAmong(ctx context.Context, ids []string) ([]string, error)

	// === Session mirror ===

	SaveSession(ctx context.Context, session domain.Session) error
	DeleteSession(ctx context.Context, userID string) error
	Sessions(ctx context.Context) ([]domain.Session, error)

	// === Controller lock ===

	// Controller 返回房间的控制者，无人控制时返回空字符串。
	Controller(ctx context.Context, roomID string) (string, error)

	// SwapController 仅当当前控制者等于 expected 时把它改为 next，空字符串表示无人控制。
	// 返回 false 表示当前值与 expected 不符，未做修改。
	SwapController(ctx context.Context, roomID, expected, next string) (bool, error)

	// DeleteController 删除房间的控制者记录。
	DeleteController(ctx context.Context, roomID string) error

	// === Undelivered queue ===

	// EnqueueUndelivered 把事件放到用户离线队列的头部，超过上限时丢弃最旧的事件。
	EnqueueUndelivered(ctx context.Context, userID string, event []byte) error

	// DrainUndelivered 原子地读取并清空离线队列，按入队顺序 (最旧的在前) 返回。
	DrainUndelivered(ctx context.Context, userID string) ([]json.RawMessage, error)

	ClearUndelivered(ctx context.Context, userID string) error
}
