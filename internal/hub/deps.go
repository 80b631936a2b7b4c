package hub

import (
	"context"

	"portal-gateway/internal/domain"
	"portal-gateway/internal/repository"
)

// Authenticator 校验 identify 帧中的令牌并加载用户。
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
	FindUser(ctx context.Context, userID string) (*domain.User, error)
}

// Presence 处理用户上线和下线后的房间状态。
// HandleOnline 返回只发给当前连接的事件。
type Presence interface {
	HandleOnline(ctx context.Context, user *domain.User) ([]domain.Event, error)
	HandleOffline(ctx context.Context, userID string) error
}

// InputRelay 把控制输入转发到门户。
type InputRelay interface {
	Relay(ctx context.Context, user *domain.User, input domain.ControlInput) error
}

// Publisher 用于房间内的输入状态广播。
type Publisher interface {
	BroadcastRoom(ctx context.Context, ev domain.Event, roomID string, excluding ...string) error
}

// Subscriber 提供跨进程的扇出订阅。
type Subscriber interface {
	Subscribe(ctx context.Context) (repository.Subscription, error)
}
