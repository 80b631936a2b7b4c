package repository

import (
	"context"

	"portal-gateway/internal/domain"
)

// EventBus 是跨进程的发布/订阅通道。
type EventBus interface {
	// Publish 把信封发布到扇出频道。
	Publish(ctx context.Context, envelope domain.Envelope) error

	// PublishControl 把控制帧发布到门户控制频道。
	PublishControl(ctx context.Context, frame []byte) error

	// Subscribe 订阅扇出频道，返回时订阅已经生效。
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription 是一个活跃的扇出频道订阅。
type Subscription interface {
	Envelopes() <-chan domain.Envelope
	Close() error
}
