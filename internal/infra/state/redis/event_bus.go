package redisstate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"portal-gateway/internal/domain"
	"portal-gateway/internal/repository"
)

// 频道名称与门户服务共享，不加前缀。
const (
	FanoutChannel  = "ws"
	ControlChannel = "portals"
)

// RedisEventBus 是 EventBus 接口基于 Redis Pub/Sub 的实现
type RedisEventBus struct {
	client *redis.Client
}

// NewRedisEventBus 创建 RedisEventBus 实例
func NewRedisEventBus(client *redis.Client) *RedisEventBus {
	if client == nil {
		panic("redis client cannot be nil for RedisEventBus")
	}
	return &RedisEventBus{client: client}
}

// Publish 把信封发布到 ws 频道。
func (b *RedisEventBus) Publish(ctx context.Context, envelope domain.Envelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal envelope: %w", err)
	}
	if err := b.client.Publish(ctx, FanoutChannel, payload).Err(); err != nil {
		logrus.WithFields(logrus.Fields{
			"channel":      FanoutChannel,
			"payload_size": len(payload),
			"recipients":   len(envelope.Recipients),
		}).WithError(err).Error("Redis Publish failed")
		return fmt.Errorf("redis: failed to publish to channel %s: %w", FanoutChannel, err)
	}
	return nil
}

// PublishControl 把控制帧发布到 portals 频道。
func (b *RedisEventBus) PublishControl(ctx context.Context, frame []byte) error {
	if err := b.client.Publish(ctx, ControlChannel, frame).Err(); err != nil {
		return fmt.Errorf("redis: failed to publish to channel %s: %w", ControlChannel, err)
	}
	return nil
}

// Subscribe 订阅 ws 频道，等待 Redis 确认订阅后返回。
func (b *RedisEventBus) Subscribe(ctx context.Context) (repository.Subscription, error) {
	pubsub := b.client.Subscribe(ctx, FanoutChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: failed to subscribe to channel %s: %w", FanoutChannel, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan domain.Envelope, 256),
	}
	go sub.pump()
	return sub, nil
}

// redisSubscription 把 Redis 消息解码为信封。
type redisSubscription struct {
	pubsub    *redis.PubSub
	out       chan domain.Envelope
	closeOnce sync.Once
}

func (s *redisSubscription) pump() {
	defer close(s.out)
	for msg := range s.pubsub.Channel() {
		var env domain.Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			logrus.WithField("channel", msg.Channel).WithError(err).Warn("Dropping unreadable envelope")
			continue
		}
		s.out <- env
	}
}

func (s *redisSubscription) Envelopes() <-chan domain.Envelope {
	return s.out
}

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.pubsub.Close()
	})
	return err
}
