package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"portal-gateway/internal/domain"
	"portal-gateway/internal/repository"
)

// Broadcaster 把事件发布到总线，并为不在线的接收者写入离线队列。
type Broadcaster struct {
	bus      repository.EventBus
	sessions repository.SessionStore
	users    repository.UserRepository
}

// NewBroadcaster 创建 Broadcaster 实例。
func NewBroadcaster(bus repository.EventBus, sessions repository.SessionStore, users repository.UserRepository) *Broadcaster {
	if bus == nil || sessions == nil || users == nil {
		panic("EventBus, SessionStore and UserRepository cannot be nil for Broadcaster")
	}
	return &Broadcaster{bus: bus, sessions: sessions, users: users}
}

// Broadcast 把事件发给 recipients 中除 excluding 以外的用户。
// 接收者为空时直接返回。离线接收者的事件进入离线队列 (PRESENCE_UPDATE、TYPING_UPDATE 除外)，
// 入队失败只记录日志。
func (b *Broadcaster) Broadcast(ctx context.Context, ev domain.Event, recipients []string, excluding ...string) error {
	targets := filterRecipients(recipients, excluding)
	if len(targets) == 0 {
		return nil
	}

	raw, err := ev.Encode()
	if err != nil {
		return err
	}
	envelope := domain.Envelope{Message: raw, Recipients: targets, Sync: true}
	if err := b.bus.Publish(ctx, envelope); err != nil {
		return fmt.Errorf("broadcast %s: %w", ev.T, err)
	}

	if ev.T.IsEphemeral() || envelope.IsBroadcastAll() {
		return nil
	}

	logCtx := logrus.WithField("event", ev.T)
	connected, err := b.sessions.ConnectedAmong(ctx, targets)
	if err != nil {
		logCtx.WithError(err).Error("Failed to resolve connected recipients, skipping undelivered queue")
		return nil
	}
	online := make(map[string]struct{}, len(connected))
	for _, id := range connected {
		online[id] = struct{}{}
	}
	for _, id := range targets {
		if _, ok := online[id]; ok {
			continue
		}
		if err := b.sessions.EnqueueUndelivered(ctx, id, raw); err != nil {
			logCtx.WithField("user_id", id).WithError(err).Error("Failed to queue undelivered event")
		}
	}
	return nil
}

// BroadcastRoom 把事件发给房间的所有成员。
func (b *Broadcaster) BroadcastRoom(ctx context.Context, ev domain.Event, roomID string, excluding ...string) error {
	if roomID == "" {
		return nil
	}
	ids, err := b.users.MemberIDs(ctx, roomID)
	if err != nil {
		return fmt.Errorf("broadcast %s to room %s: %w", ev.T, roomID, err)
	}
	return b.Broadcast(ctx, ev, ids, excluding...)
}

func filterRecipients(recipients, excluding []string) []string {
	if len(excluding) == 0 {
		return recipients
	}
	skip := make(map[string]struct{}, len(excluding))
	for _, id := range excluding {
		skip[id] = struct{}{}
	}
	filtered := make([]string, 0, len(recipients))
	for _, id := range recipients {
		if _, ok := skip[id]; !ok {
			filtered = append(filtered, id)
		}
	}
	return filtered
}
