package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"portal-gateway/internal/repository"
)

// OfflineHandler 处理用户下线后的房间状态。
type OfflineHandler interface {
	HandleOffline(ctx context.Context, userID string) error
}

// SessionService 清理因进程崩溃而残留的会话记录。
type SessionService struct {
	sessions repository.SessionStore
	offline  OfflineHandler
	now      func() time.Time
}

// NewSessionService 创建 SessionService 实例。
func NewSessionService(sessions repository.SessionStore, offline OfflineHandler) *SessionService {
	if sessions == nil || offline == nil {
		panic("SessionStore and OfflineHandler cannot be nil for SessionService")
	}
	return &SessionService{sessions: sessions, offline: offline, now: time.Now}
}

// SweepStale 删除超过 staleAfter 没有心跳的会话，并按下线处理，返回被清理的用户。
// staleAfter 不会小于当前心跳间隔下连接被关闭所需的时间。
func (s *SessionService) SweepStale(ctx context.Context, staleAfter time.Duration) ([]string, error) {
	cfg, err := s.sessions.SocketConfig(ctx)
	if err != nil {
		logrus.WithError(err).Warn("Failed to read socket config, sweeping with configured threshold")
	} else if floor := cfg.EvictAfter(); staleAfter < floor {
		logrus.WithFields(logrus.Fields{
			"stale_after":        staleAfter,
			"heartbeat_interval": cfg.HeartbeatInterval,
		}).Debug("Raising stale threshold to heartbeat eviction time")
		staleAfter = floor
	}

	sessions, err := s.sessions.Sessions(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := s.now().Add(-staleAfter)
	var swept []string
	for _, session := range sessions {
		if !session.LastHeartbeatAt.Before(cutoff) {
			continue
		}
		logCtx := logrus.WithFields(logrus.Fields{
			"user_id":           session.ID,
			"last_heartbeat_at": session.LastHeartbeatAt,
		})
		if err := s.sessions.RemoveConnected(ctx, session.ID); err != nil {
			logCtx.WithError(err).Error("Failed to remove stale connected entry")
			continue
		}
		if err := s.sessions.DeleteSession(ctx, session.ID); err != nil {
			logCtx.WithError(err).Error("Failed to delete stale session")
		}
		if err := s.offline.HandleOffline(ctx, session.ID); err != nil {
			logCtx.WithError(err).Warn("Offline handling for stale session failed")
		}
		logCtx.Info("Stale session swept")
		swept = append(swept, session.ID)
	}
	return swept, nil
}
