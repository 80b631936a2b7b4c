package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"portal-gateway/internal/tasks"
)

// EmptyRoomChecker 在房间仍然没有在线成员时销毁门户
type EmptyRoomChecker interface {
	DestroyPortalIfEmpty(ctx context.Context, roomID string) error
}

// StaleSessionSweeper 清理心跳过期的会话
type StaleSessionSweeper interface {
	SweepStale(ctx context.Context, staleAfter time.Duration) ([]string, error)
}

func taskLogger(ctx context.Context, t *asynq.Task) *logrus.Entry {
	taskID := ""
	if rw := t.ResultWriter(); rw != nil {
		taskID = rw.TaskID()
	}
	currentRetry, _ := asynq.GetRetryCount(ctx)
	return logrus.WithFields(logrus.Fields{
		"task_id":   taskID,
		"task_type": t.Type(),
		"retry":     currentRetry,
	})
}

// EmptyRoomCheckHandler 处理空房间检查任务
type EmptyRoomCheckHandler struct {
	rooms EmptyRoomChecker
}

// NewEmptyRoomCheckHandler 创建 Handler 实例
func NewEmptyRoomCheckHandler(rooms EmptyRoomChecker) *EmptyRoomCheckHandler {
	if rooms == nil {
		panic("EmptyRoomChecker cannot be nil for EmptyRoomCheckHandler")
	}
	return &EmptyRoomCheckHandler{rooms: rooms}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *EmptyRoomCheckHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)

	payload, err := tasks.ParseEmptyRoomCheck(t)
	if err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	logCtx = logCtx.WithField("room_id", payload.RoomID)

	if err := h.rooms.DestroyPortalIfEmpty(ctx, payload.RoomID); err != nil {
		logCtx.WithError(err).Error("Empty room check failed")
		return fmt.Errorf("empty room check for room %s: %w", payload.RoomID, err)
	}
	logCtx.Debug("Empty room check processed")
	return nil
}

// SessionSweepHandler 处理周期性的会话清理任务
type SessionSweepHandler struct {
	sessions StaleSessionSweeper
}

// NewSessionSweepHandler 创建 Handler 实例
func NewSessionSweepHandler(sessions StaleSessionSweeper) *SessionSweepHandler {
	if sessions == nil {
		panic("StaleSessionSweeper cannot be nil for SessionSweepHandler")
	}
	return &SessionSweepHandler{sessions: sessions}
}

// ProcessTask 实现 asynq.Handler 接口
func (h *SessionSweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	logCtx := taskLogger(ctx, t)

	payload, err := tasks.ParseSessionSweep(t)
	if err != nil {
		logCtx.WithError(err).Error("Failed to unmarshal task payload")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	swept, err := h.sessions.SweepStale(ctx, payload.StaleAfter())
	if err != nil {
		logCtx.WithError(err).Error("Session sweep failed")
		return fmt.Errorf("session sweep: %w", err)
	}
	if len(swept) > 0 {
		logCtx.WithField("swept", len(swept)).Info("Stale sessions removed")
	}
	return nil
}
