package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Enqueuer 是 asynq.Client 中用到的部分
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskDeleter 是 asynq.Inspector 中用到的部分
type TaskDeleter interface {
	DeleteTask(queue, id string) error
}

// Scheduler 通过 asynq 调度和取消房间的延迟门户销毁检查
type Scheduler struct {
	client    Enqueuer
	inspector TaskDeleter
}

// NewScheduler 创建 Scheduler 实例
func NewScheduler(client Enqueuer, inspector TaskDeleter) *Scheduler {
	if client == nil || inspector == nil {
		panic("Enqueuer and TaskDeleter cannot be nil for Scheduler")
	}
	return &Scheduler{client: client, inspector: inspector}
}

// ScheduleEmptyRoomCheck 在 delay 之后检查房间是否仍然没有在线成员。
// 房间已有待执行的检查时保留原来的任务。
func (s *Scheduler) ScheduleEmptyRoomCheck(ctx context.Context, roomID string, delay time.Duration) error {
	task, err := NewEmptyRoomCheckTask(roomID)
	if err != nil {
		return err
	}
	info, err := s.client.EnqueueContext(ctx, task,
		asynq.TaskID(emptyRoomTaskID(roomID)),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(0),
		asynq.Queue(QueueDefault),
	)
	logCtx := logrus.WithField("room_id", roomID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			logCtx.Debug("Empty room check already scheduled")
			return nil
		}
		return fmt.Errorf("enqueue empty room check for room %s: %w", roomID, err)
	}
	logCtx.WithFields(logrus.Fields{"task_id": info.ID, "process_at": info.NextProcessAt}).Info("Empty room check scheduled")
	return nil
}

// CancelEmptyRoomCheck 删除房间待执行的检查，没有任务时什么也不做
func (s *Scheduler) CancelEmptyRoomCheck(_ context.Context, roomID string) error {
	err := s.inspector.DeleteTask(QueueDefault, emptyRoomTaskID(roomID))
	if err == nil {
		logrus.WithField("room_id", roomID).Info("Empty room check cancelled")
		return nil
	}
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}
	return fmt.Errorf("cancel empty room check for room %s: %w", roomID, err)
}
