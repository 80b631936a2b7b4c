package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// 定义任务类型常量
const (
	TypeEmptyRoomCheck = "portal:empty-room-check" // 房间变空后的延迟门户销毁检查
	TypeSessionSweep   = "session:sweep"           // 周期性清理失联进程遗留的会话
)

// QueueDefault 所有任务使用的队列
const QueueDefault = "default"

// EmptyRoomCheckPayload 定义了空房间检查任务的数据结构
type EmptyRoomCheckPayload struct {
	RoomID string `json:"roomId"`
}

// SessionSweepPayload 定义了会话清理任务的数据结构
type SessionSweepPayload struct {
	// StaleAfterSeconds 最后心跳早于该秒数的会话视为失联
	StaleAfterSeconds int `json:"staleAfterSeconds"`
}

// emptyRoomTaskID 同一房间同时最多有一个待执行的检查任务
func emptyRoomTaskID(roomID string) string {
	return "empty-room:" + roomID
}

// NewEmptyRoomCheckTask 创建一个新的空房间检查任务
func NewEmptyRoomCheckTask(roomID string) (*asynq.Task, error) {
	payload, err := json.Marshal(EmptyRoomCheckPayload{RoomID: roomID})
	if err != nil {
		return nil, fmt.Errorf("marshal empty room check payload: %w", err)
	}
	return asynq.NewTask(TypeEmptyRoomCheck, payload), nil
}

// NewSessionSweepTask 创建一个新的会话清理任务
func NewSessionSweepTask(staleAfter time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(SessionSweepPayload{StaleAfterSeconds: int(staleAfter / time.Second)})
	if err != nil {
		return nil, fmt.Errorf("marshal session sweep payload: %w", err)
	}
	return asynq.NewTask(TypeSessionSweep, payload), nil
}

// ParseEmptyRoomCheck 解析空房间检查任务的 payload
func ParseEmptyRoomCheck(t *asynq.Task) (EmptyRoomCheckPayload, error) {
	var p EmptyRoomCheckPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, err
	}
	if p.RoomID == "" {
		return p, fmt.Errorf("empty room check payload has no roomId")
	}
	return p, nil
}

// ParseSessionSweep 解析会话清理任务的 payload
func ParseSessionSweep(t *asynq.Task) (SessionSweepPayload, error) {
	var p SessionSweepPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, err
	}
	if p.StaleAfterSeconds <= 0 {
		return p, fmt.Errorf("session sweep payload has non-positive staleAfterSeconds")
	}
	return p, nil
}

// StaleAfter 以 time.Duration 返回失联阈值
func (p SessionSweepPayload) StaleAfter() time.Duration {
	return time.Duration(p.StaleAfterSeconds) * time.Second
}
