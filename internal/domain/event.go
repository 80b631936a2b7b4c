package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// Opcode 是帧的操作码。
type Opcode int

const (
	OpDispatch     Opcode = 0  // 应用事件，双向
	OpHeartbeat    Opcode = 1  // 客户端心跳；服务端发出时表示强制心跳
	OpIdentify     Opcode = 2  // 客户端认证
	OpHello        Opcode = 10 // 连接建立后服务端发送的配置
	OpHeartbeatAck Opcode = 11
)

// EventType 是 op 0 帧中 t 字段的取值。
type EventType string

const (
	EventPresenceUpdate    EventType = "PRESENCE_UPDATE"
	EventTypingUpdate      EventType = "TYPING_UPDATE"
	EventMessageCreate     EventType = "MESSAGE_CREATE"
	EventMessageDestroy    EventType = "MESSAGE_DESTROY"
	EventUserJoin          EventType = "USER_JOIN"
	EventUserUpdate        EventType = "USER_UPDATE"
	EventUserLeave         EventType = "USER_LEAVE"
	EventOwnerUpdate       EventType = "OWNER_UPDATE"
	EventControllerUpdate  EventType = "CONTROLLER_UPDATE"
	EventInviteUpdate      EventType = "INVITE_UPDATE"
	EventRoomDestroy       EventType = "ROOM_DESTROY"
	EventPortalUpdate      EventType = "PORTAL_UPDATE"
	EventPortalQueueUpdate EventType = "PORTAL_QUEUE_UPDATE"
	EventApertureConfig    EventType = "APERTURE_CONFIG"
	EventJanusConfig       EventType = "JANUS_CONFIG"
)

// IsEphemeral 报告该类型的事件是否只对在线用户有意义 (不进入离线队列)。
func (t EventType) IsEphemeral() bool {
	return t == EventPresenceUpdate || t == EventTypingUpdate
}

// Event 是服务端发出的帧 {op, d, t}。本地投递和总线传输使用同一序列化结果。
type Event struct {
	Op Opcode    `json:"op"`
	D  any       `json:"d"`
	T  EventType `json:"t,omitempty"`
}

// NewEvent 创建一个 op 0 事件。
func NewEvent(t EventType, d any) Event {
	if d == nil {
		d = map[string]any{}
	}
	return Event{Op: OpDispatch, D: d, T: t}
}

// Encode 序列化事件。
func (e Event) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.T, err)
	}
	return b, nil
}

// ErrMalformedFrame 表示客户端发送的帧无法解析。
var ErrMalformedFrame = errors.New("malformed frame")

// Frame 是客户端发来的帧，d 保持原始 JSON 以便按 t 做边界校验。
type Frame struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d"`
	T  EventType       `json:"t"`
}

// ParseFrame 解析客户端帧。op 必须是数字，t 若存在必须是字符串。
func ParseFrame(data []byte) (*Frame, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrMalformedFrame
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, ErrMalformedFrame
	}
	op := root.Get("op")
	if op.Type != gjson.Number {
		return nil, ErrMalformedFrame
	}
	if t := root.Get("t"); t.Exists() && t.Type != gjson.String && t.Type != gjson.Null {
		return nil, ErrMalformedFrame
	}
	frame := &Frame{Op: Opcode(op.Int()), T: EventType(root.Get("t").String())}
	if d := root.Get("d"); d.Exists() {
		frame.D = json.RawMessage(d.Raw)
	}
	return frame, nil
}

// WithSequence 在已序列化的事件上附加顺序号 s，用于离线队列的回放。
func WithSequence(raw json.RawMessage, s int) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode queued event: %w", err)
	}
	seq, _ := json.Marshal(s)
	fields["s"] = seq
	return json.Marshal(fields)
}

// AllRecipients 是广播给所有已认证连接的哨兵值。
const AllRecipients = "*"

// Envelope 是发布到 ws 频道上的消息。
type Envelope struct {
	Message    json.RawMessage `json:"message"`
	Recipients []string        `json:"recipients"`
	// Sync 属于频道消息格式，发布时总为 true，投递时不读取。
	Sync bool `json:"sync"`
}

// IsBroadcastAll 报告信封是否发送给所有连接。
func (e Envelope) IsBroadcastAll() bool {
	for _, r := range e.Recipients {
		if r == AllRecipients {
			return true
		}
	}
	return false
}

// SocketConfig 是运行时可调的连接参数，存放在共享存储中。
type SocketConfig struct {
	HeartbeatInterval time.Duration
	ReconnectInterval time.Duration
	AuthTimeout       time.Duration
}

// DefaultSocketConfig 在共享存储中没有配置时使用。
var DefaultSocketConfig = SocketConfig{
	HeartbeatInterval: 10 * time.Second,
	ReconnectInterval: 5 * time.Second,
	AuthTimeout:       10 * time.Second,
}

// MaxHeartbeatMisses 连续错过心跳的上限，超过后关闭连接。
const MaxHeartbeatMisses = 3

// EvictAfter 返回没有心跳的连接最迟被关闭的时间，每次检查允许 1.25 倍间隔。
func (c SocketConfig) EvictAfter() time.Duration {
	return time.Duration(MaxHeartbeatMisses+1) * c.HeartbeatInterval * 5 / 4
}

// Hello 返回 op 10 帧。
func (c SocketConfig) Hello() Event {
	return Event{Op: OpHello, D: map[string]int64{
		"heartbeatInterval": c.HeartbeatInterval.Milliseconds(),
		"reconnectInterval": c.ReconnectInterval.Milliseconds(),
		"authTimeout":       c.AuthTimeout.Milliseconds(),
	}}
}

// Session 是连接状态在共享存储中的镜像。
type Session struct {
	ID              string    `json:"id"`
	Authenticated   bool      `json:"authenticated"`
	LastHeartbeatAt time.Time `json:"lastHeartbeatAt"`
}
