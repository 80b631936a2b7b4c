package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"portal-gateway/internal/domain"
)

// DefaultUndeliveredCap 是每个用户离线队列的默认上限。
const DefaultUndeliveredCap = 100

// swapControllerScript 原子地比较并替换房间的控制者。
// ARGV[2] 为空表示期望当前无人控制，ARGV[3] 为空表示释放。
var swapControllerScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], ARGV[1])
if not current then current = '' end
if current ~= ARGV[2] then return 0 end
if ARGV[3] == '' then
	redis.call('HDEL', KEYS[1], ARGV[1])
else
	redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
end
return 1
`)

// RedisSessionStore 是 SessionStore 接口的 Redis 实现
type RedisSessionStore struct {
	client         *redis.Client
	keyPrefix      string
	undeliveredCap int64
}

// NewRedisSessionStore 创建 RedisSessionStore 实例。
// undeliveredCap <= 0 时使用 DefaultUndeliveredCap。
func NewRedisSessionStore(client *redis.Client, keyPrefix string, undeliveredCap int) *RedisSessionStore {
	if client == nil {
		panic("redis client cannot be nil for RedisSessionStore")
	}
	if undeliveredCap <= 0 {
		undeliveredCap = DefaultUndeliveredCap
	}
	return &RedisSessionStore{
		client:         client,
		keyPrefix:      keyPrefix,
		undeliveredCap: int64(undeliveredCap),
	}
}

// --- Key Generation Helpers ---
func (r *RedisSessionStore) socketConfigKey() string { return r.keyPrefix + "socket_config" }
func (r *RedisSessionStore) connectedKey() string    { return r.keyPrefix + "connected_clients" }
func (r *RedisSessionStore) sessionsKey() string     { return r.keyPrefix + "client_sessions" }
func (r *RedisSessionStore) controllerKey() string   { return r.keyPrefix + "controller" }
func (r *RedisSessionStore) undeliveredKey(userID string) string {
	return fmt.Sprintf("%sundelivered:%s", r.keyPrefix, userID)
}

// SocketConfig 从 socket_config hash 读取连接参数 (毫秒)，缺失或非法的字段使用默认值。
func (r *RedisSessionStore) SocketConfig(ctx context.Context) (domain.SocketConfig, error) {
	cfg := domain.DefaultSocketConfig
	key := r.socketConfigKey()
	values, err := r.client.HMGet(ctx, key, "c_heartbeat_interval", "c_reconnect_interval", "c_authentication_timeout").Result()
	if err != nil {
		return cfg, fmt.Errorf("redis: failed to read socket config from %s: %w", key, err)
	}
	targets := []*time.Duration{&cfg.HeartbeatInterval, &cfg.ReconnectInterval, &cfg.AuthTimeout}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		ms, err := strconv.ParseInt(s, 10, 64)
		if err != nil || ms <= 0 {
			logrus.WithField("value", s).Warn("redis: ignoring invalid socket config value")
			continue
		}
		*targets[i] = time.Duration(ms) * time.Millisecond
	}
	return cfg, nil
}

// AddConnected 把用户加入已连接集合。
func (r *RedisSessionStore) AddConnected(ctx context.Context, userID string) error {
	if err := r.client.SAdd(ctx, r.connectedKey(), userID).Err(); err != nil {
		return fmt.Errorf("redis: failed to add %s to connected clients: %w", userID, err)
	}
	return nil
}

// RemoveConnected 把用户移出已连接集合。
func (r *RedisSessionStore) RemoveConnected(ctx context.Context, userID string) error {
	if err := r.client.SRem(ctx, r.connectedKey(), userID).Err(); err != nil {
		return fmt.Errorf("redis: failed to remove %s from connected clients: %w", userID, err)
	}
	return nil
}

// ConnectedAmong 用一次 Pipeline 检查每个 ID 是否在已连接集合中。
func (r *RedisSessionStore) ConnectedAmong(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	key := r.connectedKey()
	pipe := r.client.Pipeline()
	cmds := make([]*redis.BoolCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.SIsMember(ctx, key, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: failed to check connected clients on %s: %w", key, err)
	}
	connected := make([]string, 0, len(ids))
	for i, cmd := range cmds {
		if cmd.Val() {
			connected = append(connected, ids[i])
		}
	}
	return connected, nil
}

// SaveSession 写入会话镜像。
func (r *RedisSessionStore) SaveSession(ctx context.Context, session domain.Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal session %s: %w", session.ID, err)
	}
	if err := r.client.HSet(ctx, r.sessionsKey(), session.ID, payload).Err(); err != nil {
		return fmt.Errorf("redis: failed to save session %s: %w", session.ID, err)
	}
	return nil
}

// DeleteSession 删除会话镜像。
func (r *RedisSessionStore) DeleteSession(ctx context.Context, userID string) error {
	if err := r.client.HDel(ctx, r.sessionsKey(), userID).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete session %s: %w", userID, err)
	}
	return nil
}

// Sessions 返回所有会话镜像，无法解析的条目会被跳过。
func (r *RedisSessionStore) Sessions(ctx context.Context) ([]domain.Session, error) {
	key := r.sessionsKey()
	entries, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: failed to read sessions from %s: %w", key, err)
	}
	sessions := make([]domain.Session, 0, len(entries))
	for id, raw := range entries {
		var s domain.Session
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			logrus.WithField("user_id", id).WithError(err).Warn("redis: skipping unreadable session")
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// Controller 读取房间的控制者。
func (r *RedisSessionStore) Controller(ctx context.Context, roomID string) (string, error) {
	id, err := r.client.HGet(ctx, r.controllerKey(), roomID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("redis: failed to get controller for room %s: %w", roomID, err)
	}
	return id, nil
}

// SwapController 通过 Lua 脚本实现比较并替换。
func (r *RedisSessionStore) SwapController(ctx context.Context, roomID, expected, next string) (bool, error) {
	n, err := swapControllerScript.Run(ctx, r.client, []string{r.controllerKey()}, roomID, expected, next).Int()
	if err != nil {
		return false, fmt.Errorf("redis: failed to swap controller for room %s: %w", roomID, err)
	}
	return n == 1, nil
}

// DeleteController 删除房间的控制者记录。
func (r *RedisSessionStore) DeleteController(ctx context.Context, roomID string) error {
	if err := r.client.HDel(ctx, r.controllerKey(), roomID).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete controller for room %s: %w", roomID, err)
	}
	return nil
}

// EnqueueUndelivered 把事件压入队列头部并裁剪到上限。
func (r *RedisSessionStore) EnqueueUndelivered(ctx context.Context, userID string, event []byte) error {
	key := r.undeliveredKey(userID)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, event)
	pipe.LTrim(ctx, key, 0, r.undeliveredCap-1) // 头部是最新的，裁掉尾部最旧的
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to enqueue undelivered event for %s on %s: %w", userID, key, err)
	}
	return nil
}

// DrainUndelivered 在一个事务里读取并删除队列，返回时最旧的事件在前。
func (r *RedisSessionStore) DrainUndelivered(ctx context.Context, userID string) ([]json.RawMessage, error) {
	key := r.undeliveredKey(userID)
	pipe := r.client.TxPipeline()
	rangeCmd := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("redis: failed to drain undelivered events for %s on %s: %w", userID, key, err)
	}
	items := rangeCmd.Val()
	events := make([]json.RawMessage, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		events = append(events, json.RawMessage(items[i]))
	}
	return events, nil
}

// ClearUndelivered 删除用户的离线队列。
func (r *RedisSessionStore) ClearUndelivered(ctx context.Context, userID string) error {
	key := r.undeliveredKey(userID)
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: failed to clear undelivered events on %s: %w", key, err)
	}
	return nil
}
