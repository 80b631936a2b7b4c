package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"portal-gateway/internal/domain"
	"portal-gateway/internal/repository"
)

// 包级别的 WebSocket 常量，供 hub 和 client 使用
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 16 * 1024

	// 单次存储或服务调用的超时
	opTimeout = 5 * time.Second

	sendBufferSize = 256
)

// Hub 维护本进程内的连接，并把总线上的信封投递给本地连接。
// 已认证的连接按用户 ID 索引，同一用户可以有多个连接。
type Hub struct {
	auth      Authenticator
	presence  Presence
	relay     InputRelay
	publisher Publisher
	sessions  repository.SessionStore
	bus       Subscriber

	// 保护 conns、users 和 closing 的读写锁
	mu      sync.RWMutex
	conns   map[*Client]struct{}
	users   map[string]map[*Client]struct{}
	closing bool

	// 每个连接的 readPump 退出并完成下线处理后 Done
	clients sync.WaitGroup

	subMu sync.Mutex
	sub   repository.Subscription
}

// NewHub 创建并返回一个新的 Hub 实例
func NewHub(
	auth Authenticator,
	presence Presence,
	relay InputRelay,
	publisher Publisher,
	sessions repository.SessionStore,
	bus Subscriber,
) *Hub {
	if auth == nil || presence == nil || relay == nil || publisher == nil {
		panic("Authenticator, Presence, InputRelay and Publisher cannot be nil for Hub")
	}
	if sessions == nil || bus == nil {
		panic("SessionStore and Subscriber cannot be nil for Hub")
	}
	return &Hub{
		auth:      auth,
		presence:  presence,
		relay:     relay,
		publisher: publisher,
		sessions:  sessions,
		bus:       bus,
		conns:     make(map[*Client]struct{}),
		users:     make(map[string]map[*Client]struct{}),
	}
}

// Start 订阅扇出频道并在后台投递信封。订阅生效后才返回。
func (h *Hub) Start(ctx context.Context) error {
	sub, err := h.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	h.subMu.Lock()
	h.sub = sub
	h.subMu.Unlock()

	go h.run(ctx, sub)
	return nil
}

func (h *Hub) run(ctx context.Context, sub repository.Subscription) {
	log := logrus.WithField("component", "hub")
	log.Info("Hub is running...")
	for {
		select {
		case <-ctx.Done():
			log.Info("Hub is shutting down...")
			return
		case env, ok := <-sub.Envelopes():
			if !ok {
				log.Info("Hub subscription closed")
				return
			}
			h.deliver(env)
		}
	}
}

// Serve 接管一个已升级的连接：发送 Hello，启动读写和计时 goroutine。
// Hub 关闭后直接以 1001 关闭连接并返回 nil。
func (h *Hub) Serve(conn *websocket.Conn) *Client {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	cfg, err := h.sessions.SocketConfig(ctx)
	cancel()
	if err != nil {
		logrus.WithError(err).Warn("Failed to read socket config, using defaults")
		cfg = domain.DefaultSocketConfig
	}

	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
		_ = conn.Close()
		return nil
	}
	client := newClient(h, conn, cfg)
	h.conns[client] = struct{}{}
	h.clients.Add(1)
	h.mu.Unlock()

	client.sendEvent(cfg.Hello())
	go client.writePump()
	go client.watch()
	go client.readPump()
	return client
}

// deliver 把信封投递给本地匹配的已认证连接。
func (h *Hub) deliver(env domain.Envelope) {
	if len(env.Recipients) == 0 {
		return
	}

	h.mu.RLock()
	var targets []*Client
	if env.IsBroadcastAll() {
		for _, clients := range h.users {
			for c := range clients {
				targets = append(targets, c)
			}
		}
	} else {
		for _, id := range env.Recipients {
			for c := range h.users[id] {
				targets = append(targets, c)
			}
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}
	logrus.WithFields(logrus.Fields{
		"message_size":    len(env.Message),
		"recipient_count": len(targets),
	}).Debug("Delivering envelope to local clients")

	for _, c := range targets {
		c.queue(env.Message)
	}
}

// register 在连接认证成功后按用户 ID 索引。
func (h *Hub) register(c *Client, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.users[userID]; !ok {
		h.users[userID] = make(map[*Client]struct{})
	}
	h.users[userID][c] = struct{}{}
}

// unregister 移除连接。该用户在本进程没有其他连接时，清理共享会话并做下线处理。
func (h *Hub) unregister(c *Client) {
	userID, authenticated := c.identity()

	h.mu.Lock()
	delete(h.conns, c)
	lastLocal := false
	if authenticated {
		if clients, ok := h.users[userID]; ok {
			delete(clients, c)
			if len(clients) == 0 {
				delete(h.users, userID)
				lastLocal = true
			}
		}
	}
	h.mu.Unlock()

	if !lastLocal {
		return
	}

	logCtx := logrus.WithField("user_id", userID)
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := h.sessions.RemoveConnected(ctx, userID); err != nil {
		logCtx.WithError(err).Error("Failed to remove user from connected clients")
	}
	if err := h.sessions.DeleteSession(ctx, userID); err != nil {
		logCtx.WithError(err).Error("Failed to delete session mirror")
	}
	if err := h.presence.HandleOffline(ctx, userID); err != nil {
		logCtx.WithError(err).Error("Offline handling failed")
	}
	logCtx.Info("Client unregistered from Hub")
}

// ClientCount 返回本进程的连接数。
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Shutdown 关闭订阅和所有连接，等待每个连接的下线处理完成，最多等到 ctx 结束。
// 之后到达的连接会被直接关闭。
func (h *Hub) Shutdown(ctx context.Context) error {
	h.subMu.Lock()
	if h.sub != nil {
		if err := h.sub.Close(); err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithError(err).Warn("Failed to close hub subscription")
		}
		h.sub = nil
	}
	h.subMu.Unlock()

	h.mu.Lock()
	h.closing = true
	clients := make([]*Client, 0, len(h.conns))
	for c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close(websocket.CloseGoingAway)
	}

	drained := make(chan struct{})
	go func() {
		h.clients.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		logrus.WithField("clients", len(clients)).Info("Hub shut down")
		return nil
	case <-ctx.Done():
		logrus.WithField("clients", h.ClientCount()).Warn("Hub shutdown timed out before all clients drained")
		return ctx.Err()
	}
}
