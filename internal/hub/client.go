package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"portal-gateway/internal/domain"
)

// 协议使用的关闭码
const (
	CloseHeartbeatExhausted = websocket.CloseGoingAway               // 1001
	CloseMalformedFrame     = websocket.CloseInvalidFramePayloadData // 1007
	CloseAuthTimeout        = websocket.ClosePolicyViolation         // 1008
	CloseAuthFailed         = websocket.CloseTryAgainLater           // 1013
)

// userRefreshInterval 转发控制输入前刷新缓存用户的最小间隔
const userRefreshInterval = 15 * time.Second

// Client 代表一个 WebSocket 连接及其协议状态。
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	cfg  domain.SocketConfig
	send chan []byte

	mu              sync.Mutex
	user            *domain.User
	authenticated   bool
	lastHeartbeatAt time.Time
	lastUserRefresh time.Time

	closeOnce sync.Once
	closeCode int
	done      chan struct{}
}

func newClient(h *Hub, conn *websocket.Conn, cfg domain.SocketConfig) *Client {
	return &Client{
		hub:  h,
		conn: conn,
		cfg:  cfg,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// identity 返回认证后的用户 ID。
func (c *Client) identity() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.authenticated || c.user == nil {
		return "", false
	}
	return c.user.ID, true
}

func (c *Client) snapshot() (*domain.User, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user, c.lastUserRefresh
}

func (c *Client) logCtx() *logrus.Entry {
	if id, ok := c.identity(); ok {
		return logrus.WithField("user_id", id)
	}
	return logrus.WithField("remote_addr", c.conn.RemoteAddr().String())
}

// close 以 code 关闭连接，code 为 0 时不发送关闭帧。可重复调用。
func (c *Client) close(code int) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		close(c.done)
	})
}

// queue 把已序列化的帧放入发送队列，队列满时丢弃。
func (c *Client) queue(message []byte) {
	select {
	case <-c.done:
	case c.send <- message:
	default:
		c.logCtx().Warn("Client send channel full, message dropped")
	}
}

func (c *Client) sendEvent(ev domain.Event) {
	b, err := ev.Encode()
	if err != nil {
		c.logCtx().WithError(err).Error("Failed to encode event")
		return
	}
	c.queue(b)
}

// readPump 读取并处理客户端帧，同一连接的帧按顺序处理。
func (c *Client) readPump() {
	defer func() {
		c.close(0)
		c.hub.unregister(c)
		c.hub.clients.Done()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logCtx().WithError(err).Debug("WebSocket read error (unexpected close)")
			}
			return
		}
		if err := c.handleFrame(data); err != nil {
			if errors.Is(err, domain.ErrMalformedFrame) {
				c.close(CloseMalformedFrame)
			}
			return
		}
	}
}

// writePump 是连接唯一的写入者。
func (c *Client) writePump() {
	defer c.conn.Close()
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logCtx().WithError(err).Debug("Failed to write message to websocket")
				c.close(0)
			}
		case <-c.done:
			if c.closeCode != 0 {
				frame := websocket.FormatCloseMessage(c.closeCode, "")
				_ = c.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(writeWait))
			}
			return
		}
	}
}

// watch 运行认证超时和心跳检查。
func (c *Client) watch() {
	authTimer := time.NewTimer(c.cfg.AuthTimeout)
	defer authTimer.Stop()
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	monitor := newHeartbeatMonitor(c.cfg.HeartbeatInterval, domain.MaxHeartbeatMisses)
	authC := authTimer.C
	for {
		select {
		case <-c.done:
			return
		case <-authC:
			authC = nil
			if _, ok := c.identity(); !ok {
				c.logCtx().Info("Authentication timed out")
				c.close(CloseAuthTimeout)
				return
			}
		case now := <-ticker.C:
			c.mu.Lock()
			authenticated, last := c.authenticated, c.lastHeartbeatAt
			c.mu.Unlock()
			if !authenticated {
				continue
			}
			switch monitor.check(last, now) {
			case heartbeatForce:
				c.sendEvent(domain.Event{Op: domain.OpHeartbeat, D: map[string]int{"tries": monitor.misses, "max": monitor.max}})
			case heartbeatEvict:
				c.logCtx().Info("Heartbeat exhausted, closing connection")
				c.close(CloseHeartbeatExhausted)
				return
			}
		}
	}
}

// handleFrame 按 op 分发客户端帧。只有格式错误会返回错误。
func (c *Client) handleFrame(data []byte) error {
	frame, err := domain.ParseFrame(data)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	switch frame.Op {
	case domain.OpHeartbeat:
		c.heartbeat(ctx)
	case domain.OpIdentify:
		c.identify(ctx, frame.D)
	case domain.OpDispatch:
		c.dispatch(ctx, frame)
	default:
		c.logCtx().WithField("op", frame.Op).Debug("Ignoring frame with unknown op")
	}
	return nil
}

func (c *Client) heartbeat(ctx context.Context) {
	now := time.Now()
	c.mu.Lock()
	c.lastHeartbeatAt = now
	authenticated := c.authenticated
	var session domain.Session
	if authenticated {
		session = domain.Session{ID: c.user.ID, Authenticated: true, LastHeartbeatAt: now}
	}
	c.mu.Unlock()

	if authenticated {
		if err := c.hub.sessions.SaveSession(ctx, session); err != nil {
			c.logCtx().WithError(err).Warn("Failed to save session mirror")
		}
	}
	c.sendEvent(domain.Event{Op: domain.OpHeartbeatAck, D: map[string]any{}})
}

// identify 认证连接：保存会话，回放离线队列，然后处理房间的上线逻辑。
func (c *Client) identify(ctx context.Context, d json.RawMessage) {
	if _, ok := c.identity(); ok {
		return
	}

	user, err := c.hub.auth.Authenticate(ctx, gjson.GetBytes(d, "token").String())
	if err != nil {
		c.logCtx().WithError(err).Info("Identify failed")
		c.close(CloseAuthFailed)
		return
	}

	now := time.Now()
	c.mu.Lock()
	c.user = user
	c.authenticated = true
	c.lastHeartbeatAt = now
	c.lastUserRefresh = now
	c.mu.Unlock()
	c.hub.register(c, user.ID)

	logCtx := logrus.WithField("user_id", user.ID)
	if err := c.hub.sessions.SaveSession(ctx, domain.Session{ID: user.ID, Authenticated: true, LastHeartbeatAt: now}); err != nil {
		logCtx.WithError(err).Warn("Failed to save session mirror")
	}
	if err := c.hub.sessions.AddConnected(ctx, user.ID); err != nil {
		logCtx.WithError(err).Error("Failed to add user to connected clients")
	}

	undelivered, err := c.hub.sessions.DrainUndelivered(ctx, user.ID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to drain undelivered events")
	}
	for s, raw := range undelivered {
		tagged, err := domain.WithSequence(raw, s)
		if err != nil {
			logCtx.WithError(err).Warn("Skipping unreadable undelivered event")
			continue
		}
		c.queue(tagged)
	}

	events, err := c.hub.presence.HandleOnline(ctx, user)
	if err != nil {
		logCtx.WithError(err).Error("Online handling failed")
	}
	for _, ev := range events {
		c.sendEvent(ev)
	}
	logCtx.WithField("undelivered", len(undelivered)).Info("Client authenticated")
}

// dispatch 处理 op 0 帧。未认证连接的应用帧被忽略。
func (c *Client) dispatch(ctx context.Context, frame *domain.Frame) {
	user, _ := c.snapshot()
	if user == nil {
		return
	}

	if frame.T == domain.EventTypingUpdate {
		if !user.InRoom() {
			return
		}
		typing := gjson.GetBytes(frame.D, "typing").Bool()
		ev := domain.NewEvent(domain.EventTypingUpdate, map[string]any{"u": user.ID, "typing": typing})
		if err := c.hub.publisher.BroadcastRoom(ctx, ev, user.Room(), user.ID); err != nil {
			c.logCtx().WithError(err).Warn("Failed to broadcast TYPING_UPDATE")
		}
		return
	}

	if !domain.IsControlType(frame.T) {
		c.logCtx().WithField("type", frame.T).Debug("Ignoring unsupported event type")
		return
	}
	input, err := domain.ParseControlInput(frame.T, frame.D)
	if err != nil {
		return
	}

	user = c.refreshUser(ctx)
	if err := c.hub.relay.Relay(ctx, user, input); err != nil {
		c.logCtx().WithError(err).WithField("type", frame.T).Debug("Control input dropped")
	}
}

// refreshUser 在缓存超过刷新间隔时重新加载用户，以获取外部的房间变更。
func (c *Client) refreshUser(ctx context.Context) *domain.User {
	user, refreshedAt := c.snapshot()
	if time.Since(refreshedAt) <= userRefreshInterval {
		return user
	}
	fresh, err := c.hub.auth.FindUser(ctx, user.ID)
	if err != nil {
		c.logCtx().WithError(err).Warn("Failed to refresh cached user")
		return user
	}
	c.mu.Lock()
	c.user = fresh
	c.lastUserRefresh = time.Now()
	c.mu.Unlock()
	return fresh
}
