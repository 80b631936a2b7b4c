package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"portal-gateway/internal/hub"
)

// Server 接管已升级的连接，由 hub.Hub 实现
type Server interface {
	Serve(conn *websocket.Conn) *hub.Client
}

// WebSocketHandler 负责 WebSocket 升级，认证在连接内通过 identify 帧完成
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	server   Server
}

// NewWebSocketHandler 创建 WebSocketHandler 实例。
// allowedOrigin 为空或 "*" 时允许所有来源。
func NewWebSocketHandler(server Server, allowedOrigin string) *WebSocketHandler {
	if server == nil {
		panic("Server cannot be nil for WebSocketHandler")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if allowedOrigin == "" || allowedOrigin == "*" {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || origin == allowedOrigin
		},
	}

	return &WebSocketHandler{upgrader: upgrader, server: server}
}

// HandleConnection 处理 WebSocket 连接请求
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade 失败时已经写入了 HTTP 错误响应
		logrus.WithError(err).WithField("ip", c.ClientIP()).Warn("WS Handler: Failed to upgrade connection")
		return
	}
	h.server.Serve(conn)
	logrus.WithField("remote_addr", conn.RemoteAddr().String()).Debug("WS Handler: Connection accepted")
}
