package bootstrap

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpHandler "portal-gateway/internal/handler/http"
	wsHandler "portal-gateway/internal/handler/websocket"
	"portal-gateway/internal/hub"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PORTALS_API_URL", "http://portals.local")
	t.Setenv("PORTALS_API_KEY", "portals-key")
	t.Setenv("APERTURE_WS_KEY", "aperture-key")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 10, cfg.MaxRoomMembers)
	assert.Equal(t, 2, cfg.MinPortalMembers)
	assert.False(t, cfg.DestroyPortalWhenEmpty)
	assert.Equal(t, 60*time.Second, cfg.EmptyRoomDestroyDelay)
	assert.Equal(t, 100, cfg.UndeliveredQueueCap)
	assert.Equal(t, 2*time.Minute, cfg.SessionStaleAfter)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MAX_ROOM_MEMBER_COUNT", "4")
	t.Setenv("DESTROY_PORTAL_WHEN_EMPTY", "true")
	t.Setenv("EMPTY_ROOM_PORTAL_DESTROY_SECONDS", "5")
	t.Setenv("SESSION_STALE_AFTER", "30")
	t.Setenv("LOG_LEVEL", "chatty")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxRoomMembers)
	assert.True(t, cfg.DestroyPortalWhenEmpty)
	assert.Equal(t, 5*time.Second, cfg.EmptyRoomDestroyDelay)
	assert.Equal(t, 30*time.Second, cfg.SessionStaleAfter)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_Invalid(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("JWT_SECRET", "")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "JWT_SECRET")

	setRequiredEnv(t)
	t.Setenv("MIN_MEMBER_PORTAL_CREATION_COUNT", "11")
	_, err = LoadConfig()
	assert.Error(t, err)
}

type nopServer struct{}

func (nopServer) Serve(conn *websocket.Conn) *hub.Client {
	_ = conn.Close()
	return nil
}

type nopRooms struct {
	httpHandler.RoomOperations
	httpHandler.ControllerOperations
	httpHandler.PortalCallbacks
}

func TestRouter_Protection(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := LoadConfig()
	require.NoError(t, err)
	cfg.AppEnv = "production"

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var rooms nopRooms
	router := newRouter(cfg, logrus.New(), client, routeHandlers{
		rooms:      httpHandler.NewRoomHandler(rooms),
		controller: httpHandler.NewControllerHandler(rooms),
		internal:   httpHandler.NewInternalHandler(rooms),
		ws:         wsHandler.NewWebSocketHandler(nopServer{}, cfg.CORSAllowedOrigin),
	})

	tests := []struct {
		method, path string
		code         int
	}{
		{http.MethodGet, "/ping", http.StatusOK},
		{http.MethodGet, "/api/rooms", http.StatusUnauthorized},
		{http.MethodPost, "/api/controller/take", http.StatusUnauthorized},
		{http.MethodPut, "/internal/portal", http.StatusUnauthorized},
		{http.MethodOptions, "/api/rooms", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(tt.method, tt.path, nil)
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
		})
	}
}
