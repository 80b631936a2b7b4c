package redisstate_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portal-gateway/internal/domain"
	redisstate "portal-gateway/internal/infra/state/redis"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestSessionStore_SocketConfig(t *testing.T) {
	mr, client := newTestClient(t)
	store := redisstate.NewRedisSessionStore(client, "", 0)
	ctx := context.Background()

	// 没有配置时使用默认值
	cfg, err := store.SocketConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DefaultSocketConfig, cfg)

	mr.HSet("socket_config", "c_heartbeat_interval", "2000")
	mr.HSet("socket_config", "c_authentication_timeout", "not-a-number")

	cfg, err = store.SocketConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, domain.DefaultSocketConfig.ReconnectInterval, cfg.ReconnectInterval)
	assert.Equal(t, domain.DefaultSocketConfig.AuthTimeout, cfg.AuthTimeout, "非法值应回退到默认值")
}

func TestSessionStore_ConnectedAndSessions(t *testing.T) {
	_, client := newTestClient(t)
	store := redisstate.NewRedisSessionStore(client, "gw:", 0)
	ctx := context.Background()

	require.NoError(t, store.AddConnected(ctx, "a"))
	require.NoError(t, store.AddConnected(ctx, "c"))

	connected, err := store.ConnectedAmong(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, connected)

	require.NoError(t, store.RemoveConnected(ctx, "a"))
	connected, err = store.ConnectedAmong(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, connected)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.SaveSession(ctx, domain.Session{ID: "c", Authenticated: true, LastHeartbeatAt: now}))
	sessions, err := store.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "c", sessions[0].ID)
	assert.True(t, sessions[0].LastHeartbeatAt.Equal(now))

	require.NoError(t, store.DeleteSession(ctx, "c"))
	sessions, err = store.Sessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSessionStore_SwapController(t *testing.T) {
	_, client := newTestClient(t)
	store := redisstate.NewRedisSessionStore(client, "", 0)
	ctx := context.Background()

	holder, err := store.Controller(ctx, "room-1")
	require.NoError(t, err)
	assert.Empty(t, holder)

	ok, err := store.SwapController(ctx, "room-1", "", "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	// 已被持有时再次获取失败
	ok, err = store.SwapController(ctx, "room-1", "", "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.SwapController(ctx, "room-1", "alice", "bob")
	require.NoError(t, err)
	assert.True(t, ok)

	holder, err = store.Controller(ctx, "room-1")
	require.NoError(t, err)
	assert.Equal(t, "bob", holder)

	ok, err = store.SwapController(ctx, "room-1", "bob", "")
	require.NoError(t, err)
	assert.True(t, ok)
	holder, err = store.Controller(ctx, "room-1")
	require.NoError(t, err)
	assert.Empty(t, holder)
}

func TestSessionStore_SwapController_ConcurrentTakeHasSingleWinner(t *testing.T) {
	_, client := newTestClient(t)
	store := redisstate.NewRedisSessionStore(client, "", 0)
	ctx := context.Background()

	const contenders = 20
	var wins int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			ok, err := store.SwapController(ctx, "room-race", "", id)
			assert.NoError(t, err)
			if ok {
				atomic.AddInt32(&wins, 1)
			}
		}(fmt.Sprintf("user-%d", i))
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins, "只能有一个请求拿到控制权")
}

func TestSessionStore_UndeliveredQueue(t *testing.T) {
	_, client := newTestClient(t)
	store := redisstate.NewRedisSessionStore(client, "", 3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, store.EnqueueUndelivered(ctx, "u", []byte(fmt.Sprintf(`{"n":%d}`, i))))
	}

	events, err := store.DrainUndelivered(ctx, "u")
	require.NoError(t, err)
	require.Len(t, events, 3, "超过上限时丢弃最旧的事件")
	assert.JSONEq(t, `{"n":3}`, string(events[0]))
	assert.JSONEq(t, `{"n":4}`, string(events[1]))
	assert.JSONEq(t, `{"n":5}`, string(events[2]))

	// 读取后队列被清空
	events, err = store.DrainUndelivered(ctx, "u")
	require.NoError(t, err)
	assert.Empty(t, events)

	require.NoError(t, store.EnqueueUndelivered(ctx, "u", []byte(`{"n":6}`)))
	require.NoError(t, store.ClearUndelivered(ctx, "u"))
	events, err = store.DrainUndelivered(ctx, "u")
	require.NoError(t, err)
	assert.Empty(t, events)
}
