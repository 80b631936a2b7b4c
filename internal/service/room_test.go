package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"portal-gateway/internal/domain"
	"portal-gateway/internal/repository"
	"portal-gateway/internal/service"
)

func TestRoomService_ControllerHandOff(t *testing.T) {
	// Arrange
	f := newRoomFixture(t, domain.Room{ID: "r", OwnerID: "owner"}, "owner", "a", "b")
	f.addOutsider("x", nil)
	f.addOutsider("y", strPtr("other-room"))
	f.rooms.On("UpdateController", mock.Anything, "r", mock.Anything).Return(nil)
	ctx := context.Background()

	holder := func() string {
		h, err := f.store.Controller(ctx, "r")
		require.NoError(t, err)
		return h
	}

	// A 获取控制权
	require.NoError(t, f.svc.TakeControl(ctx, "a"))
	assert.Equal(t, "a", holder())
	updates := f.pub.ofType(domain.EventControllerUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, []string{"a"}, updates[0].excluding, "发起者不会收到自己的 CONTROLLER_UPDATE")
	assert.Equal(t, map[string]any{"u": "a"}, updates[0].ev.D)

	// B 不能抢占，也不能转交或释放
	assert.ErrorIs(t, f.svc.TakeControl(ctx, "b"), service.ErrControllerUnavailable)
	assert.ErrorIs(t, f.svc.GiveControl(ctx, "b", "owner"), service.ErrUserDoesNotHaveRemote)
	assert.ErrorIs(t, f.svc.ReleaseControl(ctx, "b"), service.ErrUserIsNotPermitted)
	assert.Equal(t, "a", holder())

	// 不在房间的用户
	assert.ErrorIs(t, f.svc.TakeControl(ctx, "x"), service.ErrUserNotInRoom)
	assert.ErrorIs(t, f.svc.GiveControl(ctx, "a", "y"), service.ErrUserNotInRoom)

	// A 转交给 B
	require.NoError(t, f.svc.GiveControl(ctx, "a", "b"))
	assert.Equal(t, "b", holder())

	// 房主可以释放任何人的控制权
	require.NoError(t, f.svc.ReleaseControl(ctx, "owner"))
	assert.Empty(t, holder())
	updates = f.pub.ofType(domain.EventControllerUpdate)
	require.Len(t, updates, 3)
	assert.Equal(t, map[string]any{"u": nil}, updates[2].ev.D)

	// 无人控制时释放是空操作
	require.NoError(t, f.svc.ReleaseControl(ctx, "owner"))
	assert.Len(t, f.pub.ofType(domain.EventControllerUpdate), 3)
}

func TestRoomService_ConcurrentTakeControl(t *testing.T) {
	members := []string{"m0", "m1", "m2", "m3", "m4", "m5", "m6", "m7"}
	f := newRoomFixture(t, domain.Room{ID: "r", OwnerID: "m0"}, members...)
	f.rooms.On("UpdateController", mock.Anything, "r", mock.Anything).Return(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan error, len(members))
	for _, id := range members {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			results <- f.svc.TakeControl(ctx, id)
		}(id)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, service.ErrControllerUnavailable)
	}
	assert.Equal(t, 1, wins)
}

func TestRoomService_CreatePortal_OnlyOnePerGateCrossing(t *testing.T) {
	f := newRoomFixture(t, domain.Room{ID: "r", OwnerID: "a", Portal: domain.PortalAllocation{Status: domain.PortalWaiting}}, "a")
	f.storeMembership()
	f.storePortal()
	f.portals.queue = json.RawMessage(`{"pos":0,"len":1}`)
	ctx := context.Background()

	// 1 -> 2 人时越过阈值，2 -> 3 人时门户已是 requested
	_, err := f.svc.JoinRoom(ctx, "b", "r")
	require.NoError(t, err)
	_, err = f.svc.JoinRoom(ctx, "c", "r")
	require.NoError(t, err)

	room, err := f.rooms.FindByID(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, domain.PortalRequested, room.Portal.Status)

	// requested 状态下成员重新认证
	_, err = f.svc.HandleOnline(ctx, &domain.User{ID: "a", RoomID: strPtr("r")})
	require.NoError(t, err)

	// 直接重复调用同样不会再次请求
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.svc.CreatePortal(ctx, "r"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.portals.createCount(), "门户服务只应被请求一次")
	assert.Len(t, f.pub.ofType(domain.EventPortalUpdate), 1)
	queue := f.pub.ofType(domain.EventPortalQueueUpdate)
	require.Len(t, queue, 1)
	assert.Equal(t, "r", queue[0].roomID)
}

func TestRoomService_CreatePortal_RetriesAfterError(t *testing.T) {
	f := newRoomFixture(t, domain.Room{ID: "r", OwnerID: "a", Portal: domain.PortalAllocation{Status: domain.PortalWaiting}}, "a", "b")
	f.storeMembership()
	f.storePortal()
	f.portals.createErr = errors.New("portals down")
	ctx := context.Background()

	assert.Error(t, f.svc.CreatePortal(ctx, "r"))
	room, err := f.rooms.FindByID(ctx, "r")
	require.NoError(t, err)
	assert.Equal(t, domain.PortalError, room.Portal.Status)

	f.portals.mu.Lock()
	f.portals.createErr = nil
	f.portals.mu.Unlock()
	_, err = f.svc.HandleOnline(ctx, &domain.User{ID: "b", RoomID: strPtr("r")})
	require.NoError(t, err)
	assert.Equal(t, 2, f.portals.createCount())
}

func TestRoomService_CreatePortal_ProvisionFailureMarksError(t *testing.T) {
	f := newRoomFixture(t, domain.Room{ID: "r", OwnerID: "a", Portal: domain.PortalAllocation{Status: domain.PortalWaiting}}, "a", "b")
	f.rooms.On("ClaimPortal", mock.Anything, "r", mock.Anything, domain.PortalRequested, mock.Anything).Return(true, nil)
	f.rooms.On("UpdatePortal", mock.Anything, "r", mock.MatchedBy(func(p domain.PortalAllocation) bool {
		return p.Status == domain.PortalError
	})).Return(nil).Once()
	f.portals.createErr = errors.New("portals down")

	err := f.svc.CreatePortal(context.Background(), "r")

	assert.Error(t, err)
	f.rooms.AssertExpectations(t)
	updates := f.pub.ofType(domain.EventPortalUpdate)
	require.Len(t, updates, 2)
	last, ok := updates[1].ev.D.(domain.PortalAllocation)
	require.True(t, ok)
	assert.Equal(t, domain.PortalError, last.Status)
}

func TestRoomService_JoinRoom(t *testing.T) {
	t.Run("full room", func(t *testing.T) {
		f := newRoomFixture(t, domain.Room{ID: "r", OwnerID: "a"}, "a")
		f.users.On("CountMembers", mock.Anything, "r").Return(int64(3), nil)

		_, err := f.svc.JoinRoom(context.Background(), "newcomer", "r")

		assert.ErrorIs(t, err, service.ErrTooManyMembers)
		f.users.AssertNotCalled(t, "SetRoom", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("already in room", func(t *testing.T) {
		f := newRoomFixture(t, domain.Room{ID: "r", OwnerID: "a"}, "a")
		_, err := f.svc.JoinRoom(context.Background(), "a", "r")
		assert.ErrorIs(t, err, service.ErrUserAlreadyInRoom)
	})

	t.Run("crossing threshold requests portal", func(t *testing.T) {
		f := newRoomFixture(t, domain.Room{ID: "r", OwnerID: "a", Portal: domain.PortalAllocation{Status: domain.PortalWaiting}}, "a")
		f.users.On("CountMembers", mock.Anything, "r").Return(int64(1), nil)
		f.users.On("SetRoom", mock.Anything, "b", mock.Anything).Return(nil).Once()
		f.rooms.On("ClaimPortal", mock.Anything, "r", mock.Anything, domain.PortalRequested, mock.Anything).Return(true, nil).Once()

		room, err := f.svc.JoinRoom(context.Background(), "b", "r")

		require.NoError(t, err)
		assert.Equal(t, "r", room.ID)
		joins := f.pub.ofType(domain.EventUserJoin)
		require.Len(t, joins, 1)
		assert.Equal(t, []string{"b"}, joins[0].excluding)
		assert.Equal(t, 1, f.portals.createCount())
		f.users.AssertExpectations(t)
	})
}

func TestRoomService_CreateRoom_Validation(t *testing.T) {
	f := newRoomFixture(t, domain.Room{ID: "r", OwnerID: "a"}, "a")
	ctx := context.Background()

	_, err := f.svc.CreateRoom(ctx, "solo", "   ")
	assert.ErrorIs(t, err, service.ErrRoomNameTooShort)
	_, err = f.svc.CreateRoom(ctx, "solo", "this room name is far too long to be accepted")
	assert.ErrorIs(t, err, service.ErrRoomNameTooLong)
	_, err = f.svc.CreateRoom(ctx, "a", "second")
	assert.ErrorIs(t, err, service.ErrUserAlreadyInRoom)

	f.rooms.On("Create", mock.Anything, mock.AnythingOfType("*domain.Room")).Return(nil).Once()
	f.users.On("SetRoom", mock.Anything, "solo", mock.Anything).Return(nil).Once()

	room, err := f.svc.CreateRoom(ctx, "solo", " movie night ")
	require.NoError(t, err)
	assert.Equal(t, "movie night", room.Name)
	assert.Equal(t, "solo", room.OwnerID)
	assert.Equal(t, "solo", room.Controller())
	assert.Equal(t, domain.PortalWaiting, room.Portal.Status)

	holder, err := f.store.Controller(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, "solo", holder)
}

func TestRoomService_LeaveRoom_TransfersOwnershipAndControl(t *testing.T) {
	f := newRoomFixture(t, domain.Room{ID: "r", OwnerID: "a"}, "a", "b", "c")
	ctx := context.Background()
	_, err := f.store.SwapController(ctx, "r", "", "a")
	require.NoError(t, err)
	require.NoError(t, f.store.EnqueueUndelivered(ctx, "a", []byte(`{}`)))

	f.users.On("MemberIDs", mock.Anything, "r").Return([]string{"a", "b", "c"}, nil)
	f.users.On("SetRoom", mock.Anything, "a", (*string)(nil)).Return(nil).Once()
	f.rooms.On("UpdateOwner", mock.Anything, "r", "b").Return(nil).Once()
	f.rooms.On("UpdateController", mock.Anything, "r", (*string)(nil)).Return(nil).Once()

	require.NoError(t, f.svc.LeaveRoom(ctx, "a"))

	f.users.AssertExpectations(t)
	f.rooms.AssertExpectations(t)
	owners := f.pub.ofType(domain.EventOwnerUpdate)
	require.Len(t, owners, 1)
	assert.Equal(t, "r", owners[0].roomID)

	leaves := f.pub.ofType(domain.EventUserLeave)
	require.Len(t, leaves, 1)
	assert.Equal(t, []string{"b", "c"}, leaves[0].recipients)

	holder, err := f.store.Controller(ctx, "r")
	require.NoError(t, err)
	assert.Empty(t, holder)

	queued, err := f.store.DrainUndelivered(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, queued)
}

func TestRoomService_LeaveRoom_LastMemberDestroysRoom(t *testing.T) {
	f := newRoomFixture(t, domain.Room{ID: "r", OwnerID: "a",
		Portal: domain.PortalAllocation{ID: strPtr("p-1"), Status: domain.PortalOpen}}, "a")
	ctx := context.Background()

	f.users.On("MemberIDs", mock.Anything, "r").Return([]string{"a"}, nil)
	f.users.On("ClearRoom", mock.Anything, "r").Return(nil).Once()
	f.rooms.On("Delete", mock.Anything, "r").Return(nil).Once()

	require.NoError(t, f.svc.LeaveRoom(ctx, "a"))

	f.users.AssertExpectations(t)
	f.rooms.AssertExpectations(t)
	assert.Len(t, f.pub.ofType(domain.EventRoomDestroy), 1)
	assert.Equal(t, []string{"p-1"}, f.portals.destroys)
	assert.Equal(t, []string{"r"}, f.teardown.cancelled)
}

func TestRoomService_KickAndDelete_RequireOwner(t *testing.T) {
	f := newRoomFixture(t, domain.Room{ID: "r", OwnerID: "a"}, "a", "b")
	f.addOutsider("z", strPtr("elsewhere"))
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.KickMember(ctx, "b", "a"), service.ErrUserIsNotPermitted)
	assert.ErrorIs(t, f.svc.DeleteRoom(ctx, "b"), service.ErrUserIsNotPermitted)
	assert.ErrorIs(t, f.svc.KickMember(ctx, "a", "z"), service.ErrMemberNotFound)
	assert.ErrorIs(t, f.svc.ChangeRoomType(ctx, "b", domain.RoomTypeVM), service.ErrUserIsNotPermitted)
	assert.ErrorIs(t, f.svc.RestartPortal(ctx, "b"), service.ErrUserIsNotPermitted)
	assert.ErrorIs(t, f.svc.RestartPortal(ctx, "a"), service.ErrPortalNotOpen)
}

func TestRoomService_ChangeRoomType(t *testing.T) {
	f := newRoomFixture(t, domain.Room{ID: "r", OwnerID: "a"}, "a")
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.ChangeRoomType(ctx, "a", domain.RoomType("container")), service.ErrInvalidRoomType)

	f.rooms.On("UpdateType", mock.Anything, "r", domain.RoomTypeVM).Return(nil).Once()
	require.NoError(t, f.svc.ChangeRoomType(ctx, "a", domain.RoomTypeVM))
	f.rooms.AssertExpectations(t)
}

func TestRoomService_HandlePortalStatus_OpenSendsStreamConfig(t *testing.T) {
	f := newRoomFixture(t, domain.Room{ID: "r", OwnerID: "a",
		Portal: domain.PortalAllocation{ID: strPtr("p-1"), Status: domain.PortalStarting}}, "a", "b")
	ctx := context.Background()
	require.NoError(t, f.store.AddConnected(ctx, "a"))

	f.rooms.On("FindByPortalID", mock.Anything, "p-1").Return(&domain.Room{ID: "r"}, nil)
	f.rooms.On("UpdatePortal", mock.Anything, "r", mock.Anything).Run(func(args mock.Arguments) {
		f.setPortal(args.Get(2).(domain.PortalAllocation))
	}).Return(nil)
	f.users.On("MemberIDs", mock.Anything, "r").Return([]string{"a", "b"}, nil)

	open := domain.PortalOpen
	noJanus := -1
	require.NoError(t, f.svc.HandlePortalStatus(ctx, "p-1", domain.PortalPatch{Status: &open, JanusID: &noJanus}))

	updates := f.pub.ofType(domain.EventPortalUpdate)
	require.Len(t, updates, 1)
	assert.Equal(t, []string{"a"}, updates[0].recipients, "只通知在线成员")

	configs := f.pub.ofType(domain.EventApertureConfig)
	require.Len(t, configs, 1)
	d, ok := configs[0].ev.D.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "wss://aperture.example", d["ws"])
	assert.NotEmpty(t, d["t"])

	// janus 门户下发 JANUS_CONFIG
	janus := 4
	ip := "10.1.1.1"
	require.NoError(t, f.svc.HandlePortalStatus(ctx, "p-1", domain.PortalPatch{JanusID: &janus, JanusIP: &ip}))
	janusConfigs := f.pub.ofType(domain.EventJanusConfig)
	require.Len(t, janusConfigs, 1)
	assert.Equal(t, map[string]any{"id": 4, "ip": "10.1.1.1"}, janusConfigs[0].ev.D)
}

func TestRoomService_HandlePortalStatus_UnknownPortal(t *testing.T) {
	f := newRoomFixture(t, domain.Room{ID: "r", OwnerID: "a"}, "a")
	f.rooms.On("FindByPortalID", mock.Anything, "missing").Return(nil, repository.ErrRoomNotFound)

	err := f.svc.HandlePortalStatus(context.Background(), "missing", domain.PortalPatch{})

	assert.ErrorIs(t, err, service.ErrRoomNotFound)
}

func TestRoomService_BroadcastQueue(t *testing.T) {
	f := newRoomFixture(t, domain.Room{ID: "r", OwnerID: "a"}, "a")

	f.svc.BroadcastQueue(context.Background(), []string{"r1", "r2"})

	queue := f.pub.ofType(domain.EventPortalQueueUpdate)
	require.Len(t, queue, 2)
	assert.Equal(t, "r2", queue[1].roomID)
	assert.Equal(t, map[string]int{"pos": 1, "len": 2}, queue[1].ev.D)
}

func TestRoomService_Presence(t *testing.T) {
	f := newRoomFixture(t, domain.Room{ID: "r", OwnerID: "a",
		Portal: domain.PortalAllocation{ID: strPtr("p-1"), Status: domain.PortalOpen, JanusID: intPtr(2), JanusIP: "10.0.0.2"}}, "a", "b")
	ctx := context.Background()
	_, err := f.store.SwapController(ctx, "r", "", "b")
	require.NoError(t, err)
	f.rooms.On("UpdateController", mock.Anything, "r", (*string)(nil)).Return(nil).Once()

	user := &domain.User{ID: "a", RoomID: strPtr("r")}
	events, err := f.svc.HandleOnline(ctx, user)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventJanusConfig, events[0].T)
	assert.Equal(t, []string{"r"}, f.teardown.cancelled)

	// 控制者下线时释放控制权并调度空房间检查
	require.NoError(t, f.svc.HandleOffline(ctx, "b"))
	holder, err := f.store.Controller(ctx, "r")
	require.NoError(t, err)
	assert.Empty(t, holder)
	assert.Equal(t, []string{"r"}, f.teardown.scheduled)
	assert.Len(t, f.pub.ofType(domain.EventPresenceUpdate), 2)
	f.rooms.AssertExpectations(t)
}

func TestRoomService_DestroyPortalIfEmpty(t *testing.T) {
	f := newRoomFixture(t, domain.Room{ID: "r", OwnerID: "a",
		Portal: domain.PortalAllocation{ID: strPtr("p-1"), Status: domain.PortalOpen}}, "a")
	ctx := context.Background()
	f.users.On("MemberIDs", mock.Anything, "r").Return([]string{"a"}, nil)

	// 仍有在线成员时保留门户
	require.NoError(t, f.store.AddConnected(ctx, "a"))
	require.NoError(t, f.svc.DestroyPortalIfEmpty(ctx, "r"))
	assert.Empty(t, f.portals.destroys)

	require.NoError(t, f.store.RemoveConnected(ctx, "a"))
	f.rooms.On("UpdatePortal", mock.Anything, "r", mock.MatchedBy(func(p domain.PortalAllocation) bool {
		return p.Status == domain.PortalClosed && p.ID == nil
	})).Run(func(args mock.Arguments) {
		f.setPortal(args.Get(2).(domain.PortalAllocation))
	}).Return(nil).Once()

	require.NoError(t, f.svc.DestroyPortalIfEmpty(ctx, "r"))
	assert.Equal(t, []string{"p-1"}, f.portals.destroys)

	// 再次执行时门户已关闭，不做任何事
	require.NoError(t, f.svc.DestroyPortalIfEmpty(ctx, "r"))
	assert.Equal(t, []string{"p-1"}, f.portals.destroys)
	f.rooms.AssertExpectations(t)
}

func intPtr(i int) *int { return &i }
