package service_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/mock"

	"portal-gateway/internal/domain"
	redisstate "portal-gateway/internal/infra/state/redis"
	"portal-gateway/internal/repository/mocks"
	"portal-gateway/internal/service"
)

type published struct {
	ev         domain.Event
	recipients []string
	roomID     string
	excluding  []string
}

// fakePublisher 记录所有广播
type fakePublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *fakePublisher) Broadcast(_ context.Context, ev domain.Event, recipients []string, excluding ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{ev: ev, recipients: recipients, excluding: excluding})
	return nil
}

func (p *fakePublisher) BroadcastRoom(_ context.Context, ev domain.Event, roomID string, excluding ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{ev: ev, roomID: roomID, excluding: excluding})
	return nil
}

func (p *fakePublisher) ofType(t domain.EventType) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if e.ev.T == t {
			out = append(out, e)
		}
	}
	return out
}

type fakeProvisioner struct {
	mu        sync.Mutex
	creates   []string
	destroys  []string
	createErr error
	queue     json.RawMessage
}

func (p *fakeProvisioner) Create(_ context.Context, roomID string) (json.RawMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates = append(p.creates, roomID)
	return p.queue, p.createErr
}

func (p *fakeProvisioner) Destroy(_ context.Context, _ string, portalID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroys = append(p.destroys, portalID)
	return nil
}

func (p *fakeProvisioner) createCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creates)
}

type fakeTeardown struct {
	mu        sync.Mutex
	scheduled []string
	cancelled []string
}

func (f *fakeTeardown) ScheduleEmptyRoomCheck(_ context.Context, roomID string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, roomID)
	return nil
}

func (f *fakeTeardown) CancelEmptyRoomCheck(_ context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, roomID)
	return nil
}

// roomFixture 用 mock 仓库、miniredis 上的真实会话存储和记录型替身组装 RoomService。
type roomFixture struct {
	users    *mocks.UserRepository
	rooms    *mocks.RoomRepository
	store    *redisstate.RedisSessionStore
	pub      *fakePublisher
	portals  *fakeProvisioner
	teardown *fakeTeardown
	svc      *service.RoomService

	mu      sync.Mutex
	members map[string]*domain.User
	room    domain.Room
}

func newRoomFixture(t *testing.T, room domain.Room, members ...string) *roomFixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &roomFixture{
		users:    new(mocks.UserRepository),
		rooms:    new(mocks.RoomRepository),
		store:    redisstate.NewRedisSessionStore(client, "", 0),
		pub:      &fakePublisher{},
		portals:  &fakeProvisioner{},
		teardown: &fakeTeardown{},
		members:  map[string]*domain.User{},
		room:     room,
	}
	for _, id := range members {
		roomID := room.ID
		f.members[id] = &domain.User{ID: id, Name: id, RoomID: &roomID}
	}

	f.users.On("FindByID", mock.Anything, mock.Anything).Return(func(_ context.Context, id string) *domain.User {
		f.mu.Lock()
		defer f.mu.Unlock()
		u, ok := f.members[id]
		if !ok {
			return &domain.User{ID: id, Name: id}
		}
		cp := *u
		return &cp
	}, nil)
	f.rooms.On("FindByID", mock.Anything, room.ID).Return(func(_ context.Context, _ string) *domain.Room {
		f.mu.Lock()
		defer f.mu.Unlock()
		cp := f.room
		return &cp
	}, nil)

	f.svc = service.NewRoomService(f.users, f.rooms, f.store, f.pub, f.portals, f.teardown,
		service.NewStreamConfig("wss://aperture.example", "aperture-key"),
		service.RoomConfig{MaxMembers: 3, MinPortalMembers: 2, DestroyPortalWhenEmpty: true, EmptyRoomDelay: time.Minute})
	return f
}

// addOutsider 添加一个在其他房间 (或不在房间) 的用户
func (f *roomFixture) addOutsider(id string, roomID *string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[id] = &domain.User{ID: id, Name: id, RoomID: roomID}
}

func (f *roomFixture) setPortal(p domain.PortalAllocation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.room.Portal = p
}

// storeMembership 让 CountMembers 与 SetRoom 读写夹具中的成员表
func (f *roomFixture) storeMembership() {
	f.users.On("CountMembers", mock.Anything, mock.Anything).Return(func(_ context.Context, roomID string) int64 {
		f.mu.Lock()
		defer f.mu.Unlock()
		var n int64
		for _, u := range f.members {
			if u.RoomID != nil && *u.RoomID == roomID {
				n++
			}
		}
		return n
	}, nil)
	f.users.On("SetRoom", mock.Anything, mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		f.mu.Lock()
		defer f.mu.Unlock()
		id := args.String(1)
		roomID := args.Get(2).(*string)
		f.members[id] = &domain.User{ID: id, Name: id, RoomID: roomID}
	})
}

// storePortal 让 ClaimPortal 与 UpdatePortal 作用在夹具的房间上，
// ClaimPortal 只在当前状态属于 from 时迁移，与数据库的条件 UPDATE 一致
func (f *roomFixture) storePortal() {
	f.rooms.On("ClaimPortal", mock.Anything, f.room.ID, mock.Anything, mock.Anything, mock.Anything).
		Return(func(_ context.Context, _ string, from []domain.PortalStatus, to domain.PortalStatus, now time.Time) bool {
			f.mu.Lock()
			defer f.mu.Unlock()
			for _, s := range from {
				if f.room.Portal.Status == s {
					f.room.Portal.Status = to
					f.room.Portal.LastUpdatedAt = now
					return true
				}
			}
			return false
		}, nil)
	f.rooms.On("UpdatePortal", mock.Anything, f.room.ID, mock.Anything).
		Return(func(_ context.Context, _ string, p domain.PortalAllocation) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.room.Portal = p
			return nil
		})
}

func strPtr(s string) *string { return &s }
