package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"portal-gateway/internal/domain"
	"portal-gateway/internal/repository"
)

// portalCacheTTL 房间门户 ID 缓存的有效期。
const portalCacheTTL = 15 * time.Second

type cachedPortal struct {
	id       string
	loadedAt time.Time
}

// ControlService 把控制者的输入转发到门户控制频道。
type ControlService struct {
	roomRepo repository.RoomRepository
	sessions repository.SessionStore
	bus      repository.EventBus

	mu      sync.Mutex
	portals map[string]cachedPortal
	now     func() time.Time
}

// NewControlService 创建 ControlService 实例。
func NewControlService(roomRepo repository.RoomRepository, sessions repository.SessionStore, bus repository.EventBus) *ControlService {
	if roomRepo == nil || sessions == nil || bus == nil {
		panic("RoomRepository, SessionStore and EventBus cannot be nil for ControlService")
	}
	return &ControlService{
		roomRepo: roomRepo,
		sessions: sessions,
		bus:      bus,
		portals:  make(map[string]cachedPortal),
		now:      time.Now,
	}
}

// Relay 校验用户持有房间的控制权且门户存在，然后发布
// {op:0, d:{t:<portalId>, ...输入字段}, t:<输入类型>}。
func (s *ControlService) Relay(ctx context.Context, user *domain.User, input domain.ControlInput) error {
	if user == nil || !user.InRoom() {
		return ErrUserNotInRoom
	}
	roomID := user.Room()

	holder, err := s.sessions.Controller(ctx, roomID)
	if err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to read controller for relay")
		return ErrInternalServer
	}
	if holder != user.ID {
		return ErrUserDoesNotHaveRemote
	}

	portalID, err := s.portalID(ctx, roomID)
	if err != nil {
		return err
	}

	fields := map[string]any{}
	if err := json.Unmarshal(input.Raw(), &fields); err != nil {
		return domain.ErrInvalidControlInput
	}
	fields["t"] = portalID

	frame, err := domain.NewEvent(input.Type(), fields).Encode()
	if err != nil {
		return err
	}
	if err := s.bus.PublishControl(ctx, frame); err != nil {
		logrus.WithFields(logrus.Fields{"room_id": roomID, "portal_id": portalID}).WithError(err).Error("Failed to relay control input")
		return ErrInternalServer
	}
	return nil
}

func (s *ControlService) portalID(ctx context.Context, roomID string) (string, error) {
	now := s.now()
	s.mu.Lock()
	cached, ok := s.portals[roomID]
	s.mu.Unlock()
	if ok && now.Sub(cached.loadedAt) < portalCacheTTL {
		if cached.id == "" {
			return "", ErrNoPortalFound
		}
		return cached.id, nil
	}

	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		return "", mapRepoError(err, ErrRoomNotFound)
	}
	var id string
	if room.Portal.HasID() {
		id = *room.Portal.ID
	}

	s.mu.Lock()
	s.portals[roomID] = cachedPortal{id: id, loadedAt: now}
	s.mu.Unlock()

	if id == "" {
		return "", ErrNoPortalFound
	}
	return id, nil
}
