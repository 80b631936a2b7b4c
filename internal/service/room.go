package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"portal-gateway/internal/domain"
	"portal-gateway/internal/repository"
)

const roomNameMaxLength = 29

// EventPublisher 向用户列表或整个房间广播事件。
type EventPublisher interface {
	Broadcast(ctx context.Context, ev domain.Event, recipients []string, excluding ...string) error
	BroadcastRoom(ctx context.Context, ev domain.Event, roomID string, excluding ...string) error
}

// PortalProvisioner 是门户服务的客户端。
type PortalProvisioner interface {
	Create(ctx context.Context, roomID string) (json.RawMessage, error)
	Destroy(ctx context.Context, roomID, portalID string) error
}

// TeardownScheduler 调度房间变空后的延迟门户销毁检查。
type TeardownScheduler interface {
	ScheduleEmptyRoomCheck(ctx context.Context, roomID string, delay time.Duration) error
	CancelEmptyRoomCheck(ctx context.Context, roomID string) error
}

// RoomConfig 房间相关的可配置项。
type RoomConfig struct {
	MaxMembers             int
	MinPortalMembers       int
	DestroyPortalWhenEmpty bool
	EmptyRoomDelay         time.Duration
}

// RoomView 是返回给客户端的房间视图。
type RoomView struct {
	*domain.Room
	Owner      domain.UserRef   `json:"owner"`
	Controller domain.UserRef   `json:"controller"`
	Members    []domain.UserRef `json:"members"`
	Online     []string         `json:"online"`
}

// RoomService 协调房间成员、控制权和门户状态机。
// 所有状态都在共享存储和文档库中，任何网关进程都可以处理任意房间。
type RoomService struct {
	userRepo repository.UserRepository
	roomRepo repository.RoomRepository
	sessions repository.SessionStore
	events   EventPublisher
	portals  PortalProvisioner
	teardown TeardownScheduler
	stream   *StreamConfig
	cfg      RoomConfig
	now      func() time.Time
}

// NewRoomService 创建 RoomService 实例。
func NewRoomService(
	userRepo repository.UserRepository,
	roomRepo repository.RoomRepository,
	sessions repository.SessionStore,
	events EventPublisher,
	portals PortalProvisioner,
	teardown TeardownScheduler,
	stream *StreamConfig,
	cfg RoomConfig,
) *RoomService {
	if userRepo == nil || roomRepo == nil || sessions == nil {
		panic("repositories cannot be nil for RoomService")
	}
	if events == nil || portals == nil || teardown == nil || stream == nil {
		panic("EventPublisher, PortalProvisioner, TeardownScheduler and StreamConfig cannot be nil for RoomService")
	}
	if cfg.MaxMembers <= 0 {
		cfg.MaxMembers = 10
	}
	if cfg.MinPortalMembers <= 0 {
		cfg.MinPortalMembers = 2
	}
	return &RoomService{
		userRepo: userRepo,
		roomRepo: roomRepo,
		sessions: sessions,
		events:   events,
		portals:  portals,
		teardown: teardown,
		stream:   stream,
		cfg:      cfg,
		now:      time.Now,
	}
}

// --- 房间生命周期 ---

// CreateRoom 创建房间，创建者成为房主和控制者。
func (s *RoomService) CreateRoom(ctx context.Context, creatorID, name string) (*domain.Room, error) {
	logCtx := logrus.WithField("creator_id", creatorID)

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrRoomNameTooShort
	}
	if utf8.RuneCountInString(name) > roomNameMaxLength {
		return nil, ErrRoomNameTooLong
	}

	creator, err := s.userRepo.FindByID(ctx, creatorID)
	if err != nil {
		return nil, mapRepoError(err, ErrUserNotFound)
	}
	if creator.InRoom() {
		return nil, ErrUserAlreadyInRoom
	}

	now := s.now()
	controller := creatorID
	room := &domain.Room{
		ID:           uuid.NewString(),
		Type:         domain.RoomTypeVM,
		Name:         name,
		OwnerID:      creatorID,
		ControllerID: &controller,
		Portal:       domain.PortalAllocation{Status: domain.PortalWaiting, LastUpdatedAt: now},
	}
	logCtx = logCtx.WithField("room_id", room.ID)

	if err := s.roomRepo.Create(ctx, room); err != nil {
		logCtx.WithError(err).Error("Failed to save new room")
		return nil, ErrInternalServer
	}
	if err := s.userRepo.SetRoom(ctx, creatorID, &room.ID); err != nil {
		logCtx.WithError(err).Error("Failed to move creator into new room")
		return nil, ErrInternalServer
	}
	if _, err := s.sessions.SwapController(ctx, room.ID, "", creatorID); err != nil {
		logCtx.WithError(err).Error("Failed to mirror controller of new room")
	}

	logCtx.Info("Room created successfully")
	return room, nil
}

// GetRoom 返回用户所在房间的视图。
func (s *RoomService) GetRoom(ctx context.Context, userID string) (*RoomView, error) {
	_, room, err := s.memberRoom(ctx, userID)
	if err != nil {
		return nil, err
	}

	members, err := s.userRepo.FindByRoom(ctx, room.ID)
	if err != nil {
		logrus.WithField("room_id", room.ID).WithError(err).Error("Failed to load room members")
		return nil, ErrInternalServer
	}
	view := &RoomView{
		Room:       room,
		Owner:      domain.Ref(room.OwnerID),
		Controller: domain.Ref(room.Controller()),
		Members:    make([]domain.UserRef, 0, len(members)),
	}
	ids := make([]string, 0, len(members))
	for i := range members {
		member := &members[i]
		ids = append(ids, member.ID)
		ref := domain.Loaded(member)
		view.Members = append(view.Members, ref)
		if member.ID == room.OwnerID {
			view.Owner = ref
		}
		if member.ID == room.Controller() {
			view.Controller = ref
		}
	}

	view.Online, err = s.sessions.ConnectedAmong(ctx, ids)
	if err != nil {
		logrus.WithField("room_id", room.ID).WithError(err).Warn("Failed to resolve online members")
	}
	if view.Online == nil {
		view.Online = []string{}
	}
	return view, nil
}

// JoinRoom 把用户加入房间。成员数达到阈值时会尝试创建门户。
func (s *RoomService) JoinRoom(ctx context.Context, userID, roomID string) (*domain.Room, error) {
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "room_id": roomID})

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, mapRepoError(err, ErrUserNotFound)
	}
	if user.InRoom() {
		return nil, ErrUserAlreadyInRoom
	}
	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		return nil, mapRepoError(err, ErrRoomNotFound)
	}

	count, err := s.userRepo.CountMembers(ctx, room.ID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to count room members")
		return nil, ErrInternalServer
	}
	if count >= int64(s.cfg.MaxMembers) {
		return nil, ErrTooManyMembers
	}

	if err := s.userRepo.SetRoom(ctx, userID, &room.ID); err != nil {
		logCtx.WithError(err).Error("Failed to move user into room")
		return nil, ErrInternalServer
	}
	user.RoomID = &room.ID

	if err := s.events.BroadcastRoom(ctx, domain.NewEvent(domain.EventUserJoin, user), room.ID, userID); err != nil {
		logCtx.WithError(err).Warn("Failed to broadcast USER_JOIN")
	}

	if count+1 >= int64(s.cfg.MinPortalMembers) && room.Portal.Status.Claimable() {
		if err := s.CreatePortal(ctx, room.ID); err != nil {
			logCtx.WithError(err).Error("Portal creation after join failed")
		}
	}

	logCtx.Info("User joined room successfully")
	return room, nil
}

// LeaveRoom 让用户离开房间。最后一个成员离开时房间被销毁；
// 房主离开时房主转移给剩余的第一个成员；控制者离开时释放控制权。
func (s *RoomService) LeaveRoom(ctx context.Context, userID string) error {
	user, room, err := s.memberRoom(ctx, userID)
	if err != nil {
		return err
	}
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "room_id": room.ID})

	memberIDs, err := s.userRepo.MemberIDs(ctx, room.ID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load member ids")
		return ErrInternalServer
	}
	remaining := filterRecipients(memberIDs, []string{user.ID})

	if len(remaining) == 0 {
		if err := s.destroyRoom(ctx, room); err != nil {
			return err
		}
	} else {
		if err := s.userRepo.SetRoom(ctx, userID, nil); err != nil {
			logCtx.WithError(err).Error("Failed to remove user from room")
			return ErrInternalServer
		}
		if room.IsOwner(userID) {
			if err := s.TransferOwnership(ctx, room, remaining[0]); err != nil {
				logCtx.WithError(err).Error("Failed to transfer ownership")
			}
		}
		s.releaseIfHolder(ctx, room.ID, userID)

		leave := domain.NewEvent(domain.EventUserLeave, map[string]string{"u": userID})
		if err := s.events.Broadcast(ctx, leave, remaining); err != nil {
			logCtx.WithError(err).Warn("Failed to broadcast USER_LEAVE")
		}
	}

	if err := s.sessions.ClearUndelivered(ctx, userID); err != nil {
		logCtx.WithError(err).Warn("Failed to clear undelivered queue")
	}
	logCtx.Info("User left room")
	return nil
}

// KickMember 由房主把成员移出房间。
func (s *RoomService) KickMember(ctx context.Context, requesterID, targetID string) error {
	_, room, err := s.memberRoom(ctx, requesterID)
	if err != nil {
		return err
	}
	if !room.IsOwner(requesterID) {
		return ErrUserIsNotPermitted
	}
	target, err := s.userRepo.FindByID(ctx, targetID)
	if err != nil {
		return mapRepoError(err, ErrUserNotFound)
	}
	if target.Room() != room.ID {
		return ErrMemberNotFound
	}
	return s.LeaveRoom(ctx, targetID)
}

// ChangeRoomType 由房主修改房间类型。
func (s *RoomService) ChangeRoomType(ctx context.Context, requesterID string, roomType domain.RoomType) error {
	_, room, err := s.memberRoom(ctx, requesterID)
	if err != nil {
		return err
	}
	if !room.IsOwner(requesterID) {
		return ErrUserIsNotPermitted
	}
	if !roomType.Valid() {
		return ErrInvalidRoomType
	}
	if err := s.roomRepo.UpdateType(ctx, room.ID, roomType); err != nil {
		return fmt.Errorf("update type of room %s: %w", room.ID, err)
	}
	return nil
}

// DeleteRoom 由房主销毁房间。
func (s *RoomService) DeleteRoom(ctx context.Context, requesterID string) error {
	_, room, err := s.memberRoom(ctx, requesterID)
	if err != nil {
		return err
	}
	if !room.IsOwner(requesterID) {
		return ErrUserIsNotPermitted
	}
	return s.destroyRoom(ctx, room)
}

// TransferOwnership 更新房主并通知房间。
func (s *RoomService) TransferOwnership(ctx context.Context, room *domain.Room, newOwnerID string) error {
	if err := s.roomRepo.UpdateOwner(ctx, room.ID, newOwnerID); err != nil {
		return fmt.Errorf("update owner of room %s: %w", room.ID, err)
	}
	room.OwnerID = newOwnerID
	ev := domain.NewEvent(domain.EventOwnerUpdate, map[string]string{"u": newOwnerID})
	if err := s.events.BroadcastRoom(ctx, ev, room.ID); err != nil {
		logrus.WithField("room_id", room.ID).WithError(err).Warn("Failed to broadcast OWNER_UPDATE")
	}
	return nil
}

// destroyRoom 通知成员、清理成员关系并删除房间，门户销毁失败只记录日志。
func (s *RoomService) destroyRoom(ctx context.Context, room *domain.Room) error {
	logCtx := logrus.WithField("room_id", room.ID)

	if err := s.events.BroadcastRoom(ctx, domain.NewEvent(domain.EventRoomDestroy, nil), room.ID); err != nil {
		logCtx.WithError(err).Warn("Failed to broadcast ROOM_DESTROY")
	}
	if err := s.userRepo.ClearRoom(ctx, room.ID); err != nil {
		logCtx.WithError(err).Error("Failed to clear room members")
		return ErrInternalServer
	}
	if err := s.roomRepo.Delete(ctx, room.ID); err != nil {
		logCtx.WithError(err).Error("Failed to delete room")
		return ErrInternalServer
	}
	if room.Portal.HasID() {
		if err := s.portals.Destroy(ctx, room.ID, *room.Portal.ID); err != nil {
			logCtx.WithError(err).Warn("Best-effort portal teardown failed")
		}
	}
	if err := s.sessions.DeleteController(ctx, room.ID); err != nil {
		logCtx.WithError(err).Warn("Failed to delete controller mirror")
	}
	if s.cfg.DestroyPortalWhenEmpty {
		if err := s.teardown.CancelEmptyRoomCheck(ctx, room.ID); err != nil {
			logCtx.WithError(err).Debug("Failed to cancel empty-room check")
		}
	}
	logCtx.Info("Room destroyed")
	return nil
}

// --- 控制权 ---

// TakeControl 在无人控制时让成员获得控制权。
func (s *RoomService) TakeControl(ctx context.Context, userID string) error {
	_, room, err := s.memberRoom(ctx, userID)
	if err != nil {
		return err
	}
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "room_id": room.ID})

	ok, err := s.sessions.SwapController(ctx, room.ID, "", userID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to take controller")
		return ErrInternalServer
	}
	if !ok {
		return ErrControllerUnavailable
	}
	if err := s.roomRepo.UpdateController(ctx, room.ID, &userID); err != nil {
		logCtx.WithError(err).Error("Failed to persist controller, reverting lock")
		if _, revertErr := s.sessions.SwapController(ctx, room.ID, userID, ""); revertErr != nil {
			logCtx.WithError(revertErr).Error("Failed to revert controller lock")
		}
		return ErrInternalServer
	}

	s.broadcastController(ctx, room.ID, userID, userID)
	logCtx.Info("Controller taken")
	return nil
}

// GiveControl 由控制者或房主把控制权交给另一名成员。
func (s *RoomService) GiveControl(ctx context.Context, requesterID, targetID string) error {
	_, room, err := s.memberRoom(ctx, requesterID)
	if err != nil {
		return err
	}
	logCtx := logrus.WithFields(logrus.Fields{"user_id": requesterID, "room_id": room.ID, "target_id": targetID})

	current, err := s.sessions.Controller(ctx, room.ID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to read controller")
		return ErrInternalServer
	}
	if requesterID != current && !room.IsOwner(requesterID) {
		return ErrUserDoesNotHaveRemote
	}

	target, err := s.userRepo.FindByID(ctx, targetID)
	if err != nil {
		return mapRepoError(err, ErrUserNotFound)
	}
	if target.Room() != room.ID {
		return ErrUserNotInRoom
	}

	ok, err := s.sessions.SwapController(ctx, room.ID, current, targetID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to give controller")
		return ErrInternalServer
	}
	if !ok {
		return ErrControllerUnavailable
	}
	if err := s.roomRepo.UpdateController(ctx, room.ID, &targetID); err != nil {
		logCtx.WithError(err).Error("Failed to persist controller")
		return ErrInternalServer
	}

	s.broadcastController(ctx, room.ID, targetID, requesterID)
	logCtx.Info("Controller given")
	return nil
}

// ReleaseControl 由控制者或房主释放控制权。
func (s *RoomService) ReleaseControl(ctx context.Context, requesterID string) error {
	_, room, err := s.memberRoom(ctx, requesterID)
	if err != nil {
		return err
	}
	logCtx := logrus.WithFields(logrus.Fields{"user_id": requesterID, "room_id": room.ID})

	current, err := s.sessions.Controller(ctx, room.ID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to read controller")
		return ErrInternalServer
	}
	if requesterID != current && !room.IsOwner(requesterID) {
		return ErrUserIsNotPermitted
	}
	if current == "" {
		return nil
	}

	ok, err := s.sessions.SwapController(ctx, room.ID, current, "")
	if err != nil {
		logCtx.WithError(err).Error("Failed to release controller")
		return ErrInternalServer
	}
	if !ok {
		return ErrControllerUnavailable
	}
	if err := s.roomRepo.UpdateController(ctx, room.ID, nil); err != nil {
		logCtx.WithError(err).Error("Failed to persist controller release")
		return ErrInternalServer
	}

	s.broadcastController(ctx, room.ID, "", requesterID)
	logCtx.Info("Controller released")
	return nil
}

// releaseIfHolder 在 userID 持有控制权时释放它。
func (s *RoomService) releaseIfHolder(ctx context.Context, roomID, userID string) {
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "room_id": roomID})
	ok, err := s.sessions.SwapController(ctx, roomID, userID, "")
	if err != nil {
		logCtx.WithError(err).Error("Failed to release controller of departing user")
		return
	}
	if !ok {
		return
	}
	if err := s.roomRepo.UpdateController(ctx, roomID, nil); err != nil {
		logCtx.WithError(err).Error("Failed to persist controller release")
	}
	s.broadcastController(ctx, roomID, "", userID)
}

// broadcastController 发送 CONTROLLER_UPDATE，holder 为空表示无人控制。
func (s *RoomService) broadcastController(ctx context.Context, roomID, holder, excluding string) {
	var u any
	if holder != "" {
		u = holder
	}
	ev := domain.NewEvent(domain.EventControllerUpdate, map[string]any{"u": u})
	if err := s.events.BroadcastRoom(ctx, ev, roomID, excluding); err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Warn("Failed to broadcast CONTROLLER_UPDATE")
	}
}

// --- 门户 ---

// CreatePortal 在门户处于可创建状态时发起创建。状态迁移到 requested 后不再匹配，
// 因此并发或重复的调用只有一个会请求门户服务。
func (s *RoomService) CreatePortal(ctx context.Context, roomID string) error {
	logCtx := logrus.WithField("room_id", roomID)
	now := s.now()

	claimed, err := s.roomRepo.ClaimPortal(ctx, roomID, domain.ClaimableStatuses, domain.PortalRequested, now)
	if err != nil {
		logCtx.WithError(err).Error("Failed to claim portal creation")
		return ErrInternalServer
	}
	if !claimed {
		logCtx.Debug("Portal already requested or allocated, skipping creation")
		return nil
	}

	requested := domain.NewEvent(domain.EventPortalUpdate, domain.PortalAllocation{Status: domain.PortalRequested, LastUpdatedAt: now})
	if err := s.events.BroadcastRoom(ctx, requested, roomID); err != nil {
		logCtx.WithError(err).Warn("Failed to broadcast PORTAL_UPDATE")
	}

	queue, err := s.portals.Create(ctx, roomID)
	if err != nil {
		failed := domain.PortalError
		updated, updateErr := s.UpdatePortalAllocation(ctx, roomID, domain.PortalPatch{Status: &failed})
		if updateErr != nil {
			logCtx.WithError(updateErr).Error("Failed to mark portal as errored")
		} else if bErr := s.events.BroadcastRoom(ctx, domain.NewEvent(domain.EventPortalUpdate, updated.Portal), roomID); bErr != nil {
			logCtx.WithError(bErr).Warn("Failed to broadcast PORTAL_UPDATE")
		}
		return fmt.Errorf("create portal for room %s: %w", roomID, err)
	}

	if len(queue) > 0 {
		if err := s.events.BroadcastRoom(ctx, domain.NewEvent(domain.EventPortalQueueUpdate, queue), roomID); err != nil {
			logCtx.WithError(err).Warn("Failed to broadcast PORTAL_QUEUE_UPDATE")
		}
	}
	logCtx.Info("Portal requested")
	return nil
}

// RestartPortal 由房主重启已打开的门户。
func (s *RoomService) RestartPortal(ctx context.Context, requesterID string) error {
	_, room, err := s.memberRoom(ctx, requesterID)
	if err != nil {
		return err
	}
	if !room.IsOwner(requesterID) {
		return ErrUserIsNotPermitted
	}
	if room.Portal.Status != domain.PortalOpen {
		return ErrPortalNotOpen
	}
	if err := s.DestroyPortal(ctx, room); err != nil {
		return err
	}
	return s.CreatePortal(ctx, room.ID)
}

// DestroyPortal 请求门户服务销毁门户并把状态置为 closed。
func (s *RoomService) DestroyPortal(ctx context.Context, room *domain.Room) error {
	if room.Portal.HasID() {
		if err := s.portals.Destroy(ctx, room.ID, *room.Portal.ID); err != nil {
			logrus.WithField("room_id", room.ID).WithError(err).Error("Failed to destroy portal")
			return fmt.Errorf("destroy portal of room %s: %w", room.ID, err)
		}
	}
	closed := domain.PortalClosed
	updated, err := s.UpdatePortalAllocation(ctx, room.ID, domain.PortalPatch{Status: &closed})
	if err != nil {
		return err
	}
	room.Portal = updated.Portal
	return nil
}

// UpdatePortalAllocation 合并门户分配的部分更新并保存。
func (s *RoomService) UpdatePortalAllocation(ctx context.Context, roomID string, patch domain.PortalPatch) (*domain.Room, error) {
	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		return nil, mapRepoError(err, ErrRoomNotFound)
	}
	room.Portal = room.Portal.Merge(patch, s.now())
	if err := s.roomRepo.UpdatePortal(ctx, roomID, room.Portal); err != nil {
		logrus.WithField("room_id", roomID).WithError(err).Error("Failed to save portal allocation")
		return nil, ErrInternalServer
	}
	return room, nil
}

// AssignPortal 记录门户服务为房间分配的门户 ID。
func (s *RoomService) AssignPortal(ctx context.Context, roomID, portalID string) error {
	_, err := s.UpdatePortalAllocation(ctx, roomID, domain.PortalPatch{ID: &portalID})
	return err
}

// HandlePortalStatus 处理门户服务的状态回调：更新分配并通知在线成员，
// 门户打开时同时下发推流配置。
func (s *RoomService) HandlePortalStatus(ctx context.Context, portalID string, patch domain.PortalPatch) error {
	logCtx := logrus.WithField("portal_id", portalID)

	room, err := s.roomRepo.FindByPortalID(ctx, portalID)
	if err != nil {
		return mapRepoError(err, ErrRoomNotFound)
	}
	updated, err := s.UpdatePortalAllocation(ctx, room.ID, patch)
	if err != nil {
		return err
	}
	logCtx = logCtx.WithFields(logrus.Fields{"room_id": room.ID, "status": updated.Portal.Status})

	online, err := s.OnlineMemberIDs(ctx, room.ID)
	if err != nil {
		logCtx.WithError(err).Error("Failed to resolve online members")
		return nil
	}
	if len(online) == 0 {
		return nil
	}

	if err := s.events.Broadcast(ctx, domain.NewEvent(domain.EventPortalUpdate, updated.Portal), online); err != nil {
		logCtx.WithError(err).Warn("Failed to broadcast PORTAL_UPDATE")
	}
	if updated.Portal.Status == domain.PortalOpen {
		ev, err := s.stream.EventFor(updated.Portal)
		if err != nil {
			logCtx.WithError(err).Error("Failed to build stream config")
			return nil
		}
		if err := s.events.Broadcast(ctx, ev, online); err != nil {
			logCtx.WithError(err).Warn("Failed to broadcast stream config")
		}
	}
	logCtx.Info("Portal status updated")
	return nil
}

// BroadcastQueue 把门户服务的排队位置通知到每个排队中的房间。
func (s *RoomService) BroadcastQueue(ctx context.Context, roomIDs []string) {
	for i, roomID := range roomIDs {
		ev := domain.NewEvent(domain.EventPortalQueueUpdate, map[string]int{"pos": i, "len": len(roomIDs)})
		if err := s.events.BroadcastRoom(ctx, ev, roomID); err != nil {
			logrus.WithField("room_id", roomID).WithError(err).Warn("Failed to broadcast PORTAL_QUEUE_UPDATE")
		}
	}
}

// OnlineMemberIDs 返回房间中当前在线的成员。
func (s *RoomService) OnlineMemberIDs(ctx context.Context, roomID string) ([]string, error) {
	ids, err := s.userRepo.MemberIDs(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("load members of room %s: %w", roomID, err)
	}
	return s.sessions.ConnectedAmong(ctx, ids)
}

// --- 在线状态 ---

// HandleOnline 在连接认证成功后调用。通知房间成员上线，必要时发起门户创建，
// 返回只需发给这个连接的事件 (门户已打开时的推流配置)。
func (s *RoomService) HandleOnline(ctx context.Context, user *domain.User) ([]domain.Event, error) {
	if !user.InRoom() {
		return nil, nil
	}
	roomID := user.Room()
	logCtx := logrus.WithFields(logrus.Fields{"user_id": user.ID, "room_id": roomID})

	if s.cfg.DestroyPortalWhenEmpty {
		if err := s.teardown.CancelEmptyRoomCheck(ctx, roomID); err != nil {
			logCtx.WithError(err).Debug("Failed to cancel empty-room check")
		}
	}

	presence := domain.NewEvent(domain.EventPresenceUpdate, map[string]string{"u": user.ID, "presence": "online"})
	if err := s.events.BroadcastRoom(ctx, presence, roomID, user.ID); err != nil {
		logCtx.WithError(err).Warn("Failed to broadcast online presence")
	}

	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("load room %s: %w", roomID, err)
	}

	if room.Portal.Status != domain.PortalOpen {
		if room.Portal.Status.Claimable() {
			count, err := s.userRepo.CountMembers(ctx, room.ID)
			if err != nil {
				logCtx.WithError(err).Error("Failed to count room members")
			} else if count >= int64(s.cfg.MinPortalMembers) {
				if err := s.CreatePortal(ctx, room.ID); err != nil {
					logCtx.WithError(err).Error("Portal creation on identify failed")
				}
			}
		}
		return nil, nil
	}
	if !room.Portal.HasID() {
		return nil, nil
	}

	ev, err := s.stream.EventFor(room.Portal)
	if err != nil {
		return nil, err
	}
	return []domain.Event{ev}, nil
}

// HandleOffline 在连接关闭后调用。通知房间成员下线，释放其持有的控制权，
// 并在配置开启时调度空房间的门户销毁检查。
func (s *RoomService) HandleOffline(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("load user %s: %w", userID, err)
	}
	if !user.InRoom() {
		return nil
	}
	roomID := user.Room()
	logCtx := logrus.WithFields(logrus.Fields{"user_id": userID, "room_id": roomID})

	presence := domain.NewEvent(domain.EventPresenceUpdate, map[string]string{"u": userID, "presence": "offline"})
	if err := s.events.BroadcastRoom(ctx, presence, roomID, userID); err != nil {
		logCtx.WithError(err).Warn("Failed to broadcast offline presence")
	}

	s.releaseIfHolder(ctx, roomID, userID)

	if s.cfg.DestroyPortalWhenEmpty {
		if err := s.teardown.ScheduleEmptyRoomCheck(ctx, roomID, s.cfg.EmptyRoomDelay); err != nil {
			logCtx.WithError(err).Error("Failed to schedule empty-room check")
		}
	}
	return nil
}

// DestroyPortalIfEmpty 在房间没有在线成员且门户已分配时销毁门户。
// 由延迟任务调用，执行时重新检查条件，可重复执行。
func (s *RoomService) DestroyPortalIfEmpty(ctx context.Context, roomID string) error {
	logCtx := logrus.WithField("room_id", roomID)

	room, err := s.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, repository.ErrRoomNotFound) {
			logCtx.Debug("Room gone before empty-room check")
			return nil
		}
		return fmt.Errorf("load room %s: %w", roomID, err)
	}
	online, err := s.OnlineMemberIDs(ctx, roomID)
	if err != nil {
		return err
	}
	if len(online) > 0 || room.Portal.Status.IsUnallocated() {
		logCtx.WithField("online", len(online)).Debug("Room not empty or portal not allocated, keeping portal")
		return nil
	}

	logCtx.Info("Room is empty, destroying portal")
	return s.DestroyPortal(ctx, room)
}

// --- 私有辅助函数 ---

// memberRoom 加载用户及其所在的房间。
func (s *RoomService) memberRoom(ctx context.Context, userID string) (*domain.User, *domain.Room, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, nil, mapRepoError(err, ErrUserNotFound)
	}
	if !user.InRoom() {
		return nil, nil, ErrUserNotInRoom
	}
	room, err := s.roomRepo.FindByID(ctx, user.Room())
	if err != nil {
		return nil, nil, mapRepoError(err, ErrRoomNotFound)
	}
	return user, room, nil
}
