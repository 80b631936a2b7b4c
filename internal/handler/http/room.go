package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"portal-gateway/internal/domain"
	"portal-gateway/internal/service"
)

// RoomOperations 是 RoomHandler 依赖的房间操作，由 service.RoomService 实现
type RoomOperations interface {
	GetRoom(ctx context.Context, userID string) (*service.RoomView, error)
	CreateRoom(ctx context.Context, creatorID, name string) (*domain.Room, error)
	JoinRoom(ctx context.Context, userID, roomID string) (*domain.Room, error)
	LeaveRoom(ctx context.Context, userID string) error
	DeleteRoom(ctx context.Context, requesterID string) error
	KickMember(ctx context.Context, requesterID, targetID string) error
	ChangeRoomType(ctx context.Context, requesterID string, roomType domain.RoomType) error
	RestartPortal(ctx context.Context, requesterID string) error
}

// RoomHandler 封装了与房间管理相关的 HTTP 处理逻辑
type RoomHandler struct {
	rooms RoomOperations
}

// NewRoomHandler 创建 RoomHandler 实例
func NewRoomHandler(rooms RoomOperations) *RoomHandler {
	if rooms == nil {
		panic("RoomOperations cannot be nil for RoomHandler")
	}
	return &RoomHandler{rooms: rooms}
}

// Register 把房间路由挂到 group 上，group 需要已经挂载 Auth 中间件
func (h *RoomHandler) Register(group *gin.RouterGroup) {
	group.GET("", h.GetRoom)
	group.POST("", h.CreateRoom)
	group.DELETE("", h.DeleteRoom)
	group.POST("/join", h.JoinRoom)
	group.POST("/leave", h.LeaveRoom)
	group.PATCH("/type", h.ChangeType)
	group.POST("/portal/restart", h.RestartPortal)
	group.POST("/member/:id/kick", h.KickMember)
}

// GetRoom 返回当前用户所在房间的视图
func (h *RoomHandler) GetRoom(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	view, err := h.rooms.GetRoom(c.Request.Context(), userID)
	if err != nil {
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, view)
}

// CreateRoomRequest 定义创建房间请求的结构体
type CreateRoomRequest struct {
	Name string `json:"name"`
}

// CreateRoom 处理创建新房间的请求
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	logCtx := logrus.WithField("user_id", userID)

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logCtx.WithError(err).Warn("Handler.CreateRoom: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input")
		return
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), userID, req.Name)
	if err != nil {
		logCtx.WithError(err).Warn("Handler.CreateRoom: Failed to create room via service")
		HandleServiceError(c, err)
		return
	}
	logCtx.WithField("room_id", room.ID).Info("Handler.CreateRoom: Room created successfully")
	SuccessResponse(c, http.StatusOK, room)
}

// JoinRoomRequest 定义加入房间请求的结构体
type JoinRoomRequest struct {
	RoomID string `json:"roomId" binding:"required"`
}

// JoinRoom 处理用户加入房间的请求
func (h *RoomHandler) JoinRoom(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	logCtx := logrus.WithField("user_id", userID)

	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logCtx.WithError(err).Warn("Handler.JoinRoom: Invalid input format")
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: roomId is required")
		return
	}

	room, err := h.rooms.JoinRoom(c.Request.Context(), userID, req.RoomID)
	if err != nil {
		logCtx.WithError(err).WithField("room_id", req.RoomID).Warn("Handler.JoinRoom: Failed to join room via service")
		HandleServiceError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, room)
}

// LeaveRoom 处理用户离开房间的请求
func (h *RoomHandler) LeaveRoom(c *gin.Context) {
	h.simple(c, h.rooms.LeaveRoom)
}

// DeleteRoom 由房主销毁房间
func (h *RoomHandler) DeleteRoom(c *gin.Context) {
	h.simple(c, h.rooms.DeleteRoom)
}

// RestartPortal 由房主重启门户
func (h *RoomHandler) RestartPortal(c *gin.Context) {
	h.simple(c, h.rooms.RestartPortal)
}

// KickMember 由房主把 :id 移出房间
func (h *RoomHandler) KickMember(c *gin.Context) {
	targetID := c.Param("id")
	h.simple(c, func(ctx context.Context, userID string) error {
		return h.rooms.KickMember(ctx, userID, targetID)
	})
}

// ChangeTypeRequest 定义修改房间类型请求的结构体
type ChangeTypeRequest struct {
	Type domain.RoomType `json:"type" binding:"required"`
}

// ChangeType 由房主修改房间类型
func (h *RoomHandler) ChangeType(c *gin.Context) {
	var req ChangeTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: type is required")
		return
	}
	h.simple(c, func(ctx context.Context, userID string) error {
		return h.rooms.ChangeRoomType(ctx, userID, req.Type)
	})
}

// simple 执行只需要当前用户 ID 的操作，成功时返回 200 空响应
func (h *RoomHandler) simple(c *gin.Context, op func(ctx context.Context, userID string) error) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	if err := op(c.Request.Context(), userID); err != nil {
		logrus.WithFields(logrus.Fields{"user_id": userID, "path": c.FullPath()}).WithError(err).Warn("Handler: Room operation failed")
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusOK)
}
