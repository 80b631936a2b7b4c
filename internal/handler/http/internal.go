package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"portal-gateway/internal/domain"
)

// PortalCallbacks 处理门户服务的回调
type PortalCallbacks interface {
	AssignPortal(ctx context.Context, roomID, portalID string) error
	HandlePortalStatus(ctx context.Context, portalID string, patch domain.PortalPatch) error
	BroadcastQueue(ctx context.Context, roomIDs []string)
}

// InternalHandler 是门户服务调用的内部接口
type InternalHandler struct {
	portals PortalCallbacks
}

// NewInternalHandler 创建 InternalHandler 实例
func NewInternalHandler(portals PortalCallbacks) *InternalHandler {
	if portals == nil {
		panic("PortalCallbacks cannot be nil for InternalHandler")
	}
	return &InternalHandler{portals: portals}
}

// Register 把内部路由挂到 group 上，group 需要已经挂载 Internal 中间件
func (h *InternalHandler) Register(group *gin.RouterGroup) {
	group.POST("/portal", h.AssignPortal)
	group.PUT("/portal", h.UpdatePortal)
	group.POST("/queue", h.Queue)
}

// AssignPortalRequest 为房间分配门户 ID
type AssignPortalRequest struct {
	ID     string `json:"id" binding:"required"`
	RoomID string `json:"roomId" binding:"required"`
}

// AssignPortal 记录门户服务为房间分配的门户 ID
func (h *InternalHandler) AssignPortal(c *gin.Context) {
	var req AssignPortalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: id and roomId are required")
		return
	}
	if err := h.portals.AssignPortal(c.Request.Context(), req.RoomID, req.ID); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// UpdatePortalRequest 门户状态回调
type UpdatePortalRequest struct {
	ID      string              `json:"id" binding:"required"`
	Status  domain.PortalStatus `json:"status" binding:"required"`
	JanusID *int                `json:"janusId"`
	JanusIP *string             `json:"janusIp"`
}

// UpdatePortal 合并门户状态并通知房间内在线成员
func (h *InternalHandler) UpdatePortal(c *gin.Context) {
	var req UpdatePortalRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Status.Valid() {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: id and a known status are required")
		return
	}
	logrus.WithFields(logrus.Fields{"portal_id": req.ID, "status": req.Status}).Info("Received portal status update")

	status := req.Status
	patch := domain.PortalPatch{Status: &status, JanusID: req.JanusID, JanusIP: req.JanusIP}
	if err := h.portals.HandlePortalStatus(c.Request.Context(), req.ID, patch); err != nil {
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// QueueRequest 门户服务的排队情况，按队列顺序排列的房间 ID
type QueueRequest struct {
	Queue []string `json:"queue"`
}

// Queue 通知每个排队中的房间它的位置
func (h *InternalHandler) Queue(c *gin.Context) {
	var req QueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: queue must be a list of room ids")
		return
	}
	h.portals.BroadcastQueue(c.Request.Context(), req.Queue)
	c.Status(http.StatusOK)
}
