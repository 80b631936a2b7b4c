package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ControllerOperations 是遥控器 (控制权) 的转移操作
type ControllerOperations interface {
	TakeControl(ctx context.Context, userID string) error
	GiveControl(ctx context.Context, requesterID, targetID string) error
	ReleaseControl(ctx context.Context, requesterID string) error
}

// ControllerHandler 处理控制权相关的请求
type ControllerHandler struct {
	controller ControllerOperations
}

// NewControllerHandler 创建 ControllerHandler 实例
func NewControllerHandler(controller ControllerOperations) *ControllerHandler {
	if controller == nil {
		panic("ControllerOperations cannot be nil for ControllerHandler")
	}
	return &ControllerHandler{controller: controller}
}

// Register 把控制权路由挂到 group 上
func (h *ControllerHandler) Register(group *gin.RouterGroup) {
	group.POST("/take", h.Take)
	group.POST("/give/:id", h.Give)
	group.POST("/release", h.Release)
}

// Take 在无人控制时取得控制权
func (h *ControllerHandler) Take(c *gin.Context) {
	h.run(c, "take", h.controller.TakeControl)
}

// Give 把控制权交给 :id
func (h *ControllerHandler) Give(c *gin.Context) {
	targetID := c.Param("id")
	h.run(c, "give", func(ctx context.Context, userID string) error {
		return h.controller.GiveControl(ctx, userID, targetID)
	})
}

// Release 释放控制权
func (h *ControllerHandler) Release(c *gin.Context) {
	h.run(c, "release", h.controller.ReleaseControl)
}

func (h *ControllerHandler) run(c *gin.Context, operation string, op func(ctx context.Context, userID string) error) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	if err := op(c.Request.Context(), userID); err != nil {
		logrus.WithFields(logrus.Fields{"user_id": userID, "operation": operation}).WithError(err).Info("Handler: Controller operation rejected")
		HandleServiceError(c, err)
		return
	}
	c.Status(http.StatusOK)
}
