package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"portal-gateway/internal/service"
)

// serviceErrorStatus 业务错误到 HTTP 状态码的映射，按顺序匹配
var serviceErrorStatus = []struct {
	err    error
	status int
}{
	{service.ErrAuthenticationFailed, http.StatusUnauthorized},
	{service.ErrUserIsNotPermitted, http.StatusUnauthorized},
	{service.ErrControllerUnavailable, http.StatusNotAcceptable},
	{service.ErrInvalidRoomType, http.StatusNotAcceptable},
	{service.ErrUserDoesNotHaveRemote, http.StatusExpectationFailed},
	{service.ErrTooManyMembers, http.StatusConflict},
	{service.ErrPortalNotOpen, http.StatusConflict},
	{service.ErrUserAlreadyInRoom, http.StatusConflict},
	{service.ErrMemberNotFound, http.StatusConflict},
	{service.ErrUserNotInRoom, http.StatusGone},
	{service.ErrRoomNotFound, http.StatusNotFound},
	{service.ErrUserNotFound, http.StatusNotFound},
	{service.ErrNoPortalFound, http.StatusNotFound},
	{service.ErrRoomNameTooShort, http.StatusRequestEntityTooLarge},
	{service.ErrRoomNameTooLong, http.StatusRequestEntityTooLarge},
}

// HandleServiceError 把 Service 层返回的错误写成 HTTP 响应
func HandleServiceError(c *gin.Context, err error) {
	for _, m := range serviceErrorStatus {
		if errors.Is(err, m.err) {
			ErrorResponse(c, m.status, m.err.Error())
			return
		}
	}
	logrus.WithError(err).WithField("path", c.FullPath()).Error("Unhandled internal server error")
	ErrorResponse(c, http.StatusInternalServerError, "An unexpected error occurred")
}
