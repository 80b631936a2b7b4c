package service

import (
	"errors"

	"portal-gateway/internal/repository"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrRoomNotFound         = errors.New("room not found")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrInternalServer       = errors.New("internal server error")

	ErrUserNotInRoom         = errors.New("user is not in a room")
	ErrUserAlreadyInRoom     = errors.New("user is already in a room")
	ErrMemberNotFound        = errors.New("user is not a member of this room")
	ErrTooManyMembers        = errors.New("room has too many members")
	ErrRoomNameTooShort      = errors.New("room name is too short")
	ErrRoomNameTooLong       = errors.New("room name is too long")
	ErrInvalidRoomType       = errors.New("room type is not available")
	ErrUserIsNotPermitted    = errors.New("user is not permitted to perform this action")
	ErrControllerUnavailable = errors.New("controller is not available")
	ErrUserDoesNotHaveRemote = errors.New("user does not have the remote")
	ErrPortalNotOpen         = errors.New("portal is not open")
	ErrNoPortalFound         = errors.New("no portal found")
)

// mapRepoError 把仓库层的错误映射到服务层错误，notFound 用于未找到的情况。
func mapRepoError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		return notFound
	}
	return ErrInternalServer
}
