package service

import (
	"errors"

	"github.com/MayoPickle/tofu-chillsync/internal/domain"
	"github.com/MayoPickle/tofu-chillsync/internal/room"
)

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrMissingFile  = errors.New("no video file provided")
)

// errorCode maps a service error to the code sent to the requester.
func errorCode(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return domain.ErrCodeNotFound
	case errors.Is(err, room.ErrInvalidAction),
		errors.Is(err, room.ErrInvalidTime),
		errors.Is(err, ErrEmptyMessage):
		return domain.ErrCodeBadRequest
	case errors.Is(err, room.ErrNotInRoom):
		return domain.ErrCodeNotInRoom
	case errors.Is(err, room.ErrNotHost):
		return domain.ErrCodeForbidden
	default:
		return domain.ErrCodeInternalError
	}
}

// errorText keeps internal failures opaque to clients.
func errorText(err error) string {
	if errorCode(err) == domain.ErrCodeInternalError {
		return "internal error"
	}
	return err.Error()
}
