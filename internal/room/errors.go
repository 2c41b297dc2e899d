package room

import "errors"

var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrInvalidAction = errors.New("invalid playback action")
	ErrInvalidTime   = errors.New("invalid playback time")
	ErrNotInRoom     = errors.New("connection has not joined this room")
	ErrNotHost       = errors.New("only the host may control playback")
	ErrIDExhausted   = errors.New("could not generate a unique room id")
	ErrClosed        = errors.New("room session closed")
)
