package rooms

import "errors"

var (
	ErrRoomFull        = errors.New("room is full")
	ErrDuplicateClient = errors.New("client is already in the room")
	ErrUnknownRoom     = errors.New("unknown room")
	ErrUnknownClient   = errors.New("unknown client")

	// ErrRoomClosed is returned by a room that was evicted by the registry
	// after it was handed out. Callers should resolve the key again.
	ErrRoomClosed = errors.New("room is closed")
)
