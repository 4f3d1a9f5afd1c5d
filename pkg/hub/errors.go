package hub

import "errors"

// Hub errors.
var (
	ErrMalformedJoin  = errors.New("hub: create/join request missing required fields")
	ErrRoomNotJoined  = errors.New("hub: socket has not joined a room")
	ErrAlreadyInRoom  = errors.New("hub: socket already joined a room")
	ErrUnknownSession = errors.New("hub: unknown session id")
	ErrSocketClosed   = errors.New("hub: socket closed")
)
