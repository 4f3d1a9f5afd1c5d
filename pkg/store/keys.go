package store

import "strings"

// Key prefixes. Rooms are stored by id; the alias key maps the public room
// name to that id; socket assignments map a session id to the room id the
// socket currently belongs to.
const (
	roomKeyPrefix   = "corelay:room:"
	aliasKeyPrefix  = "corelay:roomname:"
	socketKeyPrefix = "corelay:socket:"
)

func roomKey(roomID string) string { return roomKeyPrefix + roomID }

func aliasKey(roomName string) string { return aliasKeyPrefix + roomName }

func socketKey(sessionID string) string { return socketKeyPrefix + sessionID }

// RoomIDFromKey strips the room prefix from a scanned key. Returns "" for
// keys outside the room namespace.
func RoomIDFromKey(key string) string {
	if !strings.HasPrefix(key, roomKeyPrefix) {
		return ""
	}
	return key[len(roomKeyPrefix):]
}

// SessionIDFromKey strips the socket prefix from a scanned key. Returns ""
// for keys outside the socket namespace.
func SessionIDFromKey(key string) string {
	if !strings.HasPrefix(key, socketKeyPrefix) {
		return ""
	}
	return key[len(socketKeyPrefix):]
}
