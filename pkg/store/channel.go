package store

import (
	"encoding/json"
	"fmt"

	"github.com/corelay-dev/corelay/pkg/state"
)

// Pub/sub channel names. One channel per replicated event; every server
// subscribes to all of them.
const (
	ChannelRoomCreated       = "channel:room:created"
	ChannelRoomUserJoined    = "channel:room:user:joined"
	ChannelRoomUserLeft      = "channel:room:user:left"
	ChannelRoomClosed        = "channel:room:closed"
	ChannelRoomStateUpdate   = "channel:room:state:update"
	ChannelStaleRoomsRemoved = "channel:rooms:removestale"
)

func allChannels() []string {
	return []string{
		ChannelRoomCreated,
		ChannelRoomUserJoined,
		ChannelRoomUserLeft,
		ChannelRoomClosed,
		ChannelRoomStateUpdate,
		ChannelStaleRoomsRemoved,
	}
}

// ChannelMessage is the envelope published on every channel. MsgType repeats
// the channel name so a handler can dispatch without tracking which
// subscription delivered the message.
type ChannelMessage struct {
	MsgType string          `json:"msgType"`
	Data    json.RawMessage `json:"data"`
}

// Replicated event payloads. Origin carries the publishing server's id so
// subscribers can skip events they produced themselves.

// RoomCreatedEvent announces a new room, carrying the full initial record.
type RoomCreatedEvent struct {
	Room   state.Room `json:"room"`
	Origin string     `json:"origin"`
}

// UserJoinedEvent announces a participant joining (or rejoining) a room.
type UserJoinedEvent struct {
	RoomID      string            `json:"roomId"`
	Participant state.Participant `json:"participant"`
	Rejoin      bool              `json:"rejoin,omitempty"`
	Origin      string            `json:"origin"`
}

// UserLeftEvent announces a participant leaving a room.
type UserLeftEvent struct {
	RoomID        string `json:"roomId"`
	ParticipantID string `json:"participantId"`
	Username      string `json:"username"`
	Origin        string `json:"origin"`
}

// RoomClosedEvent announces a room's deletion.
type RoomClosedEvent struct {
	RoomID string `json:"roomId"`
	Origin string `json:"origin"`
}

// StateUpdateEvent carries a state delta for a room. SocketID names the
// connection that produced the update so the origin server can exclude it
// from the broadcast.
type StateUpdateEvent struct {
	RoomID   string            `json:"roomId"`
	SocketID string            `json:"socketId,omitempty"`
	Update   state.StateUpdate `json:"update"`
	Origin   string            `json:"origin"`
}

// StaleRoomsRemovedEvent lists rooms deleted by a sweep. Sweeps have no
// origin server; every subscriber drops the rooms from its replica.
type StaleRoomsRemovedEvent struct {
	RoomIDs []string `json:"roomIds"`
}

func encodeChannelMessage(msgType string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("store: marshal %s payload: %w", msgType, err)
	}
	return json.Marshal(ChannelMessage{MsgType: msgType, Data: data})
}

// DecodePayload unmarshals the envelope's data into the given payload
// struct, which must match the envelope's MsgType.
func (m ChannelMessage) DecodePayload(into any) error {
	if err := json.Unmarshal(m.Data, into); err != nil {
		return fmt.Errorf("store: decode %s payload: %w", m.MsgType, err)
	}
	return nil
}
