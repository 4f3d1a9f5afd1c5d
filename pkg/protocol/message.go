package protocol

import (
	"errors"

	"github.com/corelay-dev/corelay/pkg/state"
)

// Kind identifies a wire message.
type Kind string

const (
	// KindConnectionReady is sent by the server immediately after the
	// websocket upgrade. It carries the session id the client must present
	// when reconnecting.
	KindConnectionReady Kind = "connection:ready"

	// KindCreateJoinRoom is the client's request to join a room by name,
	// creating it if it does not exist.
	KindCreateJoinRoom Kind = "create-or-join-room"

	// KindRoomCreated tells the requesting client its join caused the room
	// to be created.
	KindRoomCreated Kind = "room:created"

	// KindRoomJoined confirms a join and carries the full room snapshot.
	KindRoomJoined Kind = "room:joined"

	// KindUserJoined and KindUserLeft announce membership changes to the
	// other participants of a room.
	KindUserJoined Kind = "room:user:joined"
	KindUserLeft   Kind = "room:user:left"

	// KindStateUpdate carries a state delta, in both directions.
	KindStateUpdate Kind = "room:state:update"

	// KindRejoinFailed tells a reconnecting client its session could not be
	// resumed and it must join from scratch.
	KindRejoinFailed Kind = "rejoin:failed"

	// KindPulse is the server's heartbeat probe; KindBlip is the client's
	// reply. Neither carries a payload.
	KindPulse Kind = "pulse"
	KindBlip  Kind = "blip"
)

// Message kinds that carry no payload decode and encode as bare envelopes.

// ConnectionReady is the payload of KindConnectionReady.
type ConnectionReady struct {
	SessionID string `json:"sessionId"`
}

// CreateJoinRequest is the payload of KindCreateJoinRoom. UserID is optional;
// when empty the server mints a participant id.
type CreateJoinRequest struct {
	Room     string           `json:"room"`
	Username string           `json:"username"`
	UserID   string           `json:"userId,omitempty"`
	Device   state.DeviceType `json:"device,omitempty"`
}

// RoomCreated is the payload of KindRoomCreated.
type RoomCreated struct {
	RoomID string `json:"roomId"`
}

// RoomJoined is the payload of KindRoomJoined. Update is a synthesized full
// snapshot: every room prop plus every current object as a create entry.
type RoomJoined struct {
	Update state.StateUpdate `json:"update"`
}

// UserJoined is the payload of KindUserJoined.
type UserJoined struct {
	Username string `json:"username"`
}

// UserLeft is the payload of KindUserLeft.
type UserLeft struct {
	Username string `json:"username"`
}

// RejoinFailed is the payload of KindRejoinFailed.
type RejoinFailed struct {
	Error string `json:"error"`
}

// Message is the envelope for everything on the wire. Exactly the payload
// field matching Kind is set; all others are nil. Kinds without a payload
// (pulse, blip) leave every field nil.
type Message struct {
	Kind Kind

	Ready        *ConnectionReady
	CreateJoin   *CreateJoinRequest
	RoomCreated  *RoomCreated
	RoomJoined   *RoomJoined
	UserJoined   *UserJoined
	UserLeft     *UserLeft
	StateUpdate  *state.StateUpdate
	RejoinFailed *RejoinFailed
}

// Message construction helpers. Using these keeps Kind and payload in sync.

func NewConnectionReady(sessionID string) Message {
	return Message{Kind: KindConnectionReady, Ready: &ConnectionReady{SessionID: sessionID}}
}

func NewCreateJoinRoom(req CreateJoinRequest) Message {
	return Message{Kind: KindCreateJoinRoom, CreateJoin: &req}
}

func NewRoomCreated(roomID string) Message {
	return Message{Kind: KindRoomCreated, RoomCreated: &RoomCreated{RoomID: roomID}}
}

func NewRoomJoined(update state.StateUpdate) Message {
	return Message{Kind: KindRoomJoined, RoomJoined: &RoomJoined{Update: update}}
}

func NewUserJoined(username string) Message {
	return Message{Kind: KindUserJoined, UserJoined: &UserJoined{Username: username}}
}

func NewUserLeft(username string) Message {
	return Message{Kind: KindUserLeft, UserLeft: &UserLeft{Username: username}}
}

func NewStateUpdate(update state.StateUpdate) Message {
	return Message{Kind: KindStateUpdate, StateUpdate: &update}
}

func NewRejoinFailed(reason string) Message {
	return Message{Kind: KindRejoinFailed, RejoinFailed: &RejoinFailed{Error: reason}}
}

func NewPulse() Message { return Message{Kind: KindPulse} }
func NewBlip() Message  { return Message{Kind: KindBlip} }

// Protocol errors.
var (
	ErrUnknownKind    = errors.New("protocol: unknown message kind")
	ErrMissingPayload = errors.New("protocol: message payload missing for kind")
	ErrEmptyFrame     = errors.New("protocol: empty frame")
)

// Validate reports whether the message's payload field matches its kind.
func (m Message) Validate() error {
	switch m.Kind {
	case KindConnectionReady:
		if m.Ready == nil {
			return ErrMissingPayload
		}
	case KindCreateJoinRoom:
		if m.CreateJoin == nil {
			return ErrMissingPayload
		}
	case KindRoomCreated:
		if m.RoomCreated == nil {
			return ErrMissingPayload
		}
	case KindRoomJoined:
		if m.RoomJoined == nil {
			return ErrMissingPayload
		}
	case KindUserJoined:
		if m.UserJoined == nil {
			return ErrMissingPayload
		}
	case KindUserLeft:
		if m.UserLeft == nil {
			return ErrMissingPayload
		}
	case KindStateUpdate:
		if m.StateUpdate == nil {
			return ErrMissingPayload
		}
	case KindRejoinFailed:
		if m.RejoinFailed == nil {
			return ErrMissingPayload
		}
	case KindPulse, KindBlip:
	default:
		return ErrUnknownKind
	}
	return nil
}
