package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/corelay-dev/corelay/pkg/state"
)

// envelope is the on-the-wire shape of a JSON frame. Data is omitted for
// payload-less kinds so pulse and blip stay as small as possible.
type envelope struct {
	MsgType Kind            `json:"msgType"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// JSONCodec encodes messages as text frames.
type JSONCodec struct{}

// Binary reports the websocket frame type. JSON frames are text.
func (JSONCodec) Binary() bool { return false }

// Marshal encodes the message as a JSON envelope.
func (JSONCodec) Marshal(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	env := envelope{MsgType: m.Kind}
	payload := m.payload()
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s payload: %w", m.Kind, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Unmarshal decodes a JSON envelope into a message.
func (JSONCodec) Unmarshal(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, ErrEmptyFrame
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("protocol: decode envelope: %w", err)
	}

	m := Message{Kind: env.MsgType}
	payload := m.allocPayload()
	if payload == nil {
		if m.Kind == KindPulse || m.Kind == KindBlip {
			return m, nil
		}
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownKind, env.MsgType)
	}
	if len(env.Data) == 0 {
		return Message{}, fmt.Errorf("%w: %s", ErrMissingPayload, env.MsgType)
	}
	if err := json.Unmarshal(env.Data, payload); err != nil {
		return Message{}, fmt.Errorf("protocol: decode %s payload: %w", env.MsgType, err)
	}
	return m, nil
}

// payload returns the populated payload field for the message's kind, or nil
// for payload-less kinds.
func (m Message) payload() any {
	switch m.Kind {
	case KindConnectionReady:
		return m.Ready
	case KindCreateJoinRoom:
		return m.CreateJoin
	case KindRoomCreated:
		return m.RoomCreated
	case KindRoomJoined:
		return m.RoomJoined
	case KindUserJoined:
		return m.UserJoined
	case KindUserLeft:
		return m.UserLeft
	case KindStateUpdate:
		return m.StateUpdate
	case KindRejoinFailed:
		return m.RejoinFailed
	}
	return nil
}

// allocPayload allocates the payload field for the message's kind and
// returns a pointer to it for decoding. Returns nil for payload-less or
// unknown kinds.
func (m *Message) allocPayload() any {
	switch m.Kind {
	case KindConnectionReady:
		m.Ready = &ConnectionReady{}
		return m.Ready
	case KindCreateJoinRoom:
		m.CreateJoin = &CreateJoinRequest{}
		return m.CreateJoin
	case KindRoomCreated:
		m.RoomCreated = &RoomCreated{}
		return m.RoomCreated
	case KindRoomJoined:
		m.RoomJoined = &RoomJoined{}
		return m.RoomJoined
	case KindUserJoined:
		m.UserJoined = &UserJoined{}
		return m.UserJoined
	case KindUserLeft:
		m.UserLeft = &UserLeft{}
		return m.UserLeft
	case KindStateUpdate:
		m.StateUpdate = &state.StateUpdate{}
		return m.StateUpdate
	case KindRejoinFailed:
		m.RejoinFailed = &RejoinFailed{}
		return m.RejoinFailed
	}
	return nil
}
