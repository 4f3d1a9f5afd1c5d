package protocol

import (
	"fmt"

	"github.com/corelay-dev/corelay/pkg/state"
)

// Binary kind tags. The first frame byte selects the message kind; the rest
// of the frame is the kind's payload.
const (
	tagPulse           = 0x00
	tagBlip            = 0x01
	tagConnectionReady = 0x02
	tagCreateJoinRoom  = 0x03
	tagRoomCreated     = 0x04
	tagRoomJoined      = 0x05
	tagUserJoined      = 0x06
	tagUserLeft        = 0x07
	tagStateUpdate     = 0x08
	tagRejoinFailed    = 0x09
)

func kindTag(k Kind) (byte, bool) {
	switch k {
	case KindPulse:
		return tagPulse, true
	case KindBlip:
		return tagBlip, true
	case KindConnectionReady:
		return tagConnectionReady, true
	case KindCreateJoinRoom:
		return tagCreateJoinRoom, true
	case KindRoomCreated:
		return tagRoomCreated, true
	case KindRoomJoined:
		return tagRoomJoined, true
	case KindUserJoined:
		return tagUserJoined, true
	case KindUserLeft:
		return tagUserLeft, true
	case KindStateUpdate:
		return tagStateUpdate, true
	case KindRejoinFailed:
		return tagRejoinFailed, true
	}
	return 0, false
}

func tagKind(t byte) (Kind, bool) {
	switch t {
	case tagPulse:
		return KindPulse, true
	case tagBlip:
		return KindBlip, true
	case tagConnectionReady:
		return KindConnectionReady, true
	case tagCreateJoinRoom:
		return KindCreateJoinRoom, true
	case tagRoomCreated:
		return KindRoomCreated, true
	case tagRoomJoined:
		return KindRoomJoined, true
	case tagUserJoined:
		return KindUserJoined, true
	case tagUserLeft:
		return KindUserLeft, true
	case tagStateUpdate:
		return KindStateUpdate, true
	case tagRejoinFailed:
		return KindRejoinFailed, true
	}
	return "", false
}

// BinaryCodec encodes messages as compact binary frames: one tag byte, then
// varint and length-prefixed fields. A heartbeat frame is a single byte.
type BinaryCodec struct{}

// Binary reports the websocket frame type. Binary frames, naturally.
func (BinaryCodec) Binary() bool { return true }

// Marshal encodes the message as a binary frame.
func (BinaryCodec) Marshal(m Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	tag, ok := kindTag(m.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, m.Kind)
	}

	e := NewEncoder()
	e.WriteByte(tag)
	switch m.Kind {
	case KindConnectionReady:
		e.WriteString(m.Ready.SessionID)
	case KindCreateJoinRoom:
		e.WriteString(m.CreateJoin.Room)
		e.WriteString(m.CreateJoin.Username)
		e.WriteString(m.CreateJoin.UserID)
		e.WriteString(string(m.CreateJoin.Device))
	case KindRoomCreated:
		e.WriteString(m.RoomCreated.RoomID)
	case KindRoomJoined:
		encodeUpdate(e, m.RoomJoined.Update)
	case KindUserJoined:
		e.WriteString(m.UserJoined.Username)
	case KindUserLeft:
		e.WriteString(m.UserLeft.Username)
	case KindStateUpdate:
		encodeUpdate(e, *m.StateUpdate)
	case KindRejoinFailed:
		e.WriteString(m.RejoinFailed.Error)
	}

	out := make([]byte, e.Len())
	copy(out, e.Bytes())
	return out, nil
}

// Unmarshal decodes a binary frame into a message.
func (BinaryCodec) Unmarshal(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, ErrEmptyFrame
	}
	kind, ok := tagKind(data[0])
	if !ok {
		return Message{}, fmt.Errorf("%w: tag 0x%02x", ErrUnknownKind, data[0])
	}

	d := NewDecoder(data[1:])
	m := Message{Kind: kind}
	var err error
	switch kind {
	case KindConnectionReady:
		p := &ConnectionReady{}
		p.SessionID, err = d.ReadString()
		m.Ready = p
	case KindCreateJoinRoom:
		p := &CreateJoinRequest{}
		if p.Room, err = d.ReadString(); err == nil {
			if p.Username, err = d.ReadString(); err == nil {
				if p.UserID, err = d.ReadString(); err == nil {
					var dev string
					dev, err = d.ReadString()
					p.Device = state.DeviceType(dev)
				}
			}
		}
		m.CreateJoin = p
	case KindRoomCreated:
		p := &RoomCreated{}
		p.RoomID, err = d.ReadString()
		m.RoomCreated = p
	case KindRoomJoined:
		p := &RoomJoined{}
		p.Update, err = decodeUpdate(d)
		m.RoomJoined = p
	case KindUserJoined:
		p := &UserJoined{}
		p.Username, err = d.ReadString()
		m.UserJoined = p
	case KindUserLeft:
		p := &UserLeft{}
		p.Username, err = d.ReadString()
		m.UserLeft = p
	case KindStateUpdate:
		var u state.StateUpdate
		u, err = decodeUpdate(d)
		m.StateUpdate = &u
	case KindRejoinFailed:
		p := &RejoinFailed{}
		p.Error, err = d.ReadString()
		m.RejoinFailed = p
	}
	if err != nil {
		return Message{}, fmt.Errorf("protocol: decode %s payload: %w", kind, err)
	}
	return m, nil
}

// Update payload layout: create objects, update objects, delete ids, props.
// Each section is count-prefixed.

func encodeUpdate(e *Encoder, u state.StateUpdate) {
	e.WriteUvarint(uint64(len(u.Create)))
	for _, o := range u.Create {
		encodeObject(e, o)
	}
	e.WriteUvarint(uint64(len(u.Update)))
	for _, o := range u.Update {
		encodeObject(e, o)
	}
	e.WriteUvarint(uint64(len(u.Delete)))
	for _, id := range u.Delete {
		e.WriteSvarint(id)
	}
	encodeProps(e, u.Props)
}

func decodeUpdate(d *Decoder) (state.StateUpdate, error) {
	var u state.StateUpdate

	n, err := d.ReadCollectionCount()
	if err != nil {
		return u, err
	}
	for i := 0; i < n; i++ {
		o, err := decodeObject(d)
		if err != nil {
			return u, err
		}
		u.Create = append(u.Create, o)
	}

	if n, err = d.ReadCollectionCount(); err != nil {
		return u, err
	}
	for i := 0; i < n; i++ {
		o, err := decodeObject(d)
		if err != nil {
			return u, err
		}
		u.Update = append(u.Update, o)
	}

	if n, err = d.ReadCollectionCount(); err != nil {
		return u, err
	}
	for i := 0; i < n; i++ {
		id, err := d.ReadSvarint()
		if err != nil {
			return u, err
		}
		u.Delete = append(u.Delete, id)
	}

	u.Props, err = decodeProps(d)
	return u, err
}

func encodeObject(e *Encoder, o state.RoomObject) {
	e.WriteSvarint(o.ID)
	e.WriteString(o.Owner)
	e.WriteBool(o.Disposable)
	e.WriteString(o.Name)
	encodeProps(e, o.Props)
}

func decodeObject(d *Decoder) (state.RoomObject, error) {
	var o state.RoomObject
	var err error
	if o.ID, err = d.ReadSvarint(); err != nil {
		return o, err
	}
	if o.Owner, err = d.ReadString(); err != nil {
		return o, err
	}
	if o.Disposable, err = d.ReadBool(); err != nil {
		return o, err
	}
	if o.Name, err = d.ReadString(); err != nil {
		return o, err
	}
	o.Props, err = decodeProps(d)
	return o, err
}

func encodeProps(e *Encoder, p state.Props) {
	e.WriteUvarint(uint64(len(p)))
	for k, v := range p {
		e.WriteString(k)
		e.WriteByte(byte(v.Kind))
		switch v.Kind {
		case state.KindString:
			e.WriteString(v.Str)
		case state.KindNumber:
			e.WriteFloat64(v.Num)
		case state.KindBool:
			e.WriteBool(v.Bool)
		case state.KindVector:
			e.WriteFloat64(v.Vec.X)
			e.WriteFloat64(v.Vec.Y)
			e.WriteFloat64(v.Vec.Z)
		}
	}
}

func decodeProps(d *Decoder) (state.Props, error) {
	n, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	props := make(state.Props, n)
	for i := 0; i < n; i++ {
		key, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		kb, err := d.ReadByte()
		if err != nil {
			return nil, err
		}
		var v state.PropValue
		switch kind := state.PropKind(kb); kind {
		case state.KindString:
			s, err := d.ReadString()
			if err != nil {
				return nil, err
			}
			v = state.String(s)
		case state.KindNumber:
			f, err := d.ReadFloat64()
			if err != nil {
				return nil, err
			}
			v = state.Number(f)
		case state.KindBool:
			b, err := d.ReadBool()
			if err != nil {
				return nil, err
			}
			v = state.Bool(b)
		case state.KindVector:
			var xyz [3]float64
			for j := range xyz {
				if xyz[j], err = d.ReadFloat64(); err != nil {
					return nil, err
				}
			}
			v = state.Vector(xyz[0], xyz[1], xyz[2])
		default:
			return nil, fmt.Errorf("protocol: unknown prop kind 0x%02x for key %q", kb, key)
		}
		props[key] = v
	}
	return props, nil
}
