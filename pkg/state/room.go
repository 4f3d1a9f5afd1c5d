package state

import "github.com/google/uuid"

// Room is a named collaborative session: a set of participants plus the
// shared RoomState. The name is the public join key and must be unique
// across the deployment; the id is immutable for the room's lifetime.
type Room struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Participants []Participant `json:"participants"`
	State        RoomState     `json:"state"`
}

// NewRoom creates an empty room with a fresh id.
func NewRoom(name string) *Room {
	return &Room{
		ID:    uuid.NewString(),
		Name:  name,
		State: NewRoomState(),
	}
}

// Clone returns a deep copy of the room.
func (r *Room) Clone() *Room {
	out := &Room{
		ID:           r.ID,
		Name:         r.Name,
		Participants: append([]Participant(nil), r.Participants...),
		State:        r.State.Clone(),
	}
	return out
}

// WithState returns a copy of the room carrying the given state.
func (r *Room) WithState(s RoomState) *Room {
	out := r.Clone()
	out.State = s
	return out
}

// ParticipantBySession returns the participant currently bound to the given
// session id, or nil.
func (r *Room) ParticipantBySession(sessionID string) *Participant {
	for i := range r.Participants {
		if r.Participants[i].SessionID == sessionID {
			return &r.Participants[i]
		}
	}
	return nil
}

// ParticipantByID returns the participant with the given stable id, or nil.
func (r *Room) ParticipantByID(id string) *Participant {
	for i := range r.Participants {
		if r.Participants[i].ID == id {
			return &r.Participants[i]
		}
	}
	return nil
}

// Snapshot synthesizes the full-state update sent to a socket that has just
// joined: all room props and every current object as a create entry. This is
// how late joiners catch up without replaying history.
func (r *Room) Snapshot() StateUpdate {
	u := StateUpdate{Props: r.State.Props.Clone()}
	if len(r.State.Objects) > 0 {
		u.Create = make([]RoomObject, 0, len(r.State.Objects))
		for _, o := range r.State.Objects {
			u.Create = append(u.Create, o.Clone())
		}
	}
	return u
}
