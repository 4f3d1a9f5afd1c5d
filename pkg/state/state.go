package state

// RoomState is the versioned value holding a room's property map and its
// object set. Instances are immutable by convention: Apply returns a new
// RoomState and never touches the receiver.
type RoomState struct {
	Props   Props                `json:"props"`
	Objects map[int64]RoomObject `json:"objects"`
}

// NewRoomState creates an empty room state with non-nil maps.
func NewRoomState() RoomState {
	return RoomState{Props: Props{}, Objects: map[int64]RoomObject{}}
}

// Clone returns a deep copy of the state.
func (s RoomState) Clone() RoomState {
	out := RoomState{
		Props:   s.Props.Clone(),
		Objects: make(map[int64]RoomObject, len(s.Objects)),
	}
	for id, o := range s.Objects {
		out.Objects[id] = o.Clone()
	}
	return out
}

// Apply transforms the state by the given update and returns the result.
//
// Processing order matters and is part of the replication contract:
//
//  1. Update props are merged over the current props, last writer wins.
//  2. Every id in Delete is removed if present; deleting an absent id is a
//     silent no-op, which makes deletes idempotent.
//  3. Update entries whose id is not in the object map are rerouted into the
//     create set. A missing id here usually means the matching "create" was
//     lost in a delivery race, so treating it as a create self-heals the
//     replica. Entries whose id exists replace the object's props wholesale
//     while keeping the existing owner, disposable flag, and name.
//  4. Create entries (including rerouted ones) insert or overwrite by id,
//     taking owner, disposable, and name from the incoming object and
//     replacing props as a whole.
func (s RoomState) Apply(u StateUpdate) RoomState {
	out := s.Clone()
	out.Props = s.Props.Merge(u.Props)

	for _, id := range u.Delete {
		delete(out.Objects, id)
	}

	var rerouted []RoomObject
	for _, o := range u.Update {
		existing, ok := out.Objects[o.ID]
		if !ok {
			rerouted = append(rerouted, o)
			continue
		}
		next := o.Clone()
		next.Owner = existing.Owner
		next.Disposable = existing.Disposable
		next.Name = existing.Name
		out.Objects[o.ID] = next
	}

	for _, o := range u.Create {
		out.Objects[o.ID] = o.Clone()
	}
	for _, o := range rerouted {
		out.Objects[o.ID] = o.Clone()
	}
	return out
}

// DisposablesOwnedBy returns the ids of all disposable objects owned by the
// given participant id. Used to build the cleanup delete issued when an
// owner leaves the room.
func (s RoomState) DisposablesOwnedBy(participantID string) []int64 {
	var ids []int64
	for id, o := range s.Objects {
		if o.Disposable && o.Owner == participantID {
			ids = append(ids, id)
		}
	}
	return ids
}
