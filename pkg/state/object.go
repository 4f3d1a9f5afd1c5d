package state

// RoomObject is one piece of shared, trackable state inside a room: an
// avatar, an annotation, a placed marker. Objects are identified by an
// integer id unique within their room.
type RoomObject struct {
	// ID is the object's room-unique identifier, assigned by the client
	// that creates the object.
	ID int64 `json:"id"`

	// Owner is the participant id of the object's creator, or empty for
	// unowned objects. The server stamps this on create entries; clients
	// cannot create objects owned by someone else.
	Owner string `json:"owner,omitempty"`

	// Disposable objects are deleted automatically when their owner
	// leaves the room.
	Disposable bool `json:"disposable,omitempty"`

	// Name is an optional display name.
	Name string `json:"name,omitempty"`

	// Props is the object's open property map (position, lookDirection,
	// isHidden, prefab, and anything else the application defines).
	Props Props `json:"props,omitempty"`
}

// Clone returns a deep copy of the object.
func (o RoomObject) Clone() RoomObject {
	out := o
	out.Props = o.Props.Clone()
	return out
}

// Equivalent reports whether two objects are the same for change-detection
// purposes. It compares owner, disposable, and the tracked property fields
// (isHidden, position, lookDirection, prefab). The coordinator uses this to
// skip broadcasting no-op updates for locally owned objects.
func (o RoomObject) Equivalent(other RoomObject) bool {
	if o.Owner != other.Owner || o.Disposable != other.Disposable {
		return false
	}
	for _, key := range [...]string{PropIsHidden, PropPosition, PropLookDirection, PropPrefab} {
		a, aok := o.Props[key]
		b, bok := other.Props[key]
		if aok != bok || (aok && !a.Equal(b)) {
			return false
		}
	}
	return true
}
