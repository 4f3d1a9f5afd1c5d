package state

// StateUpdate is a delta against a RoomState: new objects, changed objects,
// deleted object ids, and room property changes. Updates are never full
// snapshots, with one exception: the "room joined" reply synthesized by
// Room.Snapshot carries every current object in Create.
//
// An id must not appear in both Create and Delete of the same update.
// Update entries should refer to ids that already exist; entries that do
// not are rerouted into Create during Apply (see RoomState.Apply).
type StateUpdate struct {
	Create []RoomObject `json:"create,omitempty"`
	Update []RoomObject `json:"update,omitempty"`
	Delete []int64      `json:"delete,omitempty"`
	Props  Props        `json:"props,omitempty"`
}

// IsEmpty reports whether the update carries no changes at all.
func (u StateUpdate) IsEmpty() bool {
	return len(u.Create) == 0 && len(u.Update) == 0 && len(u.Delete) == 0 && len(u.Props) == 0
}

// Clone returns a deep copy of the update.
func (u StateUpdate) Clone() StateUpdate {
	out := StateUpdate{
		Create: make([]RoomObject, len(u.Create)),
		Update: make([]RoomObject, len(u.Update)),
		Delete: append([]int64(nil), u.Delete...),
		Props:  u.Props.Clone(),
	}
	for i, o := range u.Create {
		out.Create[i] = o.Clone()
	}
	for i, o := range u.Update {
		out.Update[i] = o.Clone()
	}
	return out
}

// Merge combines a newer update with an older pending one so that applying
// the merged update alone has the same effect as applying older then newer.
// It is used to coalesce rapid local updates into a single broadcast per
// queue drain.
//
// Create and Delete lists concatenate, older first; duplicate ids are
// harmless under the idempotent Apply. Props merge last-writer-wins with the
// newer update taking precedence. Update entries present in both take the
// union of their props with the newer values winning, and the name falls
// back to the older entry's when the newer one is empty.
func Merge(newer, older StateUpdate) StateUpdate {
	out := StateUpdate{
		Create: concatObjects(older.Create, newer.Create),
		Delete: concatIDs(older.Delete, newer.Delete),
		Props:  older.Props.Merge(newer.Props),
	}

	olderByID := make(map[int64]RoomObject, len(older.Update))
	for _, o := range older.Update {
		olderByID[o.ID] = o
	}

	seen := make(map[int64]bool, len(newer.Update))
	for _, o := range newer.Update {
		seen[o.ID] = true
		if om, ok := olderByID[o.ID]; ok {
			merged := o.Clone()
			merged.Props = om.Props.Merge(o.Props)
			if merged.Name == "" {
				merged.Name = om.Name
			}
			out.Update = append(out.Update, merged)
		} else {
			out.Update = append(out.Update, o.Clone())
		}
	}
	for _, o := range older.Update {
		if !seen[o.ID] {
			out.Update = append(out.Update, o.Clone())
		}
	}
	return out
}

func concatObjects(a, b []RoomObject) []RoomObject {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make([]RoomObject, 0, len(a)+len(b))
	for _, o := range a {
		out = append(out, o.Clone())
	}
	for _, o := range b {
		out = append(out, o.Clone())
	}
	return out
}

func concatIDs(a, b []int64) []int64 {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make([]int64, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}
