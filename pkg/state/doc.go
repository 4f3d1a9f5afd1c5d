// Package state defines the room state model and its diff/merge algebra.
//
// A Room holds a set of Participants and a RoomState. The RoomState is a
// versioned value: it is never mutated in place. Every change arrives as a
// StateUpdate (a delta of object creates, updates, deletes and room property
// changes) and is applied with RoomState.Apply, which returns a new RoomState.
//
// All operations in this package are pure and total. Malformed input such as
// duplicate ids or deletes of unknown objects is absorbed by last-writer-wins
// semantics instead of being rejected; callers that need stricter validation
// must perform it before applying.
package state
