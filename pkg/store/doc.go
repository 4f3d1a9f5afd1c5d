// Package store is the shared source of truth for rooms: a Redis key-value
// layout plus the pub/sub channels that replicate room events to every
// server process.
//
// The store holds three kinds of keys: the room record by id, a name alias
// pointing at the id, and one assignment per live socket naming the room it
// belongs to. Assignments double as liveness markers; the stale-room sweep
// deletes any room no assignment references.
//
// Every operation takes a context and returns its error to the caller. The
// store never retries; deciding what a failure means is the coordinator's
// job.
package store
