package hub

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/corelay-dev/corelay/pkg/protocol"
	"github.com/corelay-dev/corelay/pkg/state"
	"github.com/corelay-dev/corelay/pkg/store"
)

// publishTimeout bounds the background store publish that follows a local
// apply.
const publishTimeout = 5 * time.Second

// Store is the slice of the shared store the coordinator needs. Implemented
// by *store.Client; tests substitute an in-memory fake.
type Store interface {
	RoomExists(ctx context.Context, roomName string) (bool, error)
	CreateRoom(ctx context.Context, room *state.Room, origin string) error
	GetRoom(ctx context.Context, roomName string) (*state.Room, error)
	GetRoomByID(ctx context.Context, roomID string) (*state.Room, error)
	JoinUserToRoom(ctx context.Context, roomID string, p state.Participant, rejoin bool, origin string) error
	LeaveUserFromRoom(ctx context.Context, roomID, participantID, origin string) error
	PublishStateUpdate(ctx context.Context, roomID, socketID string, update state.StateUpdate, origin string) error
	RemoveRoom(ctx context.Context, room *state.Room, origin string) error
	AssignSocketToRoom(ctx context.Context, sessionID, roomID string) error
	RemoveSocketAssignment(ctx context.Context, sessionID string) error
	GetSocketAssignment(ctx context.Context, sessionID string) (string, error)
	AllRoomKeys(ctx context.Context) ([]string, error)
}

// Broadcaster delivers messages to locally connected sockets. Implemented by
// Hub. Send and Disconnect are no-ops for session ids that are not connected
// to this process, which lets the coordinator fan out to a room's full
// membership without tracking which participants are local.
type Broadcaster interface {
	Send(sessionID string, msg protocol.Message)
	Disconnect(sessionID string)

	// Staleify rebinds the socket holding sessionID to a throwaway id and
	// marks it stale, freeing the real id for a reconnecting socket.
	// Returns the throwaway id, or "" when no local socket holds sessionID.
	Staleify(sessionID string) string
}

// pendingUpdate is an outgoing state delta waiting for the next queue drain.
// Updates from the same sender to the same room coalesce into one broadcast.
type pendingUpdate struct {
	senderSID string
	update    state.StateUpdate
}

// Coordinator owns the local room replica and runs every room mutation.
// All methods except constructor and the read-only helpers must run on the
// queue goroutine; the queue's FIFO order is what makes the replica safe
// without locks.
type Coordinator struct {
	serverID string
	store    Store
	b        Broadcaster
	queue    *Queue
	metrics  *Metrics
	logger   *slog.Logger
	tracer   trace.Tracer

	rooms       map[string]*state.Room   // replica, by room id
	pending     map[string]pendingUpdate // coalesced outgoing updates, by room id
	sessionRoom map[string]string        // local session id -> room id
}

// NewCoordinator creates a coordinator. The broadcaster is set separately
// because Hub and Coordinator reference each other.
func NewCoordinator(serverID string, st Store, queue *Queue, metrics *Metrics, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		serverID:    serverID,
		store:       st,
		queue:       queue,
		metrics:     metrics,
		logger:      logger.With("component", "coordinator"),
		tracer:      otel.Tracer("corelay/hub"),
		rooms:       make(map[string]*state.Room),
		pending:     make(map[string]pendingUpdate),
		sessionRoom: make(map[string]string),
	}
}

// SetBroadcaster wires the hub in. Must be called before serving.
func (c *Coordinator) SetBroadcaster(b Broadcaster) {
	c.b = b
}

// SyncWithStore seeds the replica from the store. Called once at startup,
// before the websocket endpoint accepts connections, so this server answers
// joins for rooms created by its peers.
func (c *Coordinator) SyncWithStore(ctx context.Context) error {
	ctx, span := c.tracer.Start(ctx, "coordinator.SyncWithStore")
	defer span.End()

	keys, err := c.store.AllRoomKeys(ctx)
	if err != nil {
		return err
	}
	for _, key := range keys {
		room, err := c.store.GetRoomByID(ctx, store.RoomIDFromKey(key))
		if errors.Is(err, store.ErrRoomNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		c.rooms[room.ID] = room
	}
	c.metrics.Rooms.Set(float64(len(c.rooms)))
	c.logger.Info("replica synchronized", "rooms", len(c.rooms))
	return nil
}

// CreateOrJoinRoom joins the socket to the named room, creating the room if
// it does not exist. The requester gets room:created (create only) and
// room:joined with the full snapshot; everyone else in the room gets
// room:user:joined. Requests missing the room name, username, or user id
// force-disconnect the socket.
func (c *Coordinator) CreateOrJoinRoom(ctx context.Context, sid string, req protocol.CreateJoinRequest) {
	ctx, span := c.tracer.Start(ctx, "coordinator.CreateOrJoinRoom")
	defer span.End()

	if req.Room == "" || req.Username == "" || req.UserID == "" {
		c.fail(span, sid, "validate join request", ErrMalformedJoin)
		return
	}
	if _, joined := c.sessionRoom[sid]; joined {
		c.logger.Warn("join rejected", "error", ErrAlreadyInRoom, "sid", sid, "room", req.Room)
		return
	}

	exists, err := c.store.RoomExists(ctx, req.Room)
	if err != nil {
		c.fail(span, sid, "check room", err)
		return
	}

	var room *state.Room
	created := false
	if exists {
		if room, err = c.store.GetRoom(ctx, req.Room); err != nil {
			c.fail(span, sid, "load room", err)
			return
		}
	} else {
		room = state.NewRoom(req.Room)
		switch err = c.store.CreateRoom(ctx, room, c.serverID); {
		case errors.Is(err, store.ErrRoomExists):
			// Lost a create race against another server between the
			// existence check and the write; join the winner's room.
			if room, err = c.store.GetRoom(ctx, req.Room); err != nil {
				c.fail(span, sid, "load room", err)
				return
			}
		case err != nil:
			c.fail(span, sid, "create room", err)
			return
		default:
			created = true
		}
	}

	p := state.NewParticipant(req.UserID, req.Username, req.Device, sid)
	if err = c.store.JoinUserToRoom(ctx, room.ID, p, false, c.serverID); err != nil {
		c.fail(span, sid, "join room", err)
		return
	}
	if err = c.store.AssignSocketToRoom(ctx, sid, room.ID); err != nil {
		c.fail(span, sid, "assign socket", err)
		return
	}

	room.Participants = append(room.Participants, p)
	c.rooms[room.ID] = room
	c.sessionRoom[sid] = room.ID
	c.metrics.Rooms.Set(float64(len(c.rooms)))

	if created {
		c.b.Send(sid, protocol.NewRoomCreated(room.ID))
	}
	c.b.Send(sid, protocol.NewRoomJoined(room.Snapshot()))
	c.broadcast(room, protocol.NewUserJoined(p.Name), sid)

	c.logger.Info("user joined", "room", room.Name, "user", p.Name, "created", created)
}

// UpdateRoomState applies a client's delta to the replica and schedules its
// broadcast and replication. Owner stamping happens here: create entries
// without an owner get the sender's participant id, so clients cannot plant
// objects owned by someone else. Update entries equivalent to the object the
// replica already holds are dropped, so a client resending its unchanged
// objects every tick does not fan out as a broadcast storm.
func (c *Coordinator) UpdateRoomState(ctx context.Context, sid string, update state.StateUpdate) {
	roomID, joined := c.sessionRoom[sid]
	if !joined {
		c.logger.Warn("state update rejected", "error", ErrRoomNotJoined, "sid", sid)
		c.b.Disconnect(sid)
		return
	}
	room := c.rooms[roomID]
	p := room.ParticipantBySession(sid)
	if p == nil {
		c.logger.Warn("state update rejected", "error", ErrUnknownSession, "sid", sid)
		return
	}

	update = update.Clone()
	for i := range update.Create {
		if update.Create[i].Owner == "" {
			update.Create[i].Owner = p.ID
		}
	}
	update.Update = dropNoOpUpdates(room.State, update.Update)
	if update.IsEmpty() {
		return
	}

	room.State = room.State.Apply(update)
	c.metrics.StateUpdates.Inc()

	if entry, ok := c.pending[roomID]; ok {
		if entry.senderSID == sid {
			entry.update = state.Merge(update, entry.update)
			c.pending[roomID] = entry
			return
		}
		// A second sender in the same tick: flush what we have so the
		// exclusion of each sender from its own broadcast stays exact.
		c.FlushRoom(roomID)
	}
	c.pending[roomID] = pendingUpdate{senderSID: sid, update: update}
	c.queue.Enqueue(func() { c.FlushRoom(roomID) })
}

// dropNoOpUpdates filters out update entries that would leave their object
// unchanged. Applying an update keeps the object's existing owner and
// disposable flag, so the comparison carries those over before asking
// Equivalent. Entries for unknown ids pass through untouched; Apply reroutes
// them to creates.
func dropNoOpUpdates(rs state.RoomState, updates []state.RoomObject) []state.RoomObject {
	kept := updates[:0]
	for _, obj := range updates {
		if cur, ok := rs.Objects[obj.ID]; ok {
			next := obj
			next.Owner, next.Disposable = cur.Owner, cur.Disposable
			if cur.Equivalent(next) {
				continue
			}
		}
		kept = append(kept, obj)
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

// FlushRoom broadcasts and replicates the pending update for a room, if any.
func (c *Coordinator) FlushRoom(roomID string) {
	entry, ok := c.pending[roomID]
	if !ok {
		return
	}
	delete(c.pending, roomID)
	room := c.rooms[roomID]
	if room == nil {
		return // room closed between apply and flush
	}
	c.broadcast(room, protocol.NewStateUpdate(entry.update), entry.senderSID)
	c.publishAsync(roomID, entry.senderSID, entry.update)
}

// publishAsync replicates an already-applied update to the store without
// blocking the queue. Failures are counted and logged; peers diverge until
// the next update but the local room keeps working.
func (c *Coordinator) publishAsync(roomID, senderSID string, update state.StateUpdate) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := c.store.PublishStateUpdate(ctx, roomID, senderSID, update, c.serverID); err != nil {
			c.metrics.ReplicationFailures.Inc()
			c.logger.Error("replicate state update", "error", err, "room", roomID)
		}
	}()
}

// LeaveUserFromRoom runs the full leave flow for a local socket: membership
// removal, assignment cleanup, user:left announcement, disposable-object
// cleanup, and closing the room when it empties.
func (c *Coordinator) LeaveUserFromRoom(ctx context.Context, sid string) {
	ctx, span := c.tracer.Start(ctx, "coordinator.LeaveUserFromRoom")
	defer span.End()

	roomID, joined := c.sessionRoom[sid]
	if !joined {
		return
	}
	delete(c.sessionRoom, sid)

	room := c.rooms[roomID]
	if room == nil {
		return
	}
	p := room.ParticipantBySession(sid)
	if p == nil {
		return
	}
	participant := *p

	// Replace the replica room wholesale rather than mutating it in place.
	next := room.Clone()
	kept := make([]state.Participant, 0, len(next.Participants))
	for _, member := range next.Participants {
		if member.ID != participant.ID {
			kept = append(kept, member)
		}
	}
	next.Participants = kept
	c.rooms[roomID] = next
	room = next

	if err := c.store.LeaveUserFromRoom(ctx, roomID, participant.ID, c.serverID); err != nil {
		c.logger.Error("leave room", "error", err, "room", roomID, "user", participant.Name)
	}
	if err := c.store.RemoveSocketAssignment(ctx, sid); err != nil {
		c.logger.Error("remove assignment", "error", err, "sid", sid)
	}

	c.broadcast(room, protocol.NewUserLeft(participant.Name), sid)

	if ids := room.State.DisposablesOwnedBy(participant.ID); len(ids) > 0 {
		cleanup := state.StateUpdate{Delete: ids}
		room.State = room.State.Apply(cleanup)
		c.metrics.StateUpdates.Inc()
		c.broadcast(room, protocol.NewStateUpdate(cleanup), sid)
		c.publishAsync(roomID, "", cleanup)
	}

	if len(room.Participants) == 0 {
		c.CloseRoom(ctx, roomID)
	}
	c.logger.Info("user left", "room", room.Name, "user", participant.Name)
}

// CloseRoom force-disconnects any remaining local members, drops the room
// from the replica, and deletes it from the store.
func (c *Coordinator) CloseRoom(ctx context.Context, roomID string) {
	ctx, span := c.tracer.Start(ctx, "coordinator.CloseRoom")
	defer span.End()

	room := c.rooms[roomID]
	if room == nil {
		return
	}
	c.dropRoomLocally(roomID, room)
	if err := c.store.RemoveRoom(ctx, room, c.serverID); err != nil {
		c.logger.Error("remove room", "error", err, "room", roomID)
	}
	c.logger.Info("room closed", "room", room.Name)
}

// dropRoomLocally removes a room from the replica and disconnects its local
// sockets. Store state is untouched.
func (c *Coordinator) dropRoomLocally(roomID string, room *state.Room) {
	for _, p := range room.Participants {
		if _, local := c.sessionRoom[p.SessionID]; local {
			delete(c.sessionRoom, p.SessionID)
			c.b.Disconnect(p.SessionID)
		}
	}
	delete(c.rooms, roomID)
	delete(c.pending, roomID)
	c.metrics.Rooms.Set(float64(len(c.rooms)))
}

// AttemptReconnect resumes the session previously bound to oldSID on the
// socket now holding newSID. On success the superseded socket is staleified
// and closed, the participant keeps its identity, and the membership list is
// untouched. On any failure the client gets rejoin:failed and nothing
// changes.
func (c *Coordinator) AttemptReconnect(ctx context.Context, newSID, oldSID string) {
	ctx, span := c.tracer.Start(ctx, "coordinator.AttemptReconnect")
	defer span.End()

	fail := func(reason string) {
		c.logger.Info("rejoin failed", "reason", reason, "old_sid", oldSID)
		c.b.Send(newSID, protocol.NewRejoinFailed(reason))
	}

	roomID, err := c.store.GetSocketAssignment(ctx, oldSID)
	if err != nil {
		fail("unknown session")
		return
	}
	room := c.rooms[roomID]
	if room == nil {
		if room, err = c.store.GetRoomByID(ctx, roomID); err != nil {
			fail("room no longer exists")
			return
		}
		c.rooms[roomID] = room
	}
	if room.ParticipantBySession(oldSID) == nil {
		fail("session not in room")
		return
	}

	throwaway := c.b.Staleify(oldSID)

	// Rebind on a copy and swap the replica entry wholesale.
	next := room.Clone()
	p := next.ParticipantBySession(oldSID)
	p.SessionID = newSID
	c.rooms[roomID] = next
	room = next
	delete(c.sessionRoom, oldSID)
	c.sessionRoom[newSID] = roomID

	if err := c.store.JoinUserToRoom(ctx, roomID, *p, true, c.serverID); err != nil {
		c.logger.Error("replicate rejoin", "error", err, "room", roomID)
	}
	if err := c.store.RemoveSocketAssignment(ctx, oldSID); err != nil {
		c.logger.Error("remove assignment", "error", err, "sid", oldSID)
	}
	if err := c.store.AssignSocketToRoom(ctx, newSID, roomID); err != nil {
		c.logger.Error("assign socket", "error", err, "sid", newSID)
	}

	c.b.Send(newSID, protocol.NewRoomJoined(room.Snapshot()))
	if throwaway != "" {
		c.b.Disconnect(throwaway)
	}
	c.metrics.Reconnects.Inc()
	c.logger.Info("session resumed", "room", room.Name, "user", p.Name)
}

// HandleChannelMessage dispatches one replication event. Must run on the
// queue goroutine; the hub's subscription handler enqueues it.
func (c *Coordinator) HandleChannelMessage(m store.ChannelMessage) {
	switch m.MsgType {
	case store.ChannelRoomCreated:
		var e store.RoomCreatedEvent
		if c.decode(m, &e) {
			c.OnRoomCreated(e)
		}
	case store.ChannelRoomUserJoined:
		var e store.UserJoinedEvent
		if c.decode(m, &e) {
			c.OnUserJoined(e)
		}
	case store.ChannelRoomUserLeft:
		var e store.UserLeftEvent
		if c.decode(m, &e) {
			c.OnUserLeft(e)
		}
	case store.ChannelRoomClosed:
		var e store.RoomClosedEvent
		if c.decode(m, &e) {
			c.OnRoomClosed(e)
		}
	case store.ChannelRoomStateUpdate:
		var e store.StateUpdateEvent
		if c.decode(m, &e) {
			c.OnStateUpdate(e)
		}
	case store.ChannelStaleRoomsRemoved:
		var e store.StaleRoomsRemovedEvent
		if c.decode(m, &e) {
			c.OnStaleRoomsRemoved(e)
		}
	default:
		c.logger.Warn("unknown channel message", "msgType", m.MsgType)
	}
}

func (c *Coordinator) decode(m store.ChannelMessage, into any) bool {
	if err := m.DecodePayload(into); err != nil {
		c.logger.Error("bad channel message", "error", err, "msgType", m.MsgType)
		return false
	}
	return true
}

// OnRoomCreated adds a peer-created room to the replica.
func (c *Coordinator) OnRoomCreated(e store.RoomCreatedEvent) {
	if e.Origin == c.serverID {
		return
	}
	room := e.Room
	c.rooms[room.ID] = &room
	c.metrics.Rooms.Set(float64(len(c.rooms)))
}

// OnUserJoined records a peer-side join and announces it to local members.
func (c *Coordinator) OnUserJoined(e store.UserJoinedEvent) {
	if e.Origin == c.serverID {
		return
	}
	room := c.rooms[e.RoomID]
	if room == nil {
		c.logger.Warn("join event for unknown room", "room", e.RoomID)
		return
	}
	next := room.Clone()
	if e.Rejoin {
		if p := next.ParticipantByID(e.Participant.ID); p != nil {
			p.SessionID = e.Participant.SessionID
			c.rooms[e.RoomID] = next
		}
		return
	}
	next.Participants = append(next.Participants, e.Participant)
	c.rooms[e.RoomID] = next
	c.broadcast(next, protocol.NewUserJoined(e.Participant.Name), e.Participant.SessionID)
}

// OnUserLeft records a peer-side leave and announces it to local members.
// The peer replicates any disposable cleanup as a separate state update.
func (c *Coordinator) OnUserLeft(e store.UserLeftEvent) {
	if e.Origin == c.serverID {
		return
	}
	room := c.rooms[e.RoomID]
	if room == nil {
		return
	}
	next := room.Clone()
	kept := make([]state.Participant, 0, len(next.Participants))
	for _, p := range next.Participants {
		if p.ID != e.ParticipantID {
			kept = append(kept, p)
		}
	}
	next.Participants = kept
	c.rooms[e.RoomID] = next
	c.broadcast(next, protocol.NewUserLeft(e.Username), "")
}

// OnRoomClosed drops a peer-closed room, disconnecting any local members.
func (c *Coordinator) OnRoomClosed(e store.RoomClosedEvent) {
	if e.Origin == c.serverID {
		return
	}
	if room := c.rooms[e.RoomID]; room != nil {
		c.dropRoomLocally(e.RoomID, room)
	}
}

// OnStateUpdate applies a peer-originated delta. Events this server
// published are skipped: the delta was already applied locally before the
// publish.
func (c *Coordinator) OnStateUpdate(e store.StateUpdateEvent) {
	if e.Origin == c.serverID {
		return
	}
	room := c.rooms[e.RoomID]
	if room == nil {
		c.logger.Warn("state update for unknown room", "room", e.RoomID)
		return
	}
	room.State = room.State.Apply(e.Update)
	c.metrics.StateUpdates.Inc()
	c.broadcast(room, protocol.NewStateUpdate(e.Update), e.SocketID)
}

// OnStaleRoomsRemoved drops swept rooms from the replica.
func (c *Coordinator) OnStaleRoomsRemoved(e store.StaleRoomsRemovedEvent) {
	for _, id := range e.RoomIDs {
		if room := c.rooms[id]; room != nil {
			c.dropRoomLocally(id, room)
		}
	}
}

// broadcast sends msg to every local member of the room except excludeSID.
func (c *Coordinator) broadcast(room *state.Room, msg protocol.Message, excludeSID string) {
	for _, p := range room.Participants {
		sid := p.SessionID
		if sid == excludeSID {
			continue
		}
		if _, local := c.sessionRoom[sid]; !local {
			continue
		}
		c.b.Send(sid, msg)
		c.metrics.Broadcasts.Inc()
	}
}

// fail logs a flow failure and disconnects the offending socket.
func (c *Coordinator) fail(span trace.Span, sid, op string, err error) {
	span.RecordError(err)
	c.logger.Error(op, "error", err, "sid", sid)
	c.b.Disconnect(sid)
}

// RoomSummary is the REST shape of a room.
type RoomSummary struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Participants []ParticipantSummary `json:"participants"`
}

// ParticipantSummary is the REST shape of a participant.
type ParticipantSummary struct {
	Name   string           `json:"name"`
	Device state.DeviceType `json:"device"`
}

// Rooms summarizes the replica for the REST surface, sorted by room name.
// Must run on the queue goroutine.
func (c *Coordinator) Rooms() []RoomSummary {
	out := make([]RoomSummary, 0, len(c.rooms))
	for _, room := range c.rooms {
		out = append(out, summarize(room))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RoomByName returns the summary of one room. Must run on the queue
// goroutine.
func (c *Coordinator) RoomByName(name string) (RoomSummary, bool) {
	for _, room := range c.rooms {
		if room.Name == name {
			return summarize(room), true
		}
	}
	return RoomSummary{}, false
}

func summarize(room *state.Room) RoomSummary {
	s := RoomSummary{ID: room.ID, Name: room.Name}
	for _, p := range room.Participants {
		s.Participants = append(s.Participants, ParticipantSummary{Name: p.Name, Device: p.Device})
	}
	return s
}
