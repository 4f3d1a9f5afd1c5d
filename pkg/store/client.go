package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/corelay-dev/corelay/pkg/state"
)

// Store errors.
var (
	ErrRoomNotFound       = errors.New("store: room not found")
	ErrRoomExists         = errors.New("store: room already exists")
	ErrAssignmentNotFound = errors.New("store: socket assignment not found")
	ErrUserNotInRoom      = errors.New("store: user not in room")
	ErrClosed             = errors.New("store: client closed")
)

// Options configures the Redis connection.
type Options struct {
	// Host and Port locate the Redis server.
	Host string
	Port string

	// Password is optional; empty means no AUTH.
	Password string

	// DialTimeout bounds the initial connection attempt. Zero means the
	// go-redis default.
	DialTimeout time.Duration
}

// Client wraps two Redis connections: one for commands and one dedicated to
// the pub/sub subscription, since a subscribed connection cannot issue
// regular commands.
type Client struct {
	cmd    *redis.Client
	sub    *redis.Client
	pubsub *redis.PubSub
	logger *slog.Logger
	tracer trace.Tracer
}

// NewClient connects to Redis and verifies the connection with a ping.
func NewClient(ctx context.Context, opts Options, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	addr := net.JoinHostPort(opts.Host, opts.Port)
	newConn := func() *redis.Client {
		return redis.NewClient(&redis.Options{
			Addr:        addr,
			Password:    opts.Password,
			DialTimeout: opts.DialTimeout,
		})
	}

	c := &Client{
		cmd:    newConn(),
		sub:    newConn(),
		logger: logger.With("component", "store"),
		tracer: otel.Tracer("corelay/store"),
	}
	if err := c.cmd.Ping(ctx).Err(); err != nil {
		c.cmd.Close()
		c.sub.Close()
		return nil, fmt.Errorf("store: connect to %s: %w", addr, err)
	}
	c.logger.Info("connected", "addr", addr)
	return c, nil
}

func (c *Client) span(ctx context.Context, op string) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, "store."+op)
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// RoomExists reports whether a room with the given name exists.
func (c *Client) RoomExists(ctx context.Context, roomName string) (ok bool, err error) {
	ctx, span := c.span(ctx, "RoomExists")
	defer func() { finish(span, err) }()

	n, err := c.cmd.Exists(ctx, aliasKey(roomName)).Result()
	if err != nil {
		return false, fmt.Errorf("store: room exists %q: %w", roomName, err)
	}
	return n > 0, nil
}

// CreateRoom writes the room record and its name alias, then publishes the
// created event, all in one MULTI so subscribers never observe a half
// written room. Returns ErrRoomExists when the name alias is already taken,
// so a creator racing another server loses cleanly instead of overwriting
// the winner's alias.
func (c *Client) CreateRoom(ctx context.Context, room *state.Room, origin string) (err error) {
	ctx, span := c.span(ctx, "CreateRoom")
	defer func() { finish(span, err) }()

	n, err := c.cmd.Exists(ctx, aliasKey(room.Name)).Result()
	if err != nil {
		return fmt.Errorf("store: create room %q: %w", room.Name, err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %q", ErrRoomExists, room.Name)
	}

	record, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("store: marshal room %q: %w", room.Name, err)
	}
	event, err := encodeChannelMessage(ChannelRoomCreated, RoomCreatedEvent{Room: *room, Origin: origin})
	if err != nil {
		return err
	}

	_, err = c.cmd.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, roomKey(room.ID), record, 0)
		p.Set(ctx, aliasKey(room.Name), room.ID, 0)
		p.Publish(ctx, ChannelRoomCreated, event)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: create room %q: %w", room.Name, err)
	}
	return nil
}

// GetRoom loads a room by its public name via the alias key.
func (c *Client) GetRoom(ctx context.Context, roomName string) (room *state.Room, err error) {
	ctx, span := c.span(ctx, "GetRoom")
	defer func() { finish(span, err) }()

	id, err := c.cmd.Get(ctx, aliasKey(roomName)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: resolve room %q: %w", roomName, err)
	}
	return c.getRoomByID(ctx, id)
}

// GetRoomByID loads a room by id.
func (c *Client) GetRoomByID(ctx context.Context, roomID string) (room *state.Room, err error) {
	ctx, span := c.span(ctx, "GetRoomByID")
	defer func() { finish(span, err) }()
	return c.getRoomByID(ctx, roomID)
}

func (c *Client) getRoomByID(ctx context.Context, roomID string) (*state.Room, error) {
	data, err := c.cmd.Get(ctx, roomKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load room %s: %w", roomID, err)
	}
	var room state.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("store: decode room %s: %w", roomID, err)
	}
	return &room, nil
}

// SaveRoom overwrites the room record.
func (c *Client) SaveRoom(ctx context.Context, room *state.Room) (err error) {
	ctx, span := c.span(ctx, "SaveRoom")
	defer func() { finish(span, err) }()
	return c.saveRoom(ctx, room)
}

func (c *Client) saveRoom(ctx context.Context, room *state.Room) error {
	record, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("store: marshal room %s: %w", room.ID, err)
	}
	if err := c.cmd.Set(ctx, roomKey(room.ID), record, 0).Err(); err != nil {
		return fmt.Errorf("store: save room %s: %w", room.ID, err)
	}
	return nil
}

// JoinUserToRoom adds the participant to the room record and publishes the
// joined event. With rejoin set, the existing participant entry is rebound
// to the new session id instead of being appended, leaving the membership
// list unchanged.
func (c *Client) JoinUserToRoom(ctx context.Context, roomID string, p state.Participant, rejoin bool, origin string) (err error) {
	ctx, span := c.span(ctx, "JoinUserToRoom")
	defer func() { finish(span, err) }()

	room, err := c.getRoomByID(ctx, roomID)
	if err != nil {
		return err
	}

	if rejoin {
		existing := room.ParticipantByID(p.ID)
		if existing == nil {
			return fmt.Errorf("%w: participant %s in room %s", ErrUserNotInRoom, p.ID, roomID)
		}
		existing.SessionID = p.SessionID
	} else {
		room.Participants = append(room.Participants, p)
	}
	if err := c.saveRoom(ctx, room); err != nil {
		return err
	}

	event, err := encodeChannelMessage(ChannelRoomUserJoined, UserJoinedEvent{
		RoomID:      roomID,
		Participant: p,
		Rejoin:      rejoin,
		Origin:      origin,
	})
	if err != nil {
		return err
	}
	if err := c.cmd.Publish(ctx, ChannelRoomUserJoined, event).Err(); err != nil {
		return fmt.Errorf("store: publish user joined: %w", err)
	}
	return nil
}

// LeaveUserFromRoom removes the participant from the room record and
// publishes the left event.
func (c *Client) LeaveUserFromRoom(ctx context.Context, roomID, participantID, origin string) (err error) {
	ctx, span := c.span(ctx, "LeaveUserFromRoom")
	defer func() { finish(span, err) }()

	room, err := c.getRoomByID(ctx, roomID)
	if err != nil {
		return err
	}

	var username string
	kept := room.Participants[:0]
	for _, p := range room.Participants {
		if p.ID == participantID {
			username = p.Name
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == len(room.Participants) {
		return fmt.Errorf("%w: participant %s in room %s", ErrUserNotInRoom, participantID, roomID)
	}
	room.Participants = kept
	if err := c.saveRoom(ctx, room); err != nil {
		return err
	}

	event, err := encodeChannelMessage(ChannelRoomUserLeft, UserLeftEvent{
		RoomID:        roomID,
		ParticipantID: participantID,
		Username:      username,
		Origin:        origin,
	})
	if err != nil {
		return err
	}
	if err := c.cmd.Publish(ctx, ChannelRoomUserLeft, event).Err(); err != nil {
		return fmt.Errorf("store: publish user left: %w", err)
	}
	return nil
}

// PublishStateUpdate applies the delta to the stored room record and
// publishes it. Persisting before publishing keeps late joiners on any
// server consistent with subscribers.
func (c *Client) PublishStateUpdate(ctx context.Context, roomID, socketID string, update state.StateUpdate, origin string) (err error) {
	ctx, span := c.span(ctx, "PublishStateUpdate")
	defer func() { finish(span, err) }()

	room, err := c.getRoomByID(ctx, roomID)
	if err != nil {
		return err
	}
	room.State = room.State.Apply(update)
	if err := c.saveRoom(ctx, room); err != nil {
		return err
	}

	event, err := encodeChannelMessage(ChannelRoomStateUpdate, StateUpdateEvent{
		RoomID:   roomID,
		SocketID: socketID,
		Update:   update,
		Origin:   origin,
	})
	if err != nil {
		return err
	}
	if err := c.cmd.Publish(ctx, ChannelRoomStateUpdate, event).Err(); err != nil {
		return fmt.Errorf("store: publish state update: %w", err)
	}
	return nil
}

// RemoveRoom deletes the room record and its alias and publishes the closed
// event, all in one MULTI.
func (c *Client) RemoveRoom(ctx context.Context, room *state.Room, origin string) (err error) {
	ctx, span := c.span(ctx, "RemoveRoom")
	defer func() { finish(span, err) }()

	event, err := encodeChannelMessage(ChannelRoomClosed, RoomClosedEvent{RoomID: room.ID, Origin: origin})
	if err != nil {
		return err
	}
	_, err = c.cmd.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, roomKey(room.ID), aliasKey(room.Name))
		p.Publish(ctx, ChannelRoomClosed, event)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: remove room %s: %w", room.ID, err)
	}
	return nil
}

// AssignSocketToRoom records which room a live socket belongs to.
func (c *Client) AssignSocketToRoom(ctx context.Context, sessionID, roomID string) (err error) {
	ctx, span := c.span(ctx, "AssignSocketToRoom")
	defer func() { finish(span, err) }()

	if err := c.cmd.Set(ctx, socketKey(sessionID), roomID, 0).Err(); err != nil {
		return fmt.Errorf("store: assign socket %s: %w", sessionID, err)
	}
	return nil
}

// RemoveSocketAssignment deletes a socket's room assignment. Removing an
// absent assignment is not an error.
func (c *Client) RemoveSocketAssignment(ctx context.Context, sessionID string) (err error) {
	ctx, span := c.span(ctx, "RemoveSocketAssignment")
	defer func() { finish(span, err) }()

	if err := c.cmd.Del(ctx, socketKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("store: remove socket assignment %s: %w", sessionID, err)
	}
	return nil
}

// GetSocketAssignment returns the room id a socket is assigned to, or
// ErrAssignmentNotFound.
func (c *Client) GetSocketAssignment(ctx context.Context, sessionID string) (roomID string, err error) {
	ctx, span := c.span(ctx, "GetSocketAssignment")
	defer func() { finish(span, err) }()

	roomID, err = c.cmd.Get(ctx, socketKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrAssignmentNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: get socket assignment %s: %w", sessionID, err)
	}
	return roomID, nil
}

// AllRoomKeys returns every room key, scanning to cursor completion.
func (c *Client) AllRoomKeys(ctx context.Context) (keys []string, err error) {
	ctx, span := c.span(ctx, "AllRoomKeys")
	defer func() { finish(span, err) }()
	return c.scanAll(ctx, roomKeyPrefix+"*")
}

// AllSocketAssignmentKeys returns every socket assignment key.
func (c *Client) AllSocketAssignmentKeys(ctx context.Context) (keys []string, err error) {
	ctx, span := c.span(ctx, "AllSocketAssignmentKeys")
	defer func() { finish(span, err) }()
	return c.scanAll(ctx, socketKeyPrefix+"*")
}

func (c *Client) scanAll(ctx context.Context, match string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := c.cmd.Scan(ctx, cursor, match, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("store: scan %q: %w", match, err)
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

// RemoveStaleRooms deletes every room that has no participants or that no
// live socket assignment references, and publishes a single removestale
// event listing the deleted ids. Returns the deleted ids.
func (c *Client) RemoveStaleRooms(ctx context.Context) (removed []string, err error) {
	ctx, span := c.span(ctx, "RemoveStaleRooms")
	defer func() { finish(span, err) }()

	roomKeys, err := c.scanAll(ctx, roomKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	if len(roomKeys) == 0 {
		return nil, nil
	}

	rooms := make([]*state.Room, 0, len(roomKeys))
	for _, key := range roomKeys {
		room, err := c.getRoomByID(ctx, RoomIDFromKey(key))
		if errors.Is(err, ErrRoomNotFound) {
			continue // deleted between scan and load
		}
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}

	assignmentKeys, err := c.scanAll(ctx, socketKeyPrefix+"*")
	if err != nil {
		return nil, err
	}
	assigned := make(map[string]bool, len(assignmentKeys))
	for _, key := range assignmentKeys {
		roomID, err := c.cmd.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store: load assignment %s: %w", key, err)
		}
		assigned[roomID] = true
	}

	stale := staleRooms(rooms, assigned)
	if len(stale) == 0 {
		return nil, nil
	}

	var delKeys []string
	removed = make([]string, 0, len(stale))
	for _, room := range stale {
		delKeys = append(delKeys, roomKey(room.ID), aliasKey(room.Name))
		removed = append(removed, room.ID)
	}
	event, err := encodeChannelMessage(ChannelStaleRoomsRemoved, StaleRoomsRemovedEvent{RoomIDs: removed})
	if err != nil {
		return nil, err
	}
	_, err = c.cmd.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, delKeys...)
		p.Publish(ctx, ChannelStaleRoomsRemoved, event)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: remove stale rooms: %w", err)
	}
	c.logger.Info("removed stale rooms", "count", len(removed))
	return removed, nil
}

// staleRooms picks the rooms eligible for deletion: empty membership, or no
// socket assignment pointing at the room.
func staleRooms(rooms []*state.Room, assigned map[string]bool) []*state.Room {
	var stale []*state.Room
	for _, room := range rooms {
		if len(room.Participants) == 0 || !assigned[room.ID] {
			stale = append(stale, room)
		}
	}
	return stale
}

// Subscribe binds the handler to every replication channel and consumes
// messages until ctx is canceled. A panicking handler is logged and does not
// take down the subscription loop.
func (c *Client) Subscribe(ctx context.Context, handler func(ChannelMessage)) error {
	c.pubsub = c.sub.Subscribe(ctx, allChannels()...)
	if _, err := c.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("store: subscribe: %w", err)
	}

	go func() {
		ch := c.pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				c.dispatch(handler, msg.Payload)
			}
		}
	}()
	return nil
}

func (c *Client) dispatch(handler func(ChannelMessage), payload string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("channel handler panicked", "panic", r)
		}
	}()

	var m ChannelMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		c.logger.Error("malformed channel message", "error", err)
		return
	}
	handler(m)
}

// Close tears down the subscription and both connections.
func (c *Client) Close() error {
	var errs []error
	if c.pubsub != nil {
		errs = append(errs, c.pubsub.Close())
	}
	errs = append(errs, c.sub.Close(), c.cmd.Close())
	return errors.Join(errs...)
}
