package hub

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/corelay-dev/corelay/pkg/protocol"
	"github.com/corelay-dev/corelay/pkg/store"
)

// StoreBackend is everything the hub needs from the shared store: the
// coordinator's operations plus subscription, sweeping, and shutdown.
type StoreBackend interface {
	Store
	RemoveStaleRooms(ctx context.Context) ([]string, error)
	Subscribe(ctx context.Context, handler func(store.ChannelMessage)) error
	Close() error
}

// Hub is the server process: it owns the websocket endpoint, the socket
// table, the heartbeat and sweep tickers, and the queue the coordinator runs
// on. Hub implements Broadcaster for the coordinator.
type Hub struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics
	queue   *Queue
	coord   *Coordinator
	store   StoreBackend
	codec   protocol.Codec

	upgrader websocket.Upgrader

	mu      sync.Mutex
	sockets map[string]*socket

	baseCtx    context.Context
	cancel     context.CancelFunc
	httpServer *http.Server
}

// New assembles a hub from its configuration and a connected store.
func New(cfg Config, st StoreBackend, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		cfg:     cfg,
		logger:  logger.With("component", "hub"),
		metrics: NewMetrics(prometheus.DefaultRegisterer),
		store:   st,
		codec:   protocol.ForBinary(cfg.BinaryProtocol),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sockets: make(map[string]*socket),
	}
	h.queue = NewQueue(logger)
	h.coord = NewCoordinator(cfg.ServerID, st, h.queue, h.metrics, logger)
	h.coord.SetBroadcaster(h)
	return h
}

// Run seeds the replica, binds the replication subscription, starts the
// tickers, and serves HTTP until ctx is canceled or the listener fails.
func (h *Hub) Run(ctx context.Context) error {
	h.baseCtx, h.cancel = context.WithCancel(ctx)

	if err := h.coord.SyncWithStore(h.baseCtx); err != nil {
		return err
	}
	if err := h.store.Subscribe(h.baseCtx, func(m store.ChannelMessage) {
		h.queue.Enqueue(func() { h.coord.HandleChannelMessage(m) })
	}); err != nil {
		return err
	}

	go h.queue.Run(h.cfg.TickRate)
	go h.heartbeatLoop()
	go h.queueDepthLoop()
	if h.cfg.StaleRoomSweepInterval > 0 {
		go h.sweepLoop()
	}

	h.httpServer = &http.Server{
		Addr:    h.cfg.Addr(),
		Handler: h.routes(),
	}
	h.logger.Info("listening", "addr", h.cfg.Addr(), "server_id", h.cfg.ServerID,
		"binary_protocol", h.cfg.BinaryProtocol)

	err := h.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections, disconnects every socket, drains the
// queue one last time, and closes the store.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.logger.Info("shutting down")
	var errs []error

	if h.httpServer != nil {
		errs = append(errs, h.httpServer.Shutdown(ctx))
	}

	h.mu.Lock()
	for _, s := range h.sockets {
		s.close()
	}
	h.sockets = make(map[string]*socket)
	h.mu.Unlock()

	h.queue.Stop()
	if h.cancel != nil {
		h.cancel()
	}
	errs = append(errs, h.store.Close())
	return errors.Join(errs...)
}

// Send implements Broadcaster. Unknown session ids (members connected to a
// peer server) are silently skipped.
func (h *Hub) Send(sessionID string, msg protocol.Message) {
	h.mu.Lock()
	s := h.sockets[sessionID]
	h.mu.Unlock()
	if s == nil {
		return
	}
	h.sendTo(s, msg)
}

// Disconnect implements Broadcaster.
func (h *Hub) Disconnect(sessionID string) {
	h.mu.Lock()
	s := h.sockets[sessionID]
	delete(h.sockets, sessionID)
	h.metrics.ActiveConnections.Set(float64(len(h.sockets)))
	h.mu.Unlock()
	if s != nil {
		s.close()
	}
}

// Staleify implements Broadcaster: the socket holding sessionID moves to a
// throwaway id and is marked stale, so its read-loop exit skips the leave
// flow.
func (h *Hub) Staleify(sessionID string) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.sockets[sessionID]
	if s == nil {
		return ""
	}
	throwaway := uuid.NewString()
	delete(h.sockets, sessionID)
	s.staleify(throwaway)
	h.sockets[throwaway] = s
	return throwaway
}

func (h *Hub) sendTo(s *socket, msg protocol.Message) {
	data, err := h.codec.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal message", "error", err, "kind", msg.Kind)
		return
	}
	frameType := websocket.TextMessage
	if h.codec.Binary() {
		frameType = websocket.BinaryMessage
	}
	if err := s.write(frameType, data); err != nil && !errors.Is(err, ErrSocketClosed) {
		h.logger.Debug("write failed", "error", err, "sid", s.sessionID())
		s.close()
	}
}

// handleLive upgrades the connection, issues the session id, and runs the
// read loop. A ?sid= query parameter triggers the reconnect flow.
func (h *Hub) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	sid := uuid.NewString()
	s := newSocket(conn, sid, r.UserAgent())

	h.mu.Lock()
	h.sockets[sid] = s
	h.metrics.ActiveConnections.Set(float64(len(h.sockets)))
	h.mu.Unlock()

	h.logger.Info("connected", "sid", sid, "useragent", s.useragent)
	h.sendTo(s, protocol.NewConnectionReady(sid))

	if oldSID := r.URL.Query().Get("sid"); oldSID != "" {
		h.queue.Enqueue(func() { h.coord.AttemptReconnect(h.baseCtx, sid, oldSID) })
	}

	h.readLoop(s)
}

func (h *Hub) readLoop(s *socket) {
	defer h.finishSocket(s)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := h.codec.Unmarshal(data)
		if err != nil {
			// Malformed frames are a protocol violation; drop the peer.
			h.logger.Warn("malformed frame", "error", err, "sid", s.sessionID())
			return
		}

		switch msg.Kind {
		case protocol.KindBlip:
			s.blip()
		case protocol.KindPulse:
			h.sendTo(s, protocol.NewBlip())
		case protocol.KindCreateJoinRoom:
			sid, req := s.sessionID(), *msg.CreateJoin
			h.queue.Enqueue(func() { h.coord.CreateOrJoinRoom(h.baseCtx, sid, req) })
		case protocol.KindStateUpdate:
			sid, update := s.sessionID(), *msg.StateUpdate
			h.queue.Enqueue(func() { h.coord.UpdateRoomState(h.baseCtx, sid, update) })
		default:
			h.logger.Warn("unexpected client message", "kind", msg.Kind, "sid", s.sessionID())
		}
	}
}

// finishSocket runs when a read loop exits: unregister, close, and unless
// the socket was superseded by a reconnect, run the leave flow.
func (h *Hub) finishSocket(s *socket) {
	sid := s.sessionID()

	h.mu.Lock()
	delete(h.sockets, sid)
	h.metrics.ActiveConnections.Set(float64(len(h.sockets)))
	h.mu.Unlock()
	s.close()

	if s.stale.Load() {
		h.logger.Debug("stale socket finished", "sid", sid)
		return
	}
	h.logger.Info("disconnected", "sid", sid)
	h.queue.Enqueue(func() { h.coord.LeaveUserFromRoom(h.baseCtx, sid) })
}

// heartbeatLoop pulses every open non-stale socket and terminates the ones
// that stopped answering.
func (h *Hub) heartbeatLoop() {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.baseCtx.Done():
			return
		case <-ticker.C:
		}

		h.mu.Lock()
		batch := make([]*socket, 0, len(h.sockets))
		for _, s := range h.sockets {
			batch = append(batch, s)
		}
		h.mu.Unlock()

		for _, s := range batch {
			if s.stale.Load() || s.closed.Load() {
				continue
			}
			if s.pulse(h.cfg.HeartbeatMissedThreshold) {
				h.metrics.HeartbeatTerminations.Inc()
				h.logger.Info("heartbeat timeout", "sid", s.sessionID())
				s.close() // read loop exit runs the leave flow
				continue
			}
			h.sendTo(s, protocol.NewPulse())
		}
	}
}

// sweepLoop periodically deletes stale rooms from the store. The resulting
// removestale publish updates every replica, including this one.
func (h *Hub) sweepLoop() {
	ticker := time.NewTicker(h.cfg.StaleRoomSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.baseCtx.Done():
			return
		case <-ticker.C:
		}
		if _, err := h.store.RemoveStaleRooms(h.baseCtx); err != nil {
			h.logger.Error("stale room sweep", "error", err)
		}
	}
}

// queueDepthLoop keeps the queue depth gauge current. A queue that keeps
// growing means the tick rate cannot keep up with the mutation volume.
func (h *Hub) queueDepthLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.baseCtx.Done():
			return
		case <-ticker.C:
		}
		depth := h.queue.Len()
		h.metrics.QueueDepth.Set(float64(depth))
		if depth > 0 {
			h.logger.Debug("queue depth", "depth", depth)
		}
	}
}
