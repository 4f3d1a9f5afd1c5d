package hub

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// queueQueryTimeout bounds REST reads of coordinator state. The read runs as
// a queued action so it sees a consistent replica.
const queueQueryTimeout = 2 * time.Second

func (h *Hub) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/live", h.handleLive)
	r.Get("/healthz", h.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/rooms", h.handleRooms)
		r.Get("/room/{roomName}", h.handleRoom)
		r.Get("/debug/server/state", h.handleDebugState)
	})
	return r
}

func (h *Hub) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Hub) handleRooms(w http.ResponseWriter, _ *http.Request) {
	var rooms []RoomSummary
	if !h.onQueue(func() { rooms = h.coord.Rooms() }) {
		http.Error(w, "server busy", http.StatusServiceUnavailable)
		return
	}
	h.respondJSON(w, http.StatusOK, rooms)
}

func (h *Hub) handleRoom(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "roomName")

	var room RoomSummary
	var found bool
	if !h.onQueue(func() { room, found = h.coord.RoomByName(name) }) {
		http.Error(w, "server busy", http.StatusServiceUnavailable)
		return
	}
	if !found {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	h.respondJSON(w, http.StatusOK, room)
}

// connectionInfo is the debug shape of one socket.
type connectionInfo struct {
	SessionID string `json:"sessionId"`
	Alive     bool   `json:"alive"`
	Stale     bool   `json:"stale"`
	Useragent string `json:"useragent,omitempty"`
}

// serverState is the debug dump: replica, sockets, and queue depth.
type serverState struct {
	ServerID    string           `json:"serverId"`
	Rooms       []RoomSummary    `json:"rooms"`
	Connections []connectionInfo `json:"connections"`
	QueueDepth  int              `json:"queueDepth"`
}

func (h *Hub) handleDebugState(w http.ResponseWriter, _ *http.Request) {
	dump := serverState{ServerID: h.cfg.ServerID}

	h.mu.Lock()
	for _, s := range h.sockets {
		dump.Connections = append(dump.Connections, connectionInfo{
			SessionID: s.sessionID(),
			Alive:     s.alive.Load(),
			Stale:     s.stale.Load(),
			Useragent: s.useragent,
		})
	}
	h.mu.Unlock()

	if !h.onQueue(func() { dump.Rooms = h.coord.Rooms() }) {
		http.Error(w, "server busy", http.StatusServiceUnavailable)
		return
	}
	dump.QueueDepth = h.queue.Len()
	h.respondJSON(w, http.StatusOK, dump)
}

// onQueue runs fn on the queue goroutine and waits for it, so HTTP handlers
// read coordinator state without racing the mutation flows. Reports false on
// timeout.
func (h *Hub) onQueue(fn func()) bool {
	done := make(chan struct{})
	h.queue.Enqueue(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
		return true
	case <-time.After(queueQueryTimeout):
		return false
	}
}

func (h *Hub) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("write response", "error", err)
	}
}
