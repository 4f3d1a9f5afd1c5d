package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// writeTimeout bounds a single websocket write. A peer that cannot drain a
// frame in this window is as good as gone; the read loop will notice the
// failed connection and run the disconnect flow.
const writeTimeout = 10 * time.Second

// socket wraps one websocket connection. Writes are serialized by mu since
// broadcasts, heartbeats, and direct replies race on the same conn. The
// heartbeat fields are atomics because the heartbeat ticker and the read
// loop touch them from different goroutines.
type socket struct {
	conn      *websocket.Conn
	useragent string

	mu     sync.Mutex // guards conn writes and sid
	sid    string
	closed atomic.Bool

	// alive flips false on every pulse and true on the blip reply. A socket
	// that stays dead past the missed threshold is terminated.
	alive  atomic.Bool
	missed atomic.Int32

	// stale marks a socket superseded by a reconnect. Stale sockets are
	// skipped by heartbeats and broadcasts and closed after takeover.
	stale atomic.Bool
}

func newSocket(conn *websocket.Conn, sid, useragent string) *socket {
	s := &socket{conn: conn, sid: sid, useragent: useragent}
	s.alive.Store(true)
	return s
}

// sessionID returns the current session id. It changes once, if the socket
// is staleified.
func (s *socket) sessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sid
}

// write sends one frame, respecting the write deadline.
func (s *socket) write(messageType int, data []byte) error {
	if s.closed.Load() {
		return ErrSocketClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(messageType, data)
}

// blip records a heartbeat reply.
func (s *socket) blip() {
	s.alive.Store(true)
	s.missed.Store(0)
}

// pulse records a heartbeat probe being sent and reports whether the socket
// has exceeded the missed threshold.
func (s *socket) pulse(threshold int) (dead bool) {
	if !s.alive.Load() && int(s.missed.Load()) > threshold {
		return true
	}
	s.alive.Store(false)
	s.missed.Add(1)
	return false
}

// staleify marks the socket superseded and rebinds it to a throwaway
// session id so the real id can move to the new connection.
func (s *socket) staleify(throwawaySID string) {
	s.stale.Store(true)
	s.mu.Lock()
	s.sid = throwawaySID
	s.mu.Unlock()
}

// close closes the underlying connection once.
func (s *socket) close() {
	if s.closed.CompareAndSwap(false, true) {
		s.conn.Close()
	}
}
