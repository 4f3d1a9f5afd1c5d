package hub

import "testing"

func TestSocketHeartbeatAccounting(t *testing.T) {
	s := newSocket(nil, "sid-1", "test-agent")

	// A fresh socket survives the first pulses up to the threshold.
	for i := 0; i < 3; i++ {
		if s.pulse(2) {
			t.Fatalf("socket declared dead after %d pulses", i+1)
		}
	}
	// Still unanswered and past the threshold: dead.
	if !s.pulse(2) {
		t.Fatal("socket not declared dead past the missed threshold")
	}

	// A blip resets the accounting.
	s.blip()
	if s.pulse(2) {
		t.Fatal("socket declared dead right after a blip")
	}
}

func TestSocketStaleify(t *testing.T) {
	s := newSocket(nil, "sid-1", "")
	s.staleify("throwaway")

	if !s.stale.Load() {
		t.Error("socket not marked stale")
	}
	if got := s.sessionID(); got != "throwaway" {
		t.Errorf("session id = %q", got)
	}
}

func TestSocketWriteAfterClose(t *testing.T) {
	s := newSocket(nil, "sid-1", "")
	s.closed.Store(true) // simulate a finished close without a real conn
	if err := s.write(1, []byte("x")); err != ErrSocketClosed {
		t.Fatalf("err = %v, want ErrSocketClosed", err)
	}
}
