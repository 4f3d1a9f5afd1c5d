package hub

import (
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(nil)

	var order []int
	for i := 0; i < 10; i++ {
		n := i
		q.Enqueue(func() { order = append(order, n) })
	}
	if q.Len() != 10 {
		t.Fatalf("len = %d, want 10", q.Len())
	}
	q.drain()

	for i, n := range order {
		if n != i {
			t.Fatalf("order = %v", order)
		}
	}
	if q.Len() != 0 {
		t.Errorf("len after drain = %d", q.Len())
	}
}

func TestQueuePanicDoesNotPoisonBatch(t *testing.T) {
	q := NewQueue(nil)

	ran := false
	q.Enqueue(func() { panic("boom") })
	q.Enqueue(func() { ran = true })
	q.drain()

	if !ran {
		t.Fatal("action after panicking action did not run")
	}
}

func TestQueueEnqueueDuringDrainRunsNextDrain(t *testing.T) {
	q := NewQueue(nil)

	var second bool
	q.Enqueue(func() {
		q.Enqueue(func() { second = true })
	})
	q.drain()
	if second {
		t.Fatal("nested action ran in the same drain")
	}
	q.drain()
	if !second {
		t.Fatal("nested action never ran")
	}
}

func TestQueueRunAndStop(t *testing.T) {
	q := NewQueue(nil)
	go q.Run(time.Millisecond)

	done := make(chan struct{})
	q.Enqueue(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queued action did not run")
	}

	// Actions enqueued before Stop still run in the final drain.
	var last bool
	q.Enqueue(func() { last = true })
	q.Stop()
	if !last {
		t.Fatal("action enqueued before Stop was dropped")
	}
}
