package hub

import (
	"log/slog"
	"sync"
	"time"
)

// Queue serializes room mutations. Actions enqueue from any goroutine (read
// loops, replication handlers, tickers) and run strictly in FIFO order on
// the drain goroutine, so coordinator state needs no locking beyond the
// queue itself.
//
// The queue drains on a fixed tick rather than per action. Mutations arriving
// within one tick batch together, which is what makes broadcast coalescing
// work.
type Queue struct {
	mu      sync.Mutex
	actions []func()
	logger  *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewQueue creates a queue. Call Run to start draining.
func NewQueue(logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		logger: logger.With("component", "queue"),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Enqueue appends an action. Safe from any goroutine, including from inside
// a running action; such actions run on the next drain, not the current one.
func (q *Queue) Enqueue(action func()) {
	q.mu.Lock()
	q.actions = append(q.actions, action)
	q.mu.Unlock()
}

// Len returns the number of actions waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// Run drains the queue every tick until Stop is called. It blocks; start it
// on its own goroutine.
func (q *Queue) Run(tick time.Duration) {
	defer close(q.done)
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			q.drain() // run what was enqueued before the stop
			return
		case <-ticker.C:
			q.drain()
		}
	}
}

// Stop ends the drain loop after one final drain and waits for it to finish.
func (q *Queue) Stop() {
	close(q.stop)
	<-q.done
}

func (q *Queue) drain() {
	q.mu.Lock()
	batch := q.actions
	q.actions = nil
	q.mu.Unlock()

	for _, action := range batch {
		q.runIsolated(action)
	}
}

// runIsolated keeps one panicking action from poisoning the rest of the
// batch or the drain loop.
func (q *Queue) runIsolated(action func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("queued action panicked", "panic", r)
		}
	}()
	action()
}
