package nvim

import (
	"sync"

	"github.com/kobzarvs/nvbridge/internal/protocol"
)

// Queue is an unbounded FIFO between the RPC reader and the event loop.
// Push never blocks, so a slow consumer cannot stall nvim. The consumer
// waits on Ready and takes everything queued with Drain, so nothing that
// arrived before a Drain is left behind.
type Queue struct {
	mu     sync.Mutex
	items  []protocol.Event
	closed bool
	ready  chan struct{}
}

func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push appends ev. It is dropped once the queue is closed.
func (q *Queue) Push(ev protocol.Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.wake()
}

// Close stops accepting events. What is queued can still be drained.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

// Closed reports whether Close was called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Ready is signalled after a Push or Close. A signal may find the queue
// already drained.
func (q *Queue) Ready() <-chan struct{} { return q.ready }

// Drain removes and returns every queued event in arrival order.
func (q *Queue) Drain() []protocol.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
