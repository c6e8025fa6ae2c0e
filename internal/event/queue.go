package event

import "sync"

// queue is a thread-safe unbounded FIFO of events.
//
// Unbounded so that publishers never block on a slow consumer. A buffered
// signal channel of size 1 lets the consumer wait without polling.
type queue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// enqueue adds an event to the back. Returns false if the queue is closed.
func (q *queue) enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	// non-blocking: a full buffer already means "wake up"
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// tryDequeue removes the front event without blocking.
func (q *queue) tryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]
	// release the slot's pointers for GC
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// drained reports whether the queue is closed and empty.
func (q *queue) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.events) == 0
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// close stops accepting events and wakes the consumer.
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
