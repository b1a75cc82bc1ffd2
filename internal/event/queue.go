package event

import "sync"

// Queue is the thread-safe FIFO intake queue shared by all producers.
//
// The queue is unbounded: producers only ever append, and a burst of
// sensor activity must never block a driver goroutine. Each event is
// stamped with the next logical seq on enqueue, so intake order is the
// total order.
//
// A buffered signal channel (size 1) coalesces wakeups so the consumer
// can wait with context awareness instead of blocking on a dequeue.
type Queue struct {
	mu     sync.Mutex
	clock  *Clock
	events []Event
	closed bool
	signal chan struct{}
}

// NewQueue creates an empty intake queue with its own logical clock.
func NewQueue() *Queue {
	return &Queue{
		clock:  NewClock(),
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Emit appends an event, stamping it with the next intake seq.
// Safe from any goroutine. Returns false if the queue is closed.
func (q *Queue) Emit(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	e.Seq = q.clock.Next()
	q.events = append(q.events, e)

	// Non-blocking signal; the size-1 buffer coalesces bursts.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the front event without blocking.
// Returns (Event{}, false) if the queue is empty.
func (q *Queue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]

	// Nil out the slot so the backing array does not retain the event's
	// pointers until reallocation.
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// The channel closes when the queue closes, waking all waiters.
func (q *Queue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether the queue has been closed.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close marks the queue as accepting no further events and wakes any
// blocked waiters. Events already queued remain dequeueable so the
// consumer can drain on shutdown.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
