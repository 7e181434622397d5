package livequery

import (
	"sync"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/source"
)

// eventType distinguishes between event kinds.
type eventType int

const (
	// eventRefetch is a manual refetch request.
	eventRefetch eventType = iota + 1
	// eventChange is a change notification from the subscription.
	eventChange
	// eventFetchDone carries a finished fetch back to the loop.
	eventFetchDone
	// eventSubscriptionLost reports that a subscription's channel closed.
	eventSubscriptionLost
)

// String implements fmt.Stringer for log output.
func (t eventType) String() string {
	switch t {
	case eventRefetch:
		return "refetch"
	case eventChange:
		return "change"
	case eventFetchDone:
		return "fetch_done"
	case eventSubscriptionLost:
		return "subscription_lost"
	default:
		return "unknown"
	}
}

// event is one unit of work for the query loop.
type event struct {
	typ    eventType
	gen    int64               // eventFetchDone
	rows   []ir.Row            // eventFetchDone
	err    error               // eventFetchDone
	change ir.ChangeEvent      // eventChange
	sub    source.Subscription // eventSubscriptionLost
}

// eventQueue is a thread-safe FIFO queue for events.
//
// The queue is unbounded so fetch goroutines and the subscription pump never
// block on a busy loop.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the loop (prevents goroutine hangs on context cancellation).
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{} // Signals event availability (buffered, size 1)
}

// newEventQueue creates an empty event queue.
func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 8),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Non-blocking - buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (event{}, false) if queue is empty.
func (q *eventQueue) TryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event{}, false
	}

	e := q.events[0]

	// Clear the slot so fetched rows can be collected.
	q.events[0] = event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// The channel is closed when the queue is closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close signals that no more events will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
