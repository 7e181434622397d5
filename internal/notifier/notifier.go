// Package notifier provides a table-scoped broadcast of row change events.
package notifier

import (
	"sync"

	"github.com/roach88/livesync/internal/ir"
)

// Notifier broadcasts change events to subscribed listeners.
//
// Each listener has a one-slot buffer. When the slot is full the new event is
// dropped: the listener still has a pending event and will re-query anyway,
// so a burst of mutations coalesces into a single re-fetch.
type Notifier struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
	closed    bool
}

// New creates a new Notifier instance.
func New() *Notifier {
	return &Notifier{
		listeners: make(map[*Listener]struct{}),
	}
}

// Listener receives the events of one table that pass its kind filter.
// It satisfies source.Subscription.
type Listener struct {
	n      *Notifier
	table  string
	filter ir.EventKind
	ch     chan ir.ChangeEvent
	once   sync.Once
}

// Subscribe registers a listener for table ("" means every table).
// The caller must Close the listener when done.
//
// Subscribing to a closed notifier returns a listener whose channel is
// already closed.
func (n *Notifier) Subscribe(table string, filter ir.EventKind) *Listener {
	l := &Listener{
		n:      n,
		table:  table,
		filter: filter,
		ch:     make(chan ir.ChangeEvent, 1),
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		l.once.Do(func() { close(l.ch) })
		return l
	}
	n.listeners[l] = struct{}{}
	return l
}

// Events returns the listener's event channel. It is closed when the
// listener or the notifier is closed.
func (l *Listener) Events() <-chan ir.ChangeEvent {
	return l.ch
}

// Table returns the table the listener watches.
func (l *Listener) Table() string {
	return l.table
}

// Close removes the listener and closes its channel. Idempotent.
func (l *Listener) Close() error {
	l.n.mu.Lock()
	delete(l.n.listeners, l)
	l.n.mu.Unlock()
	l.once.Do(func() { close(l.ch) })
	return nil
}

func (l *Listener) admits(ev ir.ChangeEvent) bool {
	if l.table != "" && l.table != ev.Table {
		return false
	}
	return l.filter.Matches(ev.Kind)
}

// Publish delivers ev to every matching listener and returns how many
// listeners it reached.
// Non-blocking: a listener with a full buffer is skipped.
func (n *Notifier) Publish(ev ir.ChangeEvent) int {
	n.mu.RLock()
	defer n.mu.RUnlock()

	delivered := 0
	for l := range n.listeners {
		if !l.admits(ev) {
			continue
		}
		select {
		case l.ch <- ev:
			delivered++
		default:
			// Pending event already queued; listener will re-query once.
		}
	}
	return delivered
}

// Len returns the number of registered listeners.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}

// Close closes every listener channel. Subscribers observe this as a lost
// subscription. Idempotent.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	listeners := n.listeners
	n.listeners = make(map[*Listener]struct{})
	n.mu.Unlock()

	for l := range listeners {
		l.once.Do(func() { close(l.ch) })
	}
}
