package livequery

import "sync/atomic"

// Clock is a monotonic logical clock for fetch generations.
//
// Every fetch is stamped with a strictly increasing generation from this
// clock. A fetch result is applied only while its generation is the newest
// one issued, so a slow response can never overwrite a newer one.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
// However, the query's single-writer loop means only one goroutine
// typically calls Next().
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next generation and increments the clock.
// Calls are linearizable - each call returns a unique, increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the latest generation issued without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
