package livequery

import (
	"fmt"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/queryir"
)

// Status is the load status of a live query. Exactly one holds at a time.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusLoaded
	StatusErrored
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusLoaded:
		return "loaded"
	case StatusErrored:
		return "errored"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ParseStatus parses the String form of a Status.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "idle":
		return StatusIdle, nil
	case "loading":
		return StatusLoading, nil
	case "loaded":
		return StatusLoaded, nil
	case "errored":
		return StatusErrored, nil
	default:
		return 0, fmt.Errorf("invalid status %q", s)
	}
}

// Decoder turns a backend row into a caller type.
type Decoder[T any] func(ir.Row) (T, error)

// Rows is the identity Decoder for callers that work on raw rows.
func Rows(r ir.Row) (ir.Row, error) {
	return r, nil
}

// Result is the outcome of one successful fetch.
//
// A Result is never modified after it is published; every fetch produces a
// new one. Hash fingerprints the raw rows, so two results with equal hashes
// hold the same data in the same order.
type Result[T any] struct {
	Arity queryir.Arity
	Rows  []T
	Hash  string
}

// One returns the single record of an arity one result. ok is false when
// the query matched no record.
func (r *Result[T]) One() (T, bool) {
	var zero T
	if r == nil || len(r.Rows) == 0 {
		return zero, false
	}
	return r.Rows[0], true
}

// Empty reports whether the result holds no records.
func (r *Result[T]) Empty() bool {
	return r == nil || len(r.Rows) == 0
}

// Len returns the number of records.
func (r *Result[T]) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// State is a snapshot of a live query.
//
//   - Result is set only while Status is loaded
//   - LastGood is the most recent successful result and survives errors
//   - Err and Message are set only while Status is errored
//   - Live is false when no change subscription is active, in which case
//     SubscriptionErr says why
type State[T any] struct {
	Status          Status
	Result          *Result[T]
	LastGood        *Result[T]
	Err             error
	Message         string
	Generation      int64
	Live            bool
	SubscriptionErr error
}

// Settled reports whether the query is loaded or errored.
func (s State[T]) Settled() bool {
	return s.Status == StatusLoaded || s.Status == StatusErrored
}
