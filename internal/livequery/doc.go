// Package livequery keeps a local projection of a remote query in sync with
// backend changes.
//
// A Query owns one change subscription and at most one outstanding fetch.
// Every change event for the query's table triggers a full re-fetch; the
// result replaces the previous one wholesale.
//
// ARCHITECTURE:
//
// Single-Writer Loop:
// After Start, every state transition happens on one goroutine that drains
// an event queue. Fetches and the subscription pump run on their own
// goroutines and only ever enqueue events, so state needs no fine-grained
// locking and transitions are totally ordered.
//
// Event Flow:
//  1. Start subscribes to the table, then issues generation 1
//  2. Change events and Refetch calls issue a new generation, cancelling
//     the fetch in flight
//  3. A finished fetch is applied only if its generation is still current
//  4. Stop closes the queue; nothing mutates state afterwards
//
// CRITICAL PATTERNS:
//
// Generations come from a logical Clock. Wall-clock time is never used to
// decide which response wins.
//
// Errors never escape as return values. A failed fetch becomes an errored
// state carrying a *source.Error and a user-facing message, and the last
// successful result stays available in State.LastGood.
package livequery
