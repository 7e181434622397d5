package ir

import (
	"fmt"
	"strings"
)

// EventKind identifies the kind of row mutation a change event reports.
type EventKind string

const (
	EventInsert EventKind = "INSERT"
	EventUpdate EventKind = "UPDATE"
	EventDelete EventKind = "DELETE"

	// EventAll is the subscription filter matching every kind.
	EventAll EventKind = "*"
)

// ParseEventKind parses "insert", "UPDATE", "*", etc.
func ParseEventKind(s string) (EventKind, error) {
	switch k := EventKind(strings.ToUpper(strings.TrimSpace(s))); k {
	case EventInsert, EventUpdate, EventDelete, EventAll:
		return k, nil
	case "":
		return EventAll, nil
	default:
		return "", fmt.Errorf("invalid event kind %q: must be one of INSERT, UPDATE, DELETE, *", s)
	}
}

// Matches reports whether a subscription filter admits an event of kind k.
func (f EventKind) Matches(k EventKind) bool {
	return f == EventAll || f == "" || f == k
}

// ChangeEvent is a notification that a row in Table was mutated.
// Live queries never inspect anything beyond Table and Kind: any admitted
// event triggers a full re-fetch.
type ChangeEvent struct {
	Table string    `json:"table"`
	Kind  EventKind `json:"type"`
	RowID string    `json:"id,omitempty"`
	Seq   int64     `json:"seq,omitempty"` // Backend change sequence, 0 if unknown
}

// String implements fmt.Stringer for log output.
func (e ChangeEvent) String() string {
	if e.RowID != "" {
		return fmt.Sprintf("%s %s(%s)", e.Kind, e.Table, e.RowID)
	}
	return fmt.Sprintf("%s %s", e.Kind, e.Table)
}
