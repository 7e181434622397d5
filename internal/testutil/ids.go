package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDs generates "<prefix>-1", "<prefix>-2", ... for tests.
//
// It can be reset so the same scenario run twice produces identical IDs,
// which keeps golden traces stable.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SequenceIDs struct {
	mu     sync.Mutex
	prefix string
	seq    int64
}

// NewSequenceIDs creates a generator. The first call to Generate returns
// "<prefix>-1".
func NewSequenceIDs(prefix string) *SequenceIDs {
	return &SequenceIDs{prefix: prefix}
}

// Generate returns the next ID.
func (g *SequenceIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s-%d", g.prefix, g.seq)
}

// Current returns how many IDs have been generated.
func (g *SequenceIDs) Current() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}

// Reset restarts the sequence. After Reset, Generate returns "<prefix>-1".
func (g *SequenceIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}

// FixedID generates the same ID every time.
//
// Thread-safety: FixedID is stateless and safe for concurrent use.
type FixedID struct {
	id string
}

// NewFixedID creates a fixed ID generator. An empty id becomes
// "test-query".
func NewFixedID(id string) FixedID {
	if id == "" {
		id = "test-query"
	}
	return FixedID{id: id}
}

// Generate returns the fixed ID.
func (g FixedID) Generate() string {
	return g.id
}
