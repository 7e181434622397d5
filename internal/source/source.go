package source

import (
	"context"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/queryir"
)

// Fetcher executes a read query against the backend.
//
// Rows come back in the spec's order. For arity one specs the backend is asked
// for at most querysql.EffectiveLimit rows; deciding whether the answer is
// ambiguous is the caller's job.
type Fetcher interface {
	Fetch(ctx context.Context, spec queryir.Spec) ([]ir.Row, error)
}

// Subscriber registers interest in row mutations of one table.
//
// The returned Subscription delivers events until Close is called or the
// backend drops it, in which case the Events channel is closed.
type Subscriber interface {
	Subscribe(ctx context.Context, table string, filter ir.EventKind) (Subscription, error)
}

// Source is a remote tabular backend: read plus change subscription.
type Source interface {
	Fetcher
	Subscriber
}

// Subscription is a disposable handle on a change feed.
//
// Events may coalesce: a burst of mutations can arrive as fewer events, which
// is harmless because any event triggers a full re-fetch. Close is idempotent.
type Subscription interface {
	Events() <-chan ir.ChangeEvent
	Close() error
}

// Writer applies row mutations. Both built-in sources implement it; live
// queries never need it.
type Writer interface {
	Insert(ctx context.Context, table string, row ir.Row) (string, error)
	Update(ctx context.Context, table, id string, set ir.Row) error
	Delete(ctx context.Context, table, id string) error
}
