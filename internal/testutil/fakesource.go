package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/notifier"
	"github.com/roach88/livesync/internal/queryir"
	"github.com/roach88/livesync/internal/querysql"
	"github.com/roach88/livesync/internal/source"
)

// DefaultWait bounds how long FakeSource helpers wait for activity.
const DefaultWait = 2 * time.Second

// FakeSource is an in-memory source.Source for tests.
//
// In automatic mode Fetch answers immediately from the rows set with
// SetRows (truncated to the spec's effective limit) or the error set with
// SetError. In manual mode every Fetch blocks until the test resolves it
// through Next, which lets tests control the order in which concurrent
// fetches complete.
type FakeSource struct {
	mu           sync.Mutex
	rows         map[string][]ir.Row
	errs         map[string]error
	subscribeErr error
	fetches      int
	notifier     *notifier.Notifier

	manual  bool
	pending chan *PendingFetch
}

// NewFakeSource returns a FakeSource in automatic mode.
func NewFakeSource() *FakeSource {
	return &FakeSource{
		rows:     make(map[string][]ir.Row),
		errs:     make(map[string]error),
		notifier: notifier.New(),
		pending:  make(chan *PendingFetch, 64),
	}
}

// NewManualFakeSource returns a FakeSource whose fetches wait for Resolve.
func NewManualFakeSource() *FakeSource {
	f := NewFakeSource()
	f.manual = true
	return f
}

// PendingFetch is a fetch waiting for the test to answer it.
type PendingFetch struct {
	Spec  queryir.Spec
	reply chan fetchReply
	ctx   context.Context
}

type fetchReply struct {
	rows []ir.Row
	err  error
}

// Resolve answers the fetch. Resolving a fetch whose caller already gave
// up is a no-op.
func (p *PendingFetch) Resolve(rows []ir.Row, err error) {
	select {
	case p.reply <- fetchReply{rows: rows, err: err}:
	default:
	}
}

// Cancelled reports whether the caller's context is done.
func (p *PendingFetch) Cancelled() bool {
	return p.ctx.Err() != nil
}

// SetRows replaces the rows returned for table.
func (f *FakeSource) SetRows(table string, rows ...ir.Row) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[table] = rows
}

// SetError makes every fetch of table fail with err. nil clears it.
func (f *FakeSource) SetError(table string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, table)
		return
	}
	f.errs[table] = err
}

// SetSubscribeError makes Subscribe fail with err. nil clears it.
func (f *FakeSource) SetSubscribeError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribeErr = err
}

// Fetch implements source.Fetcher.
func (f *FakeSource) Fetch(ctx context.Context, spec queryir.Spec) ([]ir.Row, error) {
	f.mu.Lock()
	f.fetches++
	manual := f.manual
	rows := append([]ir.Row(nil), f.rows[spec.Table()]...)
	err := f.errs[spec.Table()]
	f.mu.Unlock()

	if !manual {
		if err != nil {
			return nil, err
		}
		if limit := querysql.EffectiveLimit(spec); limit > 0 && len(rows) > limit {
			rows = rows[:limit]
		}
		if rows == nil {
			rows = []ir.Row{}
		}
		return rows, nil
	}

	p := &PendingFetch{Spec: spec, reply: make(chan fetchReply, 1), ctx: ctx}
	f.pending <- p
	select {
	case r := <-p.reply:
		return r.rows, r.err
	case <-ctx.Done():
		return nil, source.NewTransportError(spec.From, ctx.Err())
	}
}

// Subscribe implements source.Subscriber.
func (f *FakeSource) Subscribe(ctx context.Context, table string, filter ir.EventKind) (source.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, source.NewSubscriptionError(table, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	return f.notifier.Subscribe(table, filter), nil
}

// Emit publishes a change event to matching subscriptions and returns how
// many received it.
func (f *FakeSource) Emit(ev ir.ChangeEvent) int {
	f.mu.Lock()
	n := f.notifier
	f.mu.Unlock()
	return n.Publish(ev)
}

// DropSubscriptions closes every current subscription as a backend
// disconnect would. Later subscriptions work normally.
func (f *FakeSource) DropSubscriptions() {
	f.mu.Lock()
	old := f.notifier
	f.notifier = notifier.New()
	f.mu.Unlock()
	old.Close()
}

// Subscriptions returns the number of open subscriptions.
func (f *FakeSource) Subscriptions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notifier.Len()
}

// FetchCount returns how many times Fetch has been called.
func (f *FakeSource) FetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

// Next returns the oldest unanswered fetch of a manual source, failing the
// test if none arrives within DefaultWait.
func (f *FakeSource) Next(t testing.TB) *PendingFetch {
	t.Helper()
	select {
	case p := <-f.pending:
		return p
	case <-time.After(DefaultWait):
		t.Fatalf("no fetch issued within %v", DefaultWait)
		return nil
	}
}

// ExpectNoFetch fails the test if a manual source receives a fetch within d.
func (f *FakeSource) ExpectNoFetch(t testing.TB, d time.Duration) {
	t.Helper()
	select {
	case p := <-f.pending:
		t.Fatalf("unexpected fetch of %s", p.Spec.From)
	case <-time.After(d):
	}
}

// Close ends every subscription.
func (f *FakeSource) Close() error {
	f.mu.Lock()
	n := f.notifier
	f.mu.Unlock()
	n.Close()
	return nil
}

// Eventually polls cond until it holds or DefaultWait passes.
func Eventually(t testing.TB, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(DefaultWait)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", DefaultWait, msg)
}
