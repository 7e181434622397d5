package livequery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/livesync/internal/ir"
	"github.com/roach88/livesync/internal/queryir"
	"github.com/roach88/livesync/internal/source"
)

// ErrStopped is returned by WaitFor when the query stops before the
// predicate holds.
var ErrStopped = errors.New("live query stopped")

// errFeedClosed is the cause recorded when a subscription channel closes
// underneath a running query.
var errFeedClosed = errors.New("change feed closed")

// Option configures a Query.
type Option func(*config)

type config struct {
	logger *slog.Logger
	ids    IDGenerator
	filter ir.EventKind
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithIDGenerator sets the generator for the query's instance ID.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *config) {
		c.ids = g
	}
}

// WithEventFilter narrows the change subscription to one event kind.
// Default: ir.EventAll.
func WithEventFilter(k ir.EventKind) Option {
	return func(c *config) {
		c.filter = k
	}
}

// Query keeps a local projection of a remote query result in sync with
// backend changes.
//
// CRITICAL: all state transitions after Start happen in the single loop
// goroutine. Fetches run on their own goroutines and report back through
// the queue tagged with their generation.
//
// Thread-safety model:
//   - Start, Refetch, Stop, State, Updates, WaitFor: safe from any goroutine
//   - state mutation: loop goroutine only (and Start, before the loop runs)
//
// INVARIANTS:
//   - at most one subscription is held at a time
//   - only the newest fetch generation may change state
//   - nothing changes state once Stop has begun
type Query[T any] struct {
	id     string
	src    source.Source
	spec   queryir.Spec
	decode Decoder[T]
	filter ir.EventKind
	logger *slog.Logger
	clock  *Clock
	queue  *eventQueue

	mu       sync.Mutex
	state    State[T]
	started  bool
	stopped  bool
	watchers map[chan struct{}]struct{}

	// Owned by the loop goroutine once it runs.
	specErr     error
	sub         source.Subscription
	fetchCancel context.CancelFunc
	current     int64

	cancel   context.CancelFunc
	loopDone chan struct{}
	pumps    sync.WaitGroup
	stopOnce sync.Once
}

// New creates a live query over src. It does nothing until Start.
func New[T any](src source.Source, spec queryir.Spec, decode Decoder[T], opts ...Option) *Query[T] {
	cfg := config{
		logger: slog.Default(),
		ids:    UUIDv7Generator{},
		filter: ir.EventAll,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	id := cfg.ids.Generate()
	return &Query[T]{
		id:       id,
		src:      src,
		spec:     spec,
		decode:   decode,
		filter:   cfg.filter,
		logger:   cfg.logger.With("query", id, "table", spec.From),
		clock:    NewClock(),
		queue:    newEventQueue(),
		watchers: make(map[chan struct{}]struct{}),
	}
}

// ID returns the query's instance ID.
func (q *Query[T]) ID() string {
	return q.id
}

// Spec returns the query spec.
func (q *Query[T]) Spec() queryir.Spec {
	return q.spec
}

// Start activates the query: it registers the change subscription, issues
// the initial fetch and returns the resulting state (loading, or errored for
// an invalid spec). Nothing is ever returned as an error; failures become
// state.
//
// The subscription is registered before the fetch so a change landing
// between the two still triggers a re-fetch.
//
// Cancelling ctx stops the query. Calling Start again, or after Stop, only
// returns the current state.
func (q *Query[T]) Start(ctx context.Context) State[T] {
	q.mu.Lock()
	if q.started || q.stopped {
		st := q.state
		q.mu.Unlock()
		return st
	}
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.loopDone = make(chan struct{})
	q.started = true
	q.mu.Unlock()

	q.logger.Info("live query starting", "spec", describe(q.spec))

	if err := queryir.Validate(q.spec); err != nil {
		q.specErr = source.NewQueryError(q.spec.From, "invalid query spec", err)
	} else {
		q.subscribe(runCtx)
	}
	q.startFetch(runCtx)

	go q.run(runCtx)
	return q.State()
}

// Refetch forces an immediate re-execution. If the change subscription was
// lost, it is re-established first. No-op before Start or after Stop.
func (q *Query[T]) Refetch() {
	q.mu.Lock()
	active := q.started && !q.stopped
	q.mu.Unlock()
	if active {
		q.queue.Enqueue(event{typ: eventRefetch})
	}
}

// Stop releases the subscription and halts all state transitions.
// A fetch already in flight is cancelled and its result discarded.
// Idempotent.
func (q *Query[T]) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		started := q.started
		q.mu.Unlock()

		if started {
			q.cancel()
			q.queue.Close()
			<-q.loopDone
			q.pumps.Wait()
		}

		q.mu.Lock()
		for ch := range q.watchers {
			close(ch)
			delete(q.watchers, ch)
		}
		q.mu.Unlock()

		q.logger.Info("live query stopped")
	})
}

// State returns a snapshot of the current state.
func (q *Query[T]) State() State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Updates returns a channel that receives a ping after every state change,
// and a function that releases it. Pings coalesce; read State for the
// current value. The channel is closed when the query stops.
func (q *Query[T]) Updates() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	q.watchers[ch] = struct{}{}
	q.mu.Unlock()

	release := func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		if _, ok := q.watchers[ch]; ok {
			delete(q.watchers, ch)
			close(ch)
		}
	}
	return ch, release
}

// WaitFor blocks until pred holds for the current state, ctx is done, or
// the query stops.
func (q *Query[T]) WaitFor(ctx context.Context, pred func(State[T]) bool) (State[T], error) {
	ch, release := q.Updates()
	defer release()

	for {
		st := q.State()
		if pred(st) {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case _, ok := <-ch:
			if !ok {
				st = q.State()
				if pred(st) {
					return st, nil
				}
				return st, ErrStopped
			}
		}
	}
}

// run is the single-writer loop.
// Blocks until ctx is cancelled or the queue is closed.
func (q *Query[T]) run(ctx context.Context) {
	defer close(q.loopDone)
	defer q.teardown()

	for {
		if ctx.Err() != nil {
			return
		}

		ev, ok := q.queue.TryDequeue()
		if ok {
			q.process(ctx, ev)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-q.queue.Wait():
			// The signal channel closes with the queue, which also lands
			// here; exit once nothing is left to process.
			if q.queue.Len() == 0 && q.isStopped() {
				return
			}
		}
	}
}

// process routes an event to its handler.
// CRITICAL: Called only from the loop goroutine.
func (q *Query[T]) process(ctx context.Context, ev event) {
	switch ev.typ {
	case eventRefetch:
		q.logger.Debug("refetch requested")
		if q.sub == nil && q.specErr == nil {
			q.subscribe(ctx)
		}
		q.startFetch(ctx)

	case eventChange:
		if ev.change.Table != q.spec.Table() {
			q.logger.Debug("ignoring change for other table", "event", ev.change.String())
			return
		}
		q.logger.Debug("change received", "event", ev.change.String())
		q.startFetch(ctx)

	case eventFetchDone:
		if ev.gen != q.current {
			q.logger.Debug("discarding stale fetch", "generation", ev.gen, "current", q.current)
			return
		}
		q.fetchCancel = nil
		q.applyFetch(ev.gen, ev.rows, ev.err)

	case eventSubscriptionLost:
		if ev.sub != q.sub {
			return
		}
		q.sub = nil
		_ = ev.sub.Close()
		err := source.NewSubscriptionError(q.spec.Table(), errFeedClosed)
		q.logger.Warn("change subscription lost", "error", err)
		q.update(func(s *State[T]) {
			s.Live = false
			s.SubscriptionErr = err
		})
	}
}

// subscribe registers the change subscription and starts its pump.
func (q *Query[T]) subscribe(ctx context.Context) {
	sub, err := q.src.Subscribe(ctx, q.spec.Table(), q.filter)
	if err != nil {
		if !source.IsSubscriptionError(err) {
			err = source.NewSubscriptionError(q.spec.Table(), err)
		}
		q.logger.Error("subscribe failed", "code", source.CodeOf(err), "error", err)
		q.update(func(s *State[T]) {
			s.Live = false
			s.SubscriptionErr = err
		})
		return
	}

	q.sub = sub
	q.update(func(s *State[T]) {
		s.Live = true
		s.SubscriptionErr = nil
	})

	q.pumps.Add(1)
	go q.pump(ctx, sub)
}

// pump forwards subscription events to the loop until the subscription
// closes or the query stops.
func (q *Query[T]) pump(ctx context.Context, sub source.Subscription) {
	defer q.pumps.Done()
	events := sub.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				q.queue.Enqueue(event{typ: eventSubscriptionLost, sub: sub})
				return
			}
			q.queue.Enqueue(event{typ: eventChange, change: ev})
		}
	}
}

// startFetch issues a new fetch generation, superseding any in flight.
func (q *Query[T]) startFetch(ctx context.Context) {
	if q.fetchCancel != nil {
		q.fetchCancel()
		q.fetchCancel = nil
	}

	gen := q.clock.Next()
	q.current = gen
	q.update(func(s *State[T]) {
		s.Status = StatusLoading
		s.Result = nil
		s.Err = nil
		s.Message = ""
		s.Generation = gen
	})

	if q.specErr != nil {
		q.applyFetch(gen, nil, q.specErr)
		return
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	q.fetchCancel = cancel
	spec := q.spec
	go func() {
		defer cancel()
		rows, err := q.src.Fetch(fetchCtx, spec)
		q.queue.Enqueue(event{typ: eventFetchDone, gen: gen, rows: rows, err: err})
	}()
}

// applyFetch turns a fetch outcome into loaded or errored state.
func (q *Query[T]) applyFetch(gen int64, rows []ir.Row, err error) {
	result, err := q.buildResult(rows, err)
	if err != nil {
		msg := source.UserMessage(err)
		q.logger.Error("fetch failed",
			"generation", gen,
			"code", source.CodeOf(err),
			"error", err,
		)
		q.update(func(s *State[T]) {
			s.Status = StatusErrored
			s.Result = nil
			s.Err = err
			s.Message = msg
			s.Generation = gen
		})
		return
	}

	q.logger.Debug("fetch applied", "generation", gen, "rows", result.Len(), "hash", result.Hash)
	q.update(func(s *State[T]) {
		s.Status = StatusLoaded
		s.Result = result
		s.LastGood = result
		s.Err = nil
		s.Message = ""
		s.Generation = gen
	})
}

func (q *Query[T]) buildResult(rows []ir.Row, err error) (*Result[T], error) {
	if err != nil {
		var se *source.Error
		if !errors.As(err, &se) {
			err = source.NewTransportError(q.spec.From, err)
		}
		return nil, err
	}

	if q.spec.Arity == queryir.ArityOne && len(rows) > 1 {
		return nil, source.NewAmbiguousResultError(q.spec.From, len(rows))
	}

	hash, err := ir.ResultHash(rows)
	if err != nil {
		return nil, source.NewQueryError(q.spec.From, "fingerprint rows", err)
	}

	decoded := make([]T, 0, len(rows))
	for i, row := range rows {
		v, err := q.decode(row)
		if err != nil {
			return nil, source.NewQueryError(q.spec.From, fmt.Sprintf("decode row %d", i), err)
		}
		decoded = append(decoded, v)
	}

	return &Result[T]{Arity: q.spec.Arity, Rows: decoded, Hash: hash}, nil
}

// update mutates state and pings watchers. No-op once stopped.
func (q *Query[T]) update(fn func(*State[T])) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	fn(&q.state)
	for ch := range q.watchers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (q *Query[T]) isStopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stopped
}

// teardown runs when the loop exits, whether through Stop or ctx.
func (q *Query[T]) teardown() {
	q.mu.Lock()
	q.stopped = true
	for ch := range q.watchers {
		close(ch)
		delete(q.watchers, ch)
	}
	q.mu.Unlock()

	if q.fetchCancel != nil {
		q.fetchCancel()
		q.fetchCancel = nil
	}
	if q.sub != nil {
		if err := q.sub.Close(); err != nil {
			q.logger.Warn("closing subscription failed", "error", err)
		}
		q.sub = nil
	}
	q.cancel()
}

// describe renders a spec for log lines.
func describe(spec queryir.Spec) string {
	d := spec.Describe()
	return fmt.Sprintf("from=%v filter=%q order=%v limit=%v arity=%v",
		d["from"], d["filter"], d["order"], d["limit"], d["arity"])
}
