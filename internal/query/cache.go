// Package query is the asynchronous operation cache of the portal.
//
// Every read against the main API runs as a query and every write as a
// mutation. The cache is the only place where their failures surface: a
// failed operation is handed to the configured ErrorSink exactly once,
// before the operation is marked settled. Callers only ever see a Result.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"medportal/internal/shared"
)

// Kind tags an operation as a read or a write.
type Kind int

const (
	// KindQuery is a cacheable, retryable read.
	KindQuery Kind = iota
	// KindMutation is a write; it is never cancelled once started.
	KindMutation
)

func (k Kind) String() string {
	if k == KindMutation {
		return "mutation"
	}
	return "query"
}

// Status of an operation.
type Status int

const (
	// StatusPending means no result is available yet.
	StatusPending Status = iota
	// StatusSuccess means Data holds the last successful value.
	StatusSuccess
	// StatusError means the last run failed and was dispatched.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "pending"
	}
}

// Fetcher performs the actual work of an operation.
type Fetcher func(ctx context.Context) (any, error)

// Operation identifies a failed operation for the sink.
type Operation struct {
	ID   string
	Kind Kind
	Key  string
}

// ErrorSink receives every failure of an operation exactly once.
type ErrorSink interface {
	OnError(ctx context.Context, op Operation, err error)
}

// ErrorSinkFunc adapts a function to ErrorSink.
type ErrorSinkFunc func(ctx context.Context, op Operation, err error)

// OnError implements ErrorSink.
func (f ErrorSinkFunc) OnError(ctx context.Context, op Operation, err error) { f(ctx, op, err) }

// Result is what callers get back. It never carries an error value.
type Result struct {
	Data      any
	Status    Status
	UpdatedAt time.Time
	// Stale reports that the data is older than the staleness window or was invalidated.
	Stale bool
	// Fetching reports that a run is in flight.
	Fetching bool
}

// Resolved reports whether Data holds a successful value.
func (r Result) Resolved() bool { return r.Status == StatusSuccess }

// Value returns Data as T.
func Value[T any](r Result) (T, bool) {
	var zero T
	if r.Data == nil {
		return zero, false
	}
	v, ok := r.Data.(T)
	return v, ok
}

// Key joins parts into a cache key.
func Key(parts ...string) string {
	return strings.Join(parts, "/")
}

// Options configures Cache.
type Options struct {
	// StaleTime is the staleness window of query results, default 10 minutes.
	StaleTime time.Duration
	// GCTime is how long unused entries and settled mutations are kept, default 5 minutes.
	GCTime time.Duration
	// RenderBudget is the longest Query waits for a result, default 1.5s.
	RenderBudget time.Duration
	// FetchTimeout bounds a single run, default 30s.
	FetchTimeout time.Duration
	// QuerySink and MutationSink receive failures.
	QuerySink    ErrorSink
	MutationSink ErrorSink
	Logger       *slog.Logger
	Now          func() time.Time
}

// DefaultStaleTime is the default staleness window of queries.
const DefaultStaleTime = 10 * time.Minute

type entry struct {
	key string
	// settle serialises generation checks, dispatch and settling of a run
	// with invalidation, so a superseded run never dispatches.
	settle sync.Mutex

	gen         uint64
	status      Status
	data        any
	updatedAt   time.Time
	invalidated bool
	inflight    chan struct{}
	cancel      context.CancelFunc
	lastUsed    time.Time
}

// MutationState is a snapshot of a tracked mutation.
type MutationState struct {
	ID        string
	Key       string
	Status    Status
	StartedAt time.Time
	SettledAt time.Time
}

// Cache tracks queries and mutations for the whole process.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]*entry
	mutations map[string]*MutationState
	opts      Options
	log       *slog.Logger
}

// New creates a Cache.
func New(o Options) *Cache {
	if o.StaleTime <= 0 {
		o.StaleTime = DefaultStaleTime
	}
	if o.GCTime <= 0 {
		o.GCTime = 5 * time.Minute
	}
	if o.RenderBudget <= 0 {
		o.RenderBudget = 1500 * time.Millisecond
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 30 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	log := o.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		entries:   make(map[string]*entry),
		mutations: make(map[string]*MutationState),
		opts:      o,
		log:       log.With("component", "query"),
	}
}

// Query returns the cached value of key, running fn when the entry is
// missing, stale, invalidated or failed. Concurrent callers share one run.
// Query waits at most the render budget; after that it returns the current
// state, typically StatusPending, while the run continues in the background.
func (c *Cache) Query(ctx context.Context, key string, fn Fetcher) Result {
	now := c.opts.Now()

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{key: key, status: StatusPending}
		c.entries[key] = e
	}
	e.lastUsed = now
	if c.freshLocked(e, now) {
		r := c.snapshotLocked(e, now)
		c.mu.Unlock()
		return r
	}
	done := e.inflight
	if done == nil {
		done = c.startLocked(ctx, e, fn)
	}
	c.mu.Unlock()

	timer := time.NewTimer(c.opts.RenderBudget)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
	case <-ctx.Done():
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked(e, c.opts.Now())
}

func (c *Cache) freshLocked(e *entry, now time.Time) bool {
	return e.status == StatusSuccess && !e.invalidated && now.Sub(e.updatedAt) < c.opts.StaleTime
}

func (c *Cache) snapshotLocked(e *entry, now time.Time) Result {
	return Result{
		Data:      e.data,
		Status:    e.status,
		UpdatedAt: e.updatedAt,
		Stale:     e.status == StatusSuccess && (e.invalidated || now.Sub(e.updatedAt) >= c.opts.StaleTime),
		Fetching:  e.inflight != nil,
	}
}

// startLocked launches a new run of e. The run outlives the request that
// started it, keeping the request's values (client id) but not its cancellation.
func (c *Cache) startLocked(ctx context.Context, e *entry, fn Fetcher) chan struct{} {
	e.gen++
	gen := e.gen
	done := make(chan struct{})
	e.inflight = done

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.FetchTimeout)
	e.cancel = cancel

	op := Operation{ID: uuid.NewString(), Kind: KindQuery, Key: e.key}
	go c.run(runCtx, cancel, e, gen, done, op, fn)
	return done
}

func (c *Cache) run(ctx context.Context, cancel context.CancelFunc, e *entry, gen uint64, done chan struct{}, op Operation, fn Fetcher) {
	defer close(done)
	defer cancel()

	data, err := call(ctx, fn)

	e.settle.Lock()
	defer e.settle.Unlock()

	c.mu.Lock()
	current := e.gen == gen
	c.mu.Unlock()
	if !current {
		c.log.Debug("discarding superseded query result", "key", op.Key, "op", op.ID)
		return
	}

	if err != nil && c.opts.QuerySink != nil {
		c.opts.QuerySink.OnError(ctx, op, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e.inflight = nil
	e.cancel = nil
	if err != nil {
		e.status = StatusError
		return
	}
	e.status = StatusSuccess
	e.data = data
	e.updatedAt = c.opts.Now()
	e.invalidated = false
}

// Invalidate marks every entry whose key starts with prefix as stale and
// supersedes its in-flight run; results of superseded runs are discarded
// without dispatch. Data is kept and served as stale until the next run.
func (c *Cache) Invalidate(prefix string) int {
	n := 0
	for _, e := range c.match(prefix) {
		e.settle.Lock()
		c.mu.Lock()
		e.gen++
		e.invalidated = true
		if e.cancel != nil {
			e.cancel()
			e.cancel = nil
		}
		e.inflight = nil
		c.mu.Unlock()
		e.settle.Unlock()
		n++
	}
	return n
}

// Remove drops every entry whose key starts with prefix.
func (c *Cache) Remove(prefix string) int {
	n := c.Invalidate(prefix)
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	return n
}

func (c *Cache) match(prefix string) []*entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*entry, 0)
	for key, e := range c.entries {
		if strings.HasPrefix(key, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// Mutate runs fn as a mutation. The run is detached from ctx cancellation.
// On failure the sink is called before the mutation is marked settled.
func (c *Cache) Mutate(ctx context.Context, key string, fn Fetcher) Result {
	st := &MutationState{ID: uuid.NewString(), Key: key, Status: StatusPending, StartedAt: c.opts.Now()}
	c.mu.Lock()
	c.mutations[st.ID] = st
	c.mu.Unlock()

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.FetchTimeout)
	defer cancel()

	data, err := call(runCtx, fn)
	if err != nil && c.opts.MutationSink != nil {
		c.opts.MutationSink.OnError(runCtx, Operation{ID: st.ID, Kind: KindMutation, Key: key}, err)
	}

	now := c.opts.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	st.SettledAt = now
	if err != nil {
		st.Status = StatusError
		return Result{Status: StatusError, UpdatedAt: now}
	}
	st.Status = StatusSuccess
	return Result{Data: data, Status: StatusSuccess, UpdatedAt: now}
}

// Mutations returns a snapshot of tracked mutations.
func (c *Cache) Mutations() []MutationState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]MutationState, 0, len(c.mutations))
	for _, m := range c.mutations {
		out = append(out, *m)
	}
	return out
}

// Collect removes query entries unused for longer than GCTime and settled
// mutations older than GCTime. It returns the number of removed items.
func (c *Cache) Collect() int {
	now := c.opts.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, e := range c.entries {
		if e.inflight == nil && now.Sub(e.lastUsed) > c.opts.GCTime {
			delete(c.entries, key)
			n++
		}
	}
	for id, m := range c.mutations {
		if m.Status != StatusPending && now.Sub(m.SettledAt) > c.opts.GCTime {
			delete(c.mutations, id)
			n++
		}
	}
	return n
}

// Len returns the number of query entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func call(ctx context.Context, fn Fetcher) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("operation panicked: %w", shared.Ensure(r))
		}
	}()
	return fn(ctx)
}
