// Package query derives the manifest list from the current filter state.
//
// A Query watches a Source of filter Params and, every time they change,
// fetches the matching page of manifests. Callers read the resulting State
// or subscribe to it.
package query

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"sbomer/internal/filters"
	"sbomer/pkg/client"
	"sbomer/pkg/models"
	"sbomer/pkg/utils"
)

// Fetcher is the part of the API client a Query needs. *client.Client
// satisfies it.
type Fetcher interface {
	GetManifests(ctx context.Context, paging client.Paging, queryType models.QueryType, queryValue string) (*client.ManifestsResult, error)
}

// Source supplies filter Params and reports changes to them.
// *filters.Store satisfies it.
type Source interface {
	Params() filters.Params
	Subscribe(fn func(filters.Params)) (unsubscribe func())
}

// State is a snapshot of the list. Value is nil until the first successful
// fetch. Value follows the latest issued fetch; Total follows whichever
// successful fetch resolved last. Both survive Loading and failures.
type State struct {
	Total   int
	Value   []models.Manifest
	Loading bool
	Err     error
}

type Option func(*Query)

func WithLogger(log *utils.Logger) Option {
	return func(q *Query) {
		if log != nil {
			q.log = log
		}
	}
}

// WithStrictLatest ignores superseded fetches entirely, so Total always
// comes from the same response as Value.
func WithStrictLatest() Option {
	return func(q *Query) { q.strictLatest = true }
}

type Query struct {
	fetcher      Fetcher
	source       Source
	log          *utils.Logger
	strictLatest bool

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup

	mu      sync.Mutex
	state   State
	last    filters.Params
	seq     uint64
	closed  bool
	pending bool
	settled chan struct{}
	subs    map[int]func(State)
	nextSub int

	// serializes subscriber callbacks
	notifyMu sync.Mutex
}

// New subscribes to source and issues the first fetch. The Query runs until
// Close is called.
func New(fetcher Fetcher, source Source, opts ...Option) *Query {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Query{
		fetcher: fetcher,
		source:  source,
		log:     utils.NopLogger(),
		ctx:     ctx,
		cancel:  cancel,
		state:   State{Loading: true},
		settled: make(chan struct{}),
		subs:    make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.log = q.log.WithComponent("query")

	q.unsubscribe = source.Subscribe(func(p filters.Params) {
		q.derive(p, false)
	})

	q.mu.Lock()
	started := q.seq > 0
	q.mu.Unlock()
	if !started {
		q.derive(source.Params(), true)
	}
	return q
}

func (q *Query) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Retry fetches again with the Params current at the time of the call, even
// if they have not changed.
func (q *Query) Retry() {
	q.derive(q.source.Params(), true)
}

// Subscribe registers fn to receive the State after every transition. fn
// must not call Retry or change the Source synchronously.
func (q *Query) Subscribe(fn func(State)) (unsubscribe func()) {
	q.mu.Lock()
	id := q.nextSub
	q.nextSub++
	q.subs[id] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.subs, id)
		q.mu.Unlock()
	}
}

// Settled blocks until the latest fetch has completed, then returns the
// State. It returns ctx.Err() with the current State if ctx ends first.
func (q *Query) Settled(ctx context.Context) (State, error) {
	q.mu.Lock()
	ch := q.settled
	q.mu.Unlock()

	select {
	case <-ch:
		return q.State(), nil
	case <-ctx.Done():
		return q.State(), ctx.Err()
	}
}

// Close stops watching the Source, cancels in-flight fetches and waits for
// them to return. The State is frozen afterwards and Settled no longer
// blocks.
func (q *Query) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	if q.pending {
		q.pending = false
		close(q.settled)
	}
	q.mu.Unlock()

	q.unsubscribe()
	q.cancel()
	q.wg.Wait()
}

func (q *Query) derive(p filters.Params, force bool) {
	q.mu.Lock()
	if q.closed || (!force && q.seq > 0 && p == q.last) {
		q.mu.Unlock()
		return
	}
	q.last = p
	q.seq++
	id := q.seq
	q.state.Loading = true
	if !q.pending {
		select {
		case <-q.settled:
			q.settled = make(chan struct{})
		default:
		}
		q.pending = true
	}
	q.wg.Add(1)
	q.mu.Unlock()

	q.notify()
	go q.run(id, p)
}

func (q *Query) run(id uint64, p filters.Params) {
	defer q.wg.Done()

	paging := client.Paging{
		PageSize:  coerce(p.PageSize),
		PageIndex: coerce(p.PageIndex) - 1,
	}
	q.log.Debug().
		Uint64("seq", id).
		Int("page_index", paging.PageIndex).
		Int("page_size", paging.PageSize).
		Str("query_type", p.QueryType.String()).
		Msg("fetching manifests")

	res, err := q.fetcher.GetManifests(q.ctx, paging, p.QueryType, p.QueryValue)
	if err == nil && res == nil {
		res = &client.ManifestsResult{}
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	latest := id == q.seq
	changed := false
	if err == nil && (latest || !q.strictLatest) {
		changed = q.state.Total != res.Total
		q.state.Total = res.Total
	}
	if latest {
		if err != nil {
			q.state.Err = err
		} else {
			q.state.Value = res.Data
			q.state.Err = nil
		}
		q.state.Loading = false
		q.pending = false
		close(q.settled)
		changed = true
	}
	q.mu.Unlock()

	if err != nil {
		q.log.Warn().Err(err).Uint64("seq", id).Bool("latest", latest).Msg("manifest fetch failed")
	} else if !latest {
		q.log.Debug().Uint64("seq", id).Msg("superseded manifest fetch resolved")
	}
	if changed {
		q.notify()
	}
}

func (q *Query) notify() {
	q.notifyMu.Lock()
	defer q.notifyMu.Unlock()

	q.mu.Lock()
	st := q.state
	subs := make([]func(State), 0, len(q.subs))
	for _, fn := range q.subs {
		subs = append(subs, fn)
	}
	q.mu.Unlock()

	for _, fn := range subs {
		fn(st)
	}
}

// coerce turns page text into a number. Anything that is not an integer
// becomes 0 and is left for the client to reject.
func coerce(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}
