package query

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sbomer/internal/filters"
	"sbomer/pkg/client"
	"sbomer/pkg/models"
)

var (
	m1 = models.Manifest{ID: "m1", Name: "log4j-core"}
	m2 = models.Manifest{ID: "m2", Name: "log4j-api"}
)

type response struct {
	res *client.ManifestsResult
	err error
}

type call struct {
	paging     client.Paging
	queryType  models.QueryType
	queryValue string
	resp       chan response
}

func (c *call) resolve(res *client.ManifestsResult) { c.resp <- response{res: res} }
func (c *call) reject(err error) { c.resp <- response{err: err} }

// fakeFetcher hands every request to the test and blocks until the test
// answers it or the query is closed.
type fakeFetcher struct {
	calls chan *call
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: make(chan *call, 16)}
}

func (f *fakeFetcher) GetManifests(ctx context.Context, paging client.Paging, queryType models.QueryType, queryValue string) (*client.ManifestsResult, error) {
	c := &call{paging: paging, queryType: queryType, queryValue: queryValue, resp: make(chan response, 1)}
	select {
	case f.calls <- c:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-c.resp:
		return r.res, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeFetcher) next(t *testing.T) *call {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("expected a fetch")
		return nil
	}
}

func (f *fakeFetcher) none(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.calls:
		t.Fatalf("unexpected fetch with %+v", c.paging)
	case <-time.After(50 * time.Millisecond):
	}
}

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) GetManifests(ctx context.Context, paging client.Paging, queryType models.QueryType, queryValue string) (*client.ManifestsResult, error) {
	args := m.Called(ctx, paging, queryType, queryValue)
	res, _ := args.Get(0).(*client.ManifestsResult)
	return res, args.Error(1)
}

func params(page, size int, queryType models.QueryType, value string) filters.Params {
	return filters.Params{
		QueryType:  queryType,
		QueryValue: value,
		PageIndex:  strconv.Itoa(page),
		PageSize:   strconv.Itoa(size),
	}
}

func settle(t *testing.T, q *Query) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := q.Settled(ctx)
	require.NoError(t, err)
	return st
}

func newQuery(t *testing.T, f Fetcher, src Source, opts ...Option) *Query {
	t.Helper()
	q := New(f, src, opts...)
	t.Cleanup(q.Close)
	return q
}

// TestQuery_InitialState tests the state before the first fetch completes
func TestQuery_InitialState(t *testing.T) {
	f := newFakeFetcher()
	q := newQuery(t, f, filters.NewStore(filters.DefaultParams()))

	assert.Equal(t, State{Total: 0, Value: nil, Loading: true, Err: nil}, q.State())
	f.next(t)
}

// TestQuery_FirstPage tests the first-page fetch end to end with a mocked client
func TestQuery_FirstPage(t *testing.T) {
	m := &mockFetcher{}
	m.On("GetManifests", mock.Anything, client.Paging{PageSize: 20, PageIndex: 0}, models.QueryTypeName, "log4j").
		Return(&client.ManifestsResult{Data: []models.Manifest{m1, m2}, Total: 47}, nil).
		Once()

	q := newQuery(t, m, filters.NewStore(params(1, 20, models.QueryTypeName, "log4j")))

	st := settle(t, q)
	assert.Equal(t, State{Total: 47, Value: []models.Manifest{m1, m2}, Loading: false, Err: nil}, st)
	m.AssertExpectations(t)
}

// TestQuery_Offset tests that the client receives the 1-based page minus one
func TestQuery_Offset(t *testing.T) {
	for _, page := range []int{1, 2, 3, 10, 250} {
		t.Run(strconv.Itoa(page), func(t *testing.T) {
			f := newFakeFetcher()
			newQuery(t, f, filters.NewStore(params(page, 10, models.QueryTypeNoFilter, "")))

			c := f.next(t)
			assert.Equal(t, page-1, c.paging.PageIndex)
			assert.Equal(t, 10, c.paging.PageSize)
		})
	}
}

// TestQuery_NonNumericPaging tests that unparsable paging reaches the client
// as zero and its rejection lands in Err
func TestQuery_NonNumericPaging(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s", r.URL)
	}))
	t.Cleanup(srv.Close)
	c, err := client.New(client.Config{BaseURL: srv.URL})
	require.NoError(t, err)

	store := filters.NewStore(filters.Params{PageIndex: "first", PageSize: "ten"})
	q := newQuery(t, c, store)

	st := settle(t, q)
	assert.ErrorIs(t, st.Err, client.ErrInvalidPaging)
	assert.False(t, st.Loading)
	assert.Nil(t, st.Value)

	f := newFakeFetcher()
	q2 := newQuery(t, f, filters.NewStore(filters.Params{PageIndex: " 2 ", PageSize: "2.5"}))
	got := f.next(t)
	assert.Equal(t, client.Paging{PageSize: 0, PageIndex: 1}, got.paging)
	got.resolve(&client.ManifestsResult{})
	settle(t, q2)
}

// TestQuery_ParamChanges tests one fetch per changed parameter and none for
// identical parameters
func TestQuery_ParamChanges(t *testing.T) {
	f := newFakeFetcher()
	store := filters.NewStore(params(1, 10, models.QueryTypeNoFilter, ""))
	newQuery(t, f, store)
	f.next(t).resolve(&client.ManifestsResult{})

	tests := []struct {
		name   string
		change func(*filters.Params)
		want   client.Paging
	}{
		{name: "page index", change: func(p *filters.Params) { p.PageIndex = "2" }, want: client.Paging{PageSize: 10, PageIndex: 1}},
		{name: "page size", change: func(p *filters.Params) { p.PageSize = "25" }, want: client.Paging{PageSize: 25, PageIndex: 1}},
		{name: "query type", change: func(p *filters.Params) { p.QueryType = models.QueryTypePurl }, want: client.Paging{PageSize: 25, PageIndex: 1}},
		{name: "query value", change: func(p *filters.Params) { p.QueryValue = "pkg:maven" }, want: client.Paging{PageSize: 25, PageIndex: 1}},
	}
	for _, tt := range tests {
		store.Update(tt.change)
		c := f.next(t)
		assert.Equal(t, tt.want, c.paging, tt.name)
		c.resolve(&client.ManifestsResult{})
		f.none(t)
	}

	store.Set(params(2, 25, models.QueryTypePurl, "pkg:maven"))
	f.none(t)
}

// pushSource notifies on every Push, changed or not.
type pushSource struct {
	mu     sync.Mutex
	params filters.Params
	subs   []func(filters.Params)
}

func (s *pushSource) Params() filters.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

func (s *pushSource) Subscribe(fn func(filters.Params)) func() {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.subs = nil
		s.mu.Unlock()
	}
}

func (s *pushSource) Push(p filters.Params) {
	s.mu.Lock()
	s.params = p
	subs := append([]func(filters.Params){}, s.subs...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(p)
	}
}

// TestQuery_IdenticalParams tests that repeated notifications with equal
// parameters do not refetch
func TestQuery_IdenticalParams(t *testing.T) {
	f := newFakeFetcher()
	src := &pushSource{params: params(1, 10, models.QueryTypeName, "netty")}
	newQuery(t, f, src)
	f.next(t).resolve(&client.ManifestsResult{})

	src.Push(params(1, 10, models.QueryTypeName, "netty"))
	src.Push(params(1, 10, models.QueryTypeName, "netty"))
	f.none(t)

	src.Push(params(1, 10, models.QueryTypeName, "jackson"))
	assert.Equal(t, "jackson", f.next(t).queryValue)
	f.none(t)
}

// TestQuery_Subscribe tests state notifications
func TestQuery_Subscribe(t *testing.T) {
	f := newFakeFetcher()
	store := filters.NewStore(filters.DefaultParams())
	q := newQuery(t, f, store)

	var mu sync.Mutex
	var got []State
	unsubscribe := q.Subscribe(func(st State) {
		mu.Lock()
		got = append(got, st)
		mu.Unlock()
	})

	f.next(t).resolve(&client.ManifestsResult{Data: []models.Manifest{m1}, Total: 1})
	settle(t, q)
	store.SetPage(2)
	f.next(t).resolve(&client.ManifestsResult{Data: []models.Manifest{m2}, Total: 1})
	settle(t, q)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.False(t, got[0].Loading)
	assert.True(t, got[1].Loading)
	assert.Equal(t, []models.Manifest{m2}, got[2].Value)
	mu.Unlock()

	unsubscribe()
	q.Retry()
	f.next(t).resolve(&client.ManifestsResult{})
	settle(t, q)

	mu.Lock()
	assert.Len(t, got, 3)
	mu.Unlock()
}

// TestQuery_Close tests that a closed query stops fetching and freezes its state
func TestQuery_Close(t *testing.T) {
	f := newFakeFetcher()
	store := filters.NewStore(filters.DefaultParams())
	q := New(f, store)

	f.next(t)
	q.Close()
	q.Close()

	assert.Equal(t, State{Loading: true}, q.State())

	store.SetPage(5)
	q.Retry()
	f.none(t)
}

// TestQuery_SettledContext tests that Settled gives up with the context
func TestQuery_SettledContext(t *testing.T) {
	f := newFakeFetcher()
	q := newQuery(t, f, filters.NewStore(filters.DefaultParams()))
	f.next(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	st, err := q.Settled(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, st.Loading)
}

// TestQuery_Retry tests that Retry fetches once with the current parameters
func TestQuery_Retry(t *testing.T) {
	f := newFakeFetcher()
	store := filters.NewStore(params(3, 20, models.QueryTypeID, "abc"))
	q := newQuery(t, f, store)

	first := f.next(t)
	assert.Equal(t, client.Paging{PageSize: 20, PageIndex: 2}, first.paging)
	first.reject(errors.New("connection refused"))
	settle(t, q)

	q.Retry()
	assert.True(t, q.State().Loading)
	c := f.next(t)
	assert.Equal(t, client.Paging{PageSize: 20, PageIndex: 2}, c.paging)
	assert.Equal(t, models.QueryTypeID, c.queryType)
	assert.Equal(t, "abc", c.queryValue)
	c.resolve(&client.ManifestsResult{Data: []models.Manifest{m1}, Total: 1})
	f.none(t)

	st := settle(t, q)
	assert.Equal(t, State{Total: 1, Value: []models.Manifest{m1}}, st)
}

// TestQuery_FailureKeepsResult tests that a rejected fetch keeps Value and Total
func TestQuery_FailureKeepsResult(t *testing.T) {
	f := newFakeFetcher()
	store := filters.NewStore(params(1, 10, models.QueryTypeNoFilter, ""))
	q := newQuery(t, f, store)

	f.next(t).resolve(&client.ManifestsResult{Data: []models.Manifest{m1}, Total: 5})
	settle(t, q)

	boom := &client.APIError{Status: http.StatusBadGateway, Message: "upstream down"}
	store.SetPage(2)
	f.next(t).reject(boom)

	st := settle(t, q)
	assert.Equal(t, 5, st.Total)
	assert.Equal(t, []models.Manifest{m1}, st.Value)
	assert.False(t, st.Loading)
	assert.Same(t, boom, st.Err)
}

// TestQuery_NetworkErrorFromInitial tests a failed first fetch
func TestQuery_NetworkErrorFromInitial(t *testing.T) {
	f := newFakeFetcher()
	q := newQuery(t, f, filters.NewStore(filters.DefaultParams()))

	netErr := errors.New("dial tcp: connection refused")
	f.next(t).reject(netErr)

	st := settle(t, q)
	assert.Equal(t, State{Total: 0, Value: nil, Loading: false, Err: netErr}, st)
}

// TestQuery_LoadingKeepsPrevious tests that a new attempt only flips Loading
func TestQuery_LoadingKeepsPrevious(t *testing.T) {
	f := newFakeFetcher()
	store := filters.NewStore(filters.DefaultParams())
	q := newQuery(t, f, store)

	f.next(t).resolve(&client.ManifestsResult{Data: []models.Manifest{m1}, Total: 3})
	settle(t, q)
	store.SetPage(2)
	failure := errors.New("timeout")
	f.next(t).reject(failure)
	settle(t, q)

	store.SetPage(3)
	assert.Equal(t, State{Total: 3, Value: []models.Manifest{m1}, Loading: true, Err: failure}, q.State())

	f.next(t).resolve(&client.ManifestsResult{Data: []models.Manifest{m2}, Total: 3})
	assert.Equal(t, State{Total: 3, Value: []models.Manifest{m2}}, settle(t, q))
}

// TestQuery_TotalFollowsLastResolved tests Total across sequential fetches
func TestQuery_TotalFollowsLastResolved(t *testing.T) {
	f := newFakeFetcher()
	store := filters.NewStore(filters.DefaultParams())
	q := newQuery(t, f, store)

	for i, total := range []int{3, 7, 0, 12} {
		if i > 0 {
			store.SetPage(i + 1)
		}
		f.next(t).resolve(&client.ManifestsResult{Total: total})
		assert.Equal(t, total, settle(t, q).Total)
	}
}

// TestQuery_StaleResponse tests that a superseded fetch sets Total but not Value
func TestQuery_StaleResponse(t *testing.T) {
	f := newFakeFetcher()
	store := filters.NewStore(filters.DefaultParams())
	q := newQuery(t, f, store)

	older := f.next(t)
	store.SetPage(2)
	newer := f.next(t)

	newer.resolve(&client.ManifestsResult{Data: []models.Manifest{m2}, Total: 10})
	settle(t, q)
	older.resolve(&client.ManifestsResult{Data: []models.Manifest{m1}, Total: 99})
	q.wg.Wait()

	assert.Equal(t, State{Total: 99, Value: []models.Manifest{m2}}, q.State())
}

// TestQuery_OlderResolvesWhileNewerPending tests Total tracking the most
// recently resolved response while the latest fetch is still in flight
func TestQuery_OlderResolvesWhileNewerPending(t *testing.T) {
	f := newFakeFetcher()
	store := filters.NewStore(filters.DefaultParams())
	q := newQuery(t, f, store)

	older := f.next(t)
	store.SetPage(2)
	newer := f.next(t)

	older.resolve(&client.ManifestsResult{Data: []models.Manifest{m1}, Total: 99})
	require.Eventually(t, func() bool {
		return q.State().Total == 99
	}, 2*time.Second, 10*time.Millisecond)

	st := q.State()
	assert.True(t, st.Loading)
	assert.Nil(t, st.Value)

	newer.resolve(&client.ManifestsResult{Data: []models.Manifest{m2}, Total: 10})
	assert.Equal(t, State{Total: 10, Value: []models.Manifest{m2}}, settle(t, q))
}

// TestQuery_StrictLatest tests that the option drops superseded responses entirely
func TestQuery_StrictLatest(t *testing.T) {
	f := newFakeFetcher()
	store := filters.NewStore(filters.DefaultParams())
	q := newQuery(t, f, store, WithStrictLatest())

	older := f.next(t)
	store.SetPage(2)
	newer := f.next(t)

	older.resolve(&client.ManifestsResult{Data: []models.Manifest{m1}, Total: 99})
	newer.resolve(&client.ManifestsResult{Data: []models.Manifest{m2}, Total: 10})
	settle(t, q)
	q.wg.Wait()

	assert.Equal(t, State{Total: 10, Value: []models.Manifest{m2}}, q.State())
}

// TestQuery_SettledAfterClose tests that closing with a fetch in flight
// releases Settled
func TestQuery_SettledAfterClose(t *testing.T) {
	f := newFakeFetcher()
	q := New(f, filters.NewStore(filters.DefaultParams()))
	f.next(t)
	q.Close()

	done := make(chan State, 1)
	go func() {
		st, _ := q.Settled(context.Background())
		done <- st
	}()

	select {
	case st := <-done:
		assert.True(t, st.Loading)
	case <-time.After(2 * time.Second):
		t.Fatal("Settled blocked after Close")
	}
}
