// Package filters holds the pagination and search state the manifest list
// is derived from.
package filters

import (
	"net/url"
	"strconv"
	"strings"
	"sync"

	"sbomer/pkg/models"
)

const (
	DefaultPageIndex = 1
	DefaultPageSize  = 10
)

// Params is the raw filter state. Page fields are kept as text, the way they
// arrive from flags or a query string. PageIndex is 1-based.
type Params struct {
	QueryType  models.QueryType
	QueryValue string
	PageIndex  string
	PageSize   string
}

func DefaultParams() Params {
	return Params{
		PageIndex: strconv.Itoa(DefaultPageIndex),
		PageSize:  strconv.Itoa(DefaultPageSize),
	}
}

// FromValues reads pageIndex, pageSize, queryType and queryValue, falling
// back to the defaults for missing page fields. Values are not validated.
func FromValues(v url.Values) Params {
	p := DefaultParams()
	if s := v.Get("pageIndex"); s != "" {
		p.PageIndex = s
	}
	if s := v.Get("pageSize"); s != "" {
		p.PageSize = s
	}
	p.QueryType = models.QueryType(strings.ToUpper(strings.TrimSpace(v.Get("queryType"))))
	p.QueryValue = v.Get("queryValue")
	return p
}

func (p Params) Values() url.Values {
	v := url.Values{}
	v.Set("pageIndex", p.PageIndex)
	v.Set("pageSize", p.PageSize)
	if p.QueryType != models.QueryTypeNoFilter {
		v.Set("queryType", string(p.QueryType))
		v.Set("queryValue", p.QueryValue)
	}
	return v
}

// Store is a concurrency-safe holder of Params that notifies subscribers
// after every change. Setting equal Params is not a change.
type Store struct {
	mu     sync.Mutex
	params Params
	subs   map[int]func(Params)
	nextID int
}

func NewStore(initial Params) *Store {
	return &Store{
		params: initial,
		subs:   make(map[int]func(Params)),
	}
}

func (s *Store) Params() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Subscribe registers fn to be called with the new Params after each change.
// fn runs on the goroutine that made the change.
func (s *Store) Subscribe(fn func(Params)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *Store) Set(p Params) {
	s.Update(func(cur *Params) { *cur = p })
}

// Update applies fn to a copy of the current Params and publishes the result
// if it differs.
func (s *Store) Update(fn func(*Params)) {
	s.mu.Lock()
	next := s.params
	fn(&next)
	if next == s.params {
		s.mu.Unlock()
		return
	}
	s.params = next
	subs := make([]func(Params), 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		sub(next)
	}
}

func (s *Store) SetPage(page int) {
	if page < 1 {
		page = 1
	}
	s.Update(func(p *Params) { p.PageIndex = strconv.Itoa(page) })
}

// SetPageSize also returns to the first page.
func (s *Store) SetPageSize(size int) {
	s.Update(func(p *Params) {
		p.PageSize = strconv.Itoa(size)
		p.PageIndex = strconv.Itoa(DefaultPageIndex)
	})
}

// SetQuery also returns to the first page.
func (s *Store) SetQuery(queryType models.QueryType, value string) {
	s.Update(func(p *Params) {
		p.QueryType = queryType
		p.QueryValue = value
		p.PageIndex = strconv.Itoa(DefaultPageIndex)
	})
}

func (s *Store) NextPage() {
	s.Update(func(p *Params) { p.PageIndex = strconv.Itoa(currentPage(p.PageIndex) + 1) })
}

func (s *Store) PrevPage() {
	s.Update(func(p *Params) {
		if page := currentPage(p.PageIndex); page > 1 {
			p.PageIndex = strconv.Itoa(page - 1)
		}
	})
}

// currentPage falls back to the first page when the stored index is not a
// positive number.
func currentPage(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return DefaultPageIndex
	}
	return n
}
