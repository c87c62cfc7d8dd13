package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"movedit/backend/internal/debounce/debouncetest"
	"movedit/backend/internal/domain"
)

type call struct {
	query string
	limit int
}

type fakeCatalog struct {
	mu      sync.Mutex
	calls   []call
	respond func(query string) (domain.SearchResult, error)
}

func (f *fakeCatalog) SearchCatalog(_ context.Context, query string, limit int) (domain.SearchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{query: query, limit: limit})
	respond := f.respond
	f.mu.Unlock()
	if respond != nil {
		return respond(query)
	}
	return resultFor(query), nil
}

func (f *fakeCatalog) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call{}, f.calls...)
}

func resultFor(query string) domain.SearchResult {
	return domain.SearchResult{
		Items: []domain.CatalogItem{{ID: 1, Codename: query + "-1"}, {ID: 2, Codename: query + "-2"}},
		Count: 2,
	}
}

func newTestSearch(catalog Catalog) (*Search, *debouncetest.Scheduler) {
	sched := debouncetest.New()
	s := New(catalog, Options{Scheduler: sched, Limit: 20, Logger: zerolog.Nop()})
	return s, sched
}

func TestOnInputFiresOnceWithLastText(t *testing.T) {
	catalog := &fakeCatalog{}
	s, sched := newTestSearch(catalog)

	s.OnInput("t")
	sched.Advance(300 * time.Millisecond)
	s.OnInput("to")
	sched.Advance(300 * time.Millisecond)
	s.OnInput("tor")
	sched.Advance(999 * time.Millisecond)

	if got := len(catalog.Calls()); got != 0 {
		t.Fatalf("expected no request before the quiet period ends, got %d", got)
	}
	if !s.State().Pending {
		t.Fatalf("expected a pending search")
	}

	sched.Advance(time.Millisecond)

	calls := catalog.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected exactly one request, got %d", len(calls))
	}
	if calls[0].query != "tor" || calls[0].limit != 20 {
		t.Fatalf("unexpected request: %+v", calls[0])
	}

	state := s.State()
	if state.Count != 2 || state.Items[0].Codename != "tor-1" {
		t.Fatalf("expected results applied, got %+v", state)
	}
	if state.Pending || state.Loading {
		t.Fatalf("expected idle search after response, got %+v", state)
	}
}

func TestStaleResponseIsDropped(t *testing.T) {
	catalog := &fakeCatalog{}
	s, sched := newTestSearch(catalog)

	first := true
	catalog.respond = func(query string) (domain.SearchResult, error) {
		if first {
			first = false
			// A newer query is typed and answered while this one is in flight.
			s.OnInput("cemento")
			sched.Advance(DefaultDelay)
		}
		return resultFor(query), nil
	}

	s.OnInput("tornillo")
	sched.Advance(DefaultDelay)

	if got := len(catalog.Calls()); got != 2 {
		t.Fatalf("expected two requests, got %d", got)
	}
	state := s.State()
	if state.Items[0].Codename != "cemento-1" {
		t.Fatalf("expected newest results to win, got %+v", state.Items)
	}
}

func TestSelectClearsAndOrphansInFlight(t *testing.T) {
	catalog := &fakeCatalog{}
	s, sched := newTestSearch(catalog)

	s.OnInput("tuerca")
	sched.Advance(DefaultDelay)
	if !s.Highlight(1) {
		t.Fatalf("expected highlight within range")
	}
	item, ok := s.Highlighted()
	if !ok || item.ID != 2 {
		t.Fatalf("expected highlighted item 2, got %+v ok=%t", item, ok)
	}

	catalog.respond = func(query string) (domain.SearchResult, error) {
		s.OnSelect(item)
		return resultFor(query), nil
	}
	s.OnInput("tuerca hex")
	s.OnInput("tuerca hexagonal")
	sched.Advance(DefaultDelay)

	state := s.State()
	if state.Text != "" || state.Count != 0 || len(state.Items) != 0 || state.Highlighted != -1 {
		t.Fatalf("expected cleared picker after select, got %+v", state)
	}
	if state.Loading {
		t.Fatalf("expected no loading state after select")
	}
}

func TestSelectCancelsPendingTimer(t *testing.T) {
	catalog := &fakeCatalog{}
	s, sched := newTestSearch(catalog)

	s.OnInput("pintura")
	s.OnSelect(domain.CatalogItem{ID: 4})
	sched.Advance(2 * DefaultDelay)

	if got := len(catalog.Calls()); got != 0 {
		t.Fatalf("expected cancelled search to never fire, got %d calls", got)
	}
	if sched.Pending() != 0 {
		t.Fatalf("expected no pending timers")
	}
}

func TestFailedSearchKeepsResults(t *testing.T) {
	catalog := &fakeCatalog{}
	s, sched := newTestSearch(catalog)

	s.OnInput("martillo")
	sched.Advance(DefaultDelay)

	catalog.respond = func(string) (domain.SearchResult, error) {
		return domain.SearchResult{}, errors.New("connection refused")
	}
	s.OnInput("martillo 16")
	sched.Advance(DefaultDelay)

	state := s.State()
	if state.Count != 2 || state.Items[0].Codename != "martillo-1" {
		t.Fatalf("expected previous results kept, got %+v", state)
	}
	if state.Error == "" {
		t.Fatalf("expected error to be reported in state")
	}
}

func TestHighlightOutOfRange(t *testing.T) {
	s, _ := newTestSearch(&fakeCatalog{})
	if s.Highlight(0) {
		t.Fatalf("expected highlight to fail with no results")
	}
	if _, ok := s.Highlighted(); ok {
		t.Fatalf("expected no highlighted item")
	}
}

func TestClosedSearchIgnoresInput(t *testing.T) {
	catalog := &fakeCatalog{}
	s, sched := newTestSearch(catalog)

	s.OnInput("arandela")
	s.Close()
	s.OnInput("arandela plana")
	sched.Advance(DefaultDelay)

	if got := len(catalog.Calls()); got != 0 {
		t.Fatalf("expected no requests after close, got %d", got)
	}
}
