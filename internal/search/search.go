// Package search runs the debounced catalog lookup behind the item picker.
package search

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"movedit/backend/internal/debounce"
	"movedit/backend/internal/domain"
)

const (
	DefaultDelay   = 1000 * time.Millisecond
	DefaultLimit   = 20
	DefaultTimeout = 10 * time.Second
)

// Catalog is the part of the gateway the search needs.
type Catalog interface {
	SearchCatalog(ctx context.Context, query string, limit int) (domain.SearchResult, error)
}

type Options struct {
	Delay     time.Duration
	Limit     int
	Timeout   time.Duration
	Scheduler debounce.Scheduler
	Logger    zerolog.Logger
}

// State is a copy of what the picker shows. Highlighted is -1 when nothing is highlighted.
type State struct {
	Text        string               `json:"text"`
	Items       []domain.CatalogItem `json:"items"`
	Count       int                  `json:"count"`
	Highlighted int                  `json:"highlighted"`
	Pending     bool                 `json:"pending"`
	Loading     bool                 `json:"loading"`
	Error       string               `json:"error,omitempty"`
}

type Search struct {
	catalog Catalog
	task    *debounce.Task
	limit   int
	timeout time.Duration
	log     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	text      string
	items     []domain.CatalogItem
	count     int
	highlight int
	issued    uint64
	inflight  uint64
	lastErr   string
	closed    bool
}

func New(catalog Catalog, opts Options) *Search {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Limit < 1 {
		opts.Limit = DefaultLimit
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Search{
		catalog:   catalog,
		task:      debounce.New(opts.Scheduler, opts.Delay),
		limit:     opts.Limit,
		timeout:   opts.Timeout,
		log:       opts.Logger.With().Str("component", "search").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		items:     []domain.CatalogItem{},
		highlight: -1,
	}
}

// OnInput records the typed text and restarts the quiet period.
// The request goes out once the text has been stable for the whole delay.
func (s *Search) OnInput(text string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.text = text
	s.mu.Unlock()

	s.task.Schedule(s.fire)
}

func (s *Search) fire() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.issued++
	seq := s.issued
	s.inflight = seq
	text := s.text
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	s.log.Debug().Uint64("seq", seq).Str("query", text).Msg("catalog search issued")
	result, err := s.catalog.SearchCatalog(ctx, text, s.limit)
	s.apply(seq, result, err)
}

// apply installs a response only if it belongs to the latest issued request.
func (s *Search) apply(seq uint64, result domain.SearchResult, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || seq != s.issued {
		s.log.Debug().Uint64("seq", seq).Uint64("latest", s.issued).Msg("stale catalog search response dropped")
		return
	}
	s.inflight = 0
	if err != nil {
		s.lastErr = err.Error()
		s.log.Warn().Err(err).Uint64("seq", seq).Msg("catalog search failed")
		return
	}

	items := result.Items
	if items == nil {
		items = []domain.CatalogItem{}
	}
	s.items = items
	s.count = result.Count
	s.highlight = -1
	s.lastErr = ""
}

// OnSelect clears the picker after an item is chosen. Pending and in-flight
// searches are abandoned.
func (s *Search) OnSelect(item domain.CatalogItem) {
	s.log.Debug().Int64("item_id", item.ID).Msg("catalog item selected")
	s.clear()
}

// Reset clears the picker without a selection, as when the modal closes.
func (s *Search) Reset() {
	s.clear()
}

func (s *Search) clear() {
	s.task.Cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.text = ""
	s.items = []domain.CatalogItem{}
	s.count = 0
	s.highlight = -1
	s.lastErr = ""
	s.issued++
	s.inflight = 0
}

// Highlight marks the item at index. It reports false when index is out of range.
// A negative index clears the highlight.
func (s *Search) Highlight(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 {
		s.highlight = -1
		return true
	}
	if index >= len(s.items) {
		return false
	}
	s.highlight = index
	return true
}

// Highlighted returns the highlighted item.
func (s *Search) Highlighted() (domain.CatalogItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.highlight < 0 || s.highlight >= len(s.items) {
		return domain.CatalogItem{}, false
	}
	return s.items[s.highlight], true
}

// Item returns the result at index.
func (s *Search) Item(index int) (domain.CatalogItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.items) {
		return domain.CatalogItem{}, false
	}
	return s.items[index], true
}

func (s *Search) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Text:        s.text,
		Items:       append([]domain.CatalogItem{}, s.items...),
		Count:       s.count,
		Highlighted: s.highlight,
		Pending:     s.task.Pending(),
		Loading:     s.inflight != 0,
		Error:       s.lastErr,
	}
}

// Close stops the timer and drops every response that arrives afterwards.
func (s *Search) Close() {
	s.task.Cancel()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}
