package cache

import (
	"context"
	"time"

	"movedit/backend/internal/domain"
)

// SearchCache stores catalog search results. Generation and Bump keep a
// per-namespace counter in the cache itself, so every process sharing the
// cache sees the same invalidations.
type SearchCache interface {
	Get(ctx context.Context, key string) (*domain.SearchResult, bool, error)
	Set(ctx context.Context, key string, value *domain.SearchResult, ttl time.Duration) error
	Generation(ctx context.Context, namespace string) (uint64, error)
	Bump(ctx context.Context, namespace string) error
}

type NoopSearchCache struct{}

func (NoopSearchCache) Get(_ context.Context, _ string) (*domain.SearchResult, bool, error) {
	return nil, false, nil
}

func (NoopSearchCache) Set(_ context.Context, _ string, _ *domain.SearchResult, _ time.Duration) error {
	return nil
}

func (NoopSearchCache) Generation(_ context.Context, _ string) (uint64, error) {
	return 0, nil
}

func (NoopSearchCache) Bump(_ context.Context, _ string) error {
	return nil
}
