package gateway_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"movedit/backend/internal/domain"
	"movedit/backend/internal/gateway"
	"movedit/backend/internal/gateway/memory"
)

type mapCache struct {
	mu   sync.Mutex
	data map[string]domain.SearchResult
	gens map[string]uint64
}

func newMapCache() *mapCache {
	return &mapCache{data: map[string]domain.SearchResult{}, gens: map[string]uint64{}}
}

func (c *mapCache) Generation(_ context.Context, namespace string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[namespace], nil
}

func (c *mapCache) Bump(_ context.Context, namespace string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[namespace]++
	return nil
}

func (c *mapCache) Get(_ context.Context, key string) (*domain.SearchResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	return &v, true, nil
}

func (c *mapCache) Set(_ context.Context, key string, value *domain.SearchResult, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = *value
	return nil
}

type countingGateway struct {
	gateway.Gateway
	searches atomic.Int32
}

func (g *countingGateway) SearchCatalog(ctx context.Context, query string, limit int) (domain.SearchResult, error) {
	g.searches.Add(1)
	return g.Gateway.SearchCatalog(ctx, query, limit)
}

func TestCachedSearchServesRepeatsFromCache(t *testing.T) {
	next := &countingGateway{Gateway: memory.NewSeeded(7, 1)}
	cached := gateway.NewCachedSearch(next, newMapCache(), time.Minute, "company-1", zerolog.Nop())
	ctx := context.Background()

	first, err := cached.SearchCatalog(ctx, "Tornillo", 20)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	second, err := cached.SearchCatalog(ctx, "  tornillo ", 20)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if next.searches.Load() != 1 {
		t.Fatalf("expected one backend search, got %d", next.searches.Load())
	}
	if first.Count != second.Count || second.Count != 1 {
		t.Fatalf("unexpected results %+v %+v", first, second)
	}

	if _, err := cached.SearchCatalog(ctx, "tornillo", 5); err != nil {
		t.Fatalf("search: %v", err)
	}
	if next.searches.Load() != 2 {
		t.Fatalf("expected a different limit to miss the cache, got %d searches", next.searches.Load())
	}
}

func TestCachedSearchInvalidatesOnMutation(t *testing.T) {
	next := &countingGateway{Gateway: memory.NewSeeded(7, 1)}
	cached := gateway.NewCachedSearch(next, newMapCache(), time.Minute, "company-1", zerolog.Nop())
	ctx := context.Background()

	if _, err := cached.SearchCatalog(ctx, "tuerca", 20); err != nil {
		t.Fatalf("search: %v", err)
	}

	itemID := int64(2)
	rejected, err := cached.SaveMovement(ctx, domain.MovementPayload{DocumentID: 7, ItemID: &itemID})
	if err != nil || rejected.Succeeded() {
		t.Fatalf("expected rejected save, got %+v err=%v", rejected, err)
	}
	if _, err := cached.SearchCatalog(ctx, "tuerca", 20); err != nil {
		t.Fatalf("search: %v", err)
	}
	if next.searches.Load() != 1 {
		t.Fatalf("expected rejected save to keep cache, got %d searches", next.searches.Load())
	}

	saved, err := cached.SaveMovement(ctx, domain.MovementPayload{
		DocumentID: 7, ItemID: &itemID, Name: "Tuerca", Quantity: decimal.NewFromInt(1), Price: decimal.NewFromInt(4),
	})
	if err != nil || !saved.Succeeded() {
		t.Fatalf("expected accepted save, got %+v err=%v", saved, err)
	}
	if _, err := cached.SearchCatalog(ctx, "tuerca", 20); err != nil {
		t.Fatalf("search: %v", err)
	}
	if next.searches.Load() != 2 {
		t.Fatalf("expected accepted save to invalidate cache, got %d searches", next.searches.Load())
	}
}

func TestCachedSearchInvalidationIsSharedThroughCache(t *testing.T) {
	shared := newMapCache()
	backend := memory.NewSeeded(7, 1)
	first := &countingGateway{Gateway: backend}
	second := &countingGateway{Gateway: backend}
	writer := gateway.NewCachedSearch(first, shared, time.Minute, "company-1", zerolog.Nop())
	reader := gateway.NewCachedSearch(second, shared, time.Minute, "company-1", zerolog.Nop())
	ctx := context.Background()

	if _, err := reader.SearchCatalog(ctx, "arandela", 20); err != nil {
		t.Fatalf("search: %v", err)
	}
	if _, err := writer.SearchCatalog(ctx, "arandela", 20); err != nil {
		t.Fatalf("search: %v", err)
	}
	if first.searches.Load() != 0 {
		t.Fatalf("expected second instance to reuse the shared entry, got %d searches", first.searches.Load())
	}

	itemID := int64(5)
	saved, err := writer.SaveMovement(ctx, domain.MovementPayload{
		DocumentID: 7, ItemID: &itemID, Name: "Arandela", Quantity: decimal.NewFromInt(3), Price: decimal.NewFromInt(1),
	})
	if err != nil || !saved.Succeeded() {
		t.Fatalf("expected accepted save, got %+v err=%v", saved, err)
	}

	if _, err := reader.SearchCatalog(ctx, "arandela", 20); err != nil {
		t.Fatalf("search: %v", err)
	}
	if second.searches.Load() != 2 {
		t.Fatalf("expected a save on one instance to invalidate the other, got %d searches", second.searches.Load())
	}
}
