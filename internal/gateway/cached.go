package gateway

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"movedit/backend/internal/cache"
	"movedit/backend/internal/domain"
)

// CachedSearch serves catalog searches through a cache. Every successful
// mutation moves the namespace to a new key generation, since saving or
// deleting a movement changes item availability. The generation lives in the
// cache, so it survives restarts and is shared between replicas.
type CachedSearch struct {
	Gateway
	cache     cache.SearchCache
	ttl       time.Duration
	namespace string
	group     singleflight.Group
	log       zerolog.Logger
}

func NewCachedSearch(next Gateway, searchCache cache.SearchCache, ttl time.Duration, namespace string, logger zerolog.Logger) *CachedSearch {
	if searchCache == nil {
		searchCache = cache.NoopSearchCache{}
	}
	if ttl <= 0 {
		ttl = 20 * time.Second
	}
	return &CachedSearch{
		Gateway:   next,
		cache:     searchCache,
		ttl:       ttl,
		namespace: namespace,
		log:       logger.With().Str("component", "search-cache").Logger(),
	}
}

func (c *CachedSearch) SearchCatalog(ctx context.Context, query string, limit int) (domain.SearchResult, error) {
	gen, err := c.cache.Generation(ctx, c.namespace)
	if err != nil {
		c.log.Warn().Err(err).Msg("search cache generation read failed, bypassing cache")
		return c.Gateway.SearchCatalog(ctx, query, limit)
	}
	key := c.key(gen, query, limit)
	if cached, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		c.log.Warn().Err(err).Msg("search cache read failed")
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		result, err := c.Gateway.SearchCatalog(ctx, query, limit)
		if err != nil {
			return domain.SearchResult{}, err
		}
		if err := c.cache.Set(ctx, key, &result, c.ttl); err != nil {
			c.log.Warn().Err(err).Msg("search cache write failed")
		}
		return result, nil
	})
	if err != nil {
		return domain.SearchResult{}, err
	}
	return v.(domain.SearchResult), nil
}

func (c *CachedSearch) SaveMovement(ctx context.Context, payload domain.MovementPayload) (domain.MutationResult, error) {
	result, err := c.Gateway.SaveMovement(ctx, payload)
	c.bumpOnSuccess(ctx, result, err)
	return result, err
}

func (c *CachedSearch) DeleteMovement(ctx context.Context, id int64) (domain.MutationResult, error) {
	result, err := c.Gateway.DeleteMovement(ctx, id)
	c.bumpOnSuccess(ctx, result, err)
	return result, err
}

func (c *CachedSearch) bumpOnSuccess(ctx context.Context, result domain.MutationResult, err error) {
	if err != nil || !result.Succeeded() {
		return
	}
	if err := c.cache.Bump(ctx, c.namespace); err != nil {
		// Stale results stay visible until their TTL runs out.
		c.log.Warn().Err(err).Msg("search cache invalidation failed")
	}
}

func (c *CachedSearch) key(gen uint64, query string, limit int) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	raw := fmt.Sprintf("%s|%d|%d|%s", c.namespace, gen, limit, normalized)
	hash := sha1.Sum([]byte(raw))
	return "movedit:catalog:" + hex.EncodeToString(hash[:])
}
