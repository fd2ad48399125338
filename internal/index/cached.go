package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/codegrove/codesearch/internal/cache"
)

// CachedService fronts a Service with a short-TTL Redis cache over its
// read path, invalidated on every Commit and Reset so stale results
// never outlive a crawl's writes.
type CachedService struct {
	*Service
	cache *cache.RedisCache
	ttl   time.Duration
}

// NewCached wraps svc with caching through c, using ttl for cached
// entries.
func NewCached(svc *Service, c *cache.RedisCache, ttl time.Duration) *CachedService {
	return &CachedService{Service: svc, cache: c, ttl: ttl}
}

// Commit invalidates the cache after flushing writes, since the result
// set may have changed.
func (c *CachedService) Commit(ctx context.Context) error {
	if err := c.Service.Commit(ctx); err != nil {
		return err
	}
	return c.cache.InvalidateSearch()
}

// Reset invalidates the cache after the index is recreated empty.
func (c *CachedService) Reset(ctx context.Context) (int64, error) {
	docsBefore, err := c.Service.Reset(ctx)
	if err != nil {
		return 0, err
	}
	return docsBefore, c.cache.InvalidateSearch()
}

// Search serves from cache when available, falling through to the
// underlying Service and populating the cache on miss.
func (c *CachedService) Search(ctx context.Context, req SearchRequest) (SearchResult, error) {
	key := cache.SearchCacheKey(fingerprint(req))

	var cached SearchResult
	if err := c.cache.Get(key, &cached); err == nil {
		return cached, nil
	}

	result, err := c.Service.Search(ctx, req)
	if err != nil {
		return result, err
	}
	_ = c.cache.Set(key, result, c.ttl)
	return result, nil
}

// Facets serves from cache when available, falling through to the
// underlying Service and populating the cache on miss.
func (c *CachedService) Facets(ctx context.Context, queryText string, filters []Filter, fields []string) (map[string][]FacetCount, error) {
	key := cache.FacetsCacheKey(fingerprint(facetsFingerprintInput{queryText, filters, fields}))

	var cached map[string][]FacetCount
	if err := c.cache.Get(key, &cached); err == nil {
		return cached, nil
	}

	result, err := c.Service.Facets(ctx, queryText, filters, fields)
	if err != nil {
		return result, err
	}
	_ = c.cache.Set(key, result, c.ttl)
	return result, nil
}

type facetsFingerprintInput struct {
	QueryText string
	Filters   []Filter
	Fields    []string
}

// fingerprint derives a deterministic cache key component from any
// JSON-serializable request shape.
func fingerprint(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
