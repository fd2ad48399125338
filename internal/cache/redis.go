// Package cache provides a short-TTL Redis cache in front of the search
// index's facet and query endpoints, invalidated whenever the index is
// committed to or reset.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrKeyNotFound is returned by Get when the key is absent or expired.
var ErrKeyNotFound = errors.New("key not found")

// RedisCache wraps a go-redis client with typed JSON helpers.
type RedisCache struct {
	client *redis.Client
	ctx    context.Context
}

// New connects to addr/db and returns a ready RedisCache.
func New(addr string, db int) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	return &RedisCache{client: client, ctx: context.Background()}
}

// Close releases the underlying connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Set marshals value as JSON and stores it under key with the given TTL.
func (c *RedisCache) Set(key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	return c.client.Set(c.ctx, key, data, ttl).Err()
}

// Get unmarshals the JSON stored under key into dest.
func (c *RedisCache) Get(key string, dest interface{}) error {
	data, err := c.client.Get(c.ctx, key).Bytes()
	if err == redis.Nil {
		return ErrKeyNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// Exists reports whether key is present and unexpired.
func (c *RedisCache) Exists(key string) (bool, error) {
	n, err := c.client.Exists(c.ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes key, if present.
func (c *RedisCache) Delete(key string) error {
	return c.client.Del(c.ctx, key).Err()
}

// DeletePrefix removes every key matching prefix+"*", used to invalidate
// the whole search/facet cache on index Commit or Reset.
func (c *RedisCache) DeletePrefix(prefix string) error {
	iter := c.client.Scan(c.ctx, 0, prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(c.ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(c.ctx, keys...).Err()
}

// SetNX sets key only if it does not already exist, reporting whether it
// did.
func (c *RedisCache) SetNX(key string, value interface{}, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("marshal cache value: %w", err)
	}
	return c.client.SetNX(c.ctx, key, data, ttl).Result()
}

// Increment atomically increments key and returns the new value.
func (c *RedisCache) Increment(key string) (int64, error) {
	return c.client.Incr(c.ctx, key).Result()
}

const (
	searchPrefix = "codesearch:search:"
	facetsPrefix = "codesearch:facets:"
)

// SearchCacheKey derives a deterministic cache key from a query's
// fingerprint (query text, filters, page, size, sort) so identical
// requests hit the cache and any change in inputs misses it.
func SearchCacheKey(fingerprint string) string {
	return searchPrefix + fingerprint
}

// FacetsCacheKey derives a deterministic cache key for a facet request.
func FacetsCacheKey(fingerprint string) string {
	return facetsPrefix + fingerprint
}

// InvalidateSearch drops every cached search and facet result. Called
// after Commit or Reset against the search index.
func (c *RedisCache) InvalidateSearch() error {
	if err := c.DeletePrefix(searchPrefix); err != nil {
		return err
	}
	return c.DeletePrefix(facetsPrefix)
}
