package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rc := &RedisCache{client: client, ctx: context.Background()}

	return rc, mr
}

func TestRedisCache_SetAndGet(t *testing.T) {
	rc, mr := setupTestRedis(t)
	defer mr.Close()
	defer rc.Close()

	type testData struct {
		Name  string
		Value int
	}
	data := testData{Name: "test", Value: 42}

	require.NoError(t, rc.Set("test:key", data, time.Minute))

	var retrieved testData
	require.NoError(t, rc.Get("test:key", &retrieved))
	assert.Equal(t, data, retrieved)
}

func TestRedisCache_Get_MissingKey(t *testing.T) {
	rc, mr := setupTestRedis(t)
	defer mr.Close()
	defer rc.Close()

	var dest string
	err := rc.Get("nonexistent", &dest)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRedisCache_Exists(t *testing.T) {
	rc, mr := setupTestRedis(t)
	defer mr.Close()
	defer rc.Close()

	exists, err := rc.Exists("nonexistent")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, rc.Set("existing", "value", time.Minute))

	exists, err = rc.Exists("existing")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRedisCache_Delete(t *testing.T) {
	rc, mr := setupTestRedis(t)
	defer mr.Close()
	defer rc.Close()

	require.NoError(t, rc.Set("to_delete", "value", time.Minute))
	require.NoError(t, rc.Delete("to_delete"))

	exists, err := rc.Exists("to_delete")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisCache_SetNX(t *testing.T) {
	rc, mr := setupTestRedis(t)
	defer mr.Close()
	defer rc.Close()

	ok, err := rc.SetNX("lock:key", "value1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rc.SetNX("lock:key", "value2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	var value string
	require.NoError(t, rc.Get("lock:key", &value))
	assert.Equal(t, "value1", value)
}

func TestRedisCache_Increment(t *testing.T) {
	rc, mr := setupTestRedis(t)
	defer mr.Close()
	defer rc.Close()

	val, err := rc.Increment("counter")
	require.NoError(t, err)
	assert.Equal(t, int64(1), val)

	val, err = rc.Increment("counter")
	require.NoError(t, err)
	assert.Equal(t, int64(2), val)
}

func TestRedisCache_InvalidateSearch(t *testing.T) {
	rc, mr := setupTestRedis(t)
	defer mr.Close()
	defer rc.Close()

	require.NoError(t, rc.Set(SearchCacheKey("fp1"), []string{"doc1"}, time.Minute))
	require.NoError(t, rc.Set(FacetsCacheKey("fp2"), map[string]int{"go": 3}, time.Minute))

	require.NoError(t, rc.InvalidateSearch())

	exists, err := rc.Exists(SearchCacheKey("fp1"))
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = rc.Exists(FacetsCacheKey("fp2"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisCache_Expiration(t *testing.T) {
	rc, mr := setupTestRedis(t)
	defer mr.Close()
	defer rc.Close()

	require.NoError(t, rc.Set("temp:key", "value", time.Second))
	mr.FastForward(2 * time.Second)

	var value string
	err := rc.Get("temp:key", &value)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}
