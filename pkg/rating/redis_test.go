package rating

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratecache/pkg/cache"
)

// newTestRedisBackend 连接本地Redis测试库，连接失败时跳过测试
func newTestRedisBackend(t *testing.T) *RedisBackend {
	t.Helper()

	backend, err := NewRedisBackend(RedisConfig{
		Addr:      "localhost:6379",
		DB:        15,
		KeyPrefix: "ratecache:test:rating:",
	})
	if err != nil {
		t.Skip("Redis服务未运行，跳过集成测试")
	}

	t.Cleanup(func() {
		backend.Close()
	})
	return backend
}

func cleanupRatingKeys(t *testing.T, backend *RedisBackend, ids ...cache.Key) {
	t.Helper()

	t.Cleanup(func() {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = backend.ratingKey(id)
		}
		backend.client.Del(context.Background(), keys...)
	})
}

func TestRedisBackend_SeedAndFetch(t *testing.T) {
	backend := newTestRedisBackend(t)
	ctx := context.Background()
	cleanupRatingKeys(t, backend, 9001, 9002, 9003)

	updated := time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC)
	seeded := []Rating{
		{PlaceID: 9001, Score: 4.2, Votes: 812, UpdatedAt: updated},
		{PlaceID: 9002, Score: 3.1, Votes: 45, UpdatedAt: updated},
		{PlaceID: 9003, Score: 4.9, Votes: 12044, UpdatedAt: updated},
	}
	require.NoError(t, backend.SeedRatings(ctx, seeded, time.Minute))

	result, err := backend.FetchRatings(ctx, []cache.Key{9001, 9002, 9003})
	require.NoError(t, err)

	require.Len(t, result, 3)
	assert.Equal(t, cache.Key(9001), result[0].PlaceID)
	assert.Equal(t, 4.2, result[0].Score)
	assert.EqualValues(t, 812, result[0].Votes)
	assert.True(t, result[0].UpdatedAt.Equal(updated))
}

func TestRedisBackend_MissingKeysSkipped(t *testing.T) {
	backend := newTestRedisBackend(t)
	ctx := context.Background()
	cleanupRatingKeys(t, backend, 9011)

	require.NoError(t, backend.SeedRatings(ctx, []Rating{
		{PlaceID: 9011, Score: 2.5, Votes: 7},
	}, time.Minute))

	// 不存在的ID被跳过，返回数量少于请求数量
	result, err := backend.FetchRatings(ctx, []cache.Key{9010, 9011, 9012})
	require.NoError(t, err)

	require.Len(t, result, 1)
	assert.Equal(t, cache.Key(9011), result[0].PlaceID)
}

func TestRedisBackend_SkipsMalformedValue(t *testing.T) {
	backend := newTestRedisBackend(t)
	ctx := context.Background()
	cleanupRatingKeys(t, backend, 9021, 9022)

	require.NoError(t, backend.SeedRatings(ctx, []Rating{
		{PlaceID: 9021, Score: 4.0, Votes: 99},
	}, time.Minute))
	require.NoError(t, backend.client.Set(ctx, backend.ratingKey(9022), "not-json", time.Minute).Err())

	result, err := backend.FetchRatings(ctx, []cache.Key{9021, 9022})
	require.NoError(t, err)

	require.Len(t, result, 1)
	assert.Equal(t, cache.Key(9021), result[0].PlaceID)
}

func TestRedisBackend_EmptyFetch(t *testing.T) {
	backend := newTestRedisBackend(t)

	result, err := backend.FetchRatings(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result)
}

func TestRedisBackend_Ping(t *testing.T) {
	backend := newTestRedisBackend(t)

	assert.NoError(t, backend.Ping(context.Background()))
	assert.Equal(t, "redis", backend.Name())
}

func TestService_WithRedisBackend(t *testing.T) {
	backend := newTestRedisBackend(t)
	ctx := context.Background()
	cleanupRatingKeys(t, backend, 9031, 9032)

	require.NoError(t, backend.SeedRatings(ctx, []Rating{
		{PlaceID: 9031, Score: 4.4, Votes: 301},
		{PlaceID: 9032, Score: 3.8, Votes: 87},
	}, time.Minute))

	c, err := cache.NewLRUCache(cache.Config{MaxSize: 16, TTL: 60 * time.Second})
	require.NoError(t, err)
	svc := NewService(c, backend, nil)

	res, err := svc.Resolve(ctx, []cache.Key{9031, 9032})
	require.NoError(t, err)
	require.Len(t, res.Fetched, 2)

	// 第二次解析全部命中，不再访问Redis
	res, err = svc.Resolve(ctx, []cache.Key{9031, 9032})
	require.NoError(t, err)
	assert.Equal(t, []cache.Key{9031, 9032}, res.Fresh)
	assert.Empty(t, res.Fetched)
}
