package rating

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratecache/pkg/cache"
)

func TestMockBackend_Deterministic(t *testing.T) {
	backend := NewMockBackend()
	ctx := context.Background()

	first, err := backend.FetchRatings(ctx, []cache.Key{1, 39, 40})
	require.NoError(t, err)
	second, err := backend.FetchRatings(ctx, []cache.Key{1, 39, 40})
	require.NoError(t, err)

	require.Len(t, first, 3)
	assert.InDelta(t, 1.1, first[0].Score, 1e-9)
	assert.InDelta(t, 4.9, first[1].Score, 1e-9)
	assert.InDelta(t, 1.0, first[2].Score, 1e-9)

	// 同一ID两次请求评分一致
	for i := range first {
		assert.Equal(t, first[i].PlaceID, second[i].PlaceID)
		assert.Equal(t, first[i].Score, second[i].Score)
		assert.Equal(t, first[i].Votes, second[i].Votes)
	}
	assert.EqualValues(t, 2, backend.Calls())
}

func TestMockBackend_SetRatingAndMissing(t *testing.T) {
	backend := NewMockBackend()
	ctx := context.Background()

	backend.SetRating(Rating{PlaceID: 10, Score: 3.7, Votes: 1234})
	backend.SetMissing(11)

	result, err := backend.FetchRatings(ctx, []cache.Key{10, 11, 12})
	require.NoError(t, err)

	require.Len(t, result, 2)
	assert.Equal(t, cache.Key(10), result[0].PlaceID)
	assert.Equal(t, 3.7, result[0].Score)
	assert.Equal(t, cache.Key(12), result[1].PlaceID)
}

func TestMockBackend_FailWith(t *testing.T) {
	backend := NewMockBackend()
	ctx := context.Background()
	boom := errors.New("boom")

	backend.FailWith(boom)
	_, err := backend.FetchRatings(ctx, []cache.Key{1})
	assert.ErrorIs(t, err, boom)

	// 恢复后正常返回
	backend.FailWith(nil)
	result, err := backend.FetchRatings(ctx, []cache.Key{1})
	require.NoError(t, err)
	assert.Len(t, result, 1)
}

func TestMockBackend_Close(t *testing.T) {
	backend := NewMockBackend()

	require.NoError(t, backend.Close())
	assert.ErrorIs(t, backend.Close(), ErrClosed)

	_, err := backend.FetchRatings(context.Background(), []cache.Key{1})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMockBackend_Requests(t *testing.T) {
	backend := NewMockBackend()
	ctx := context.Background()

	_, err := backend.FetchRatings(ctx, []cache.Key{1, 2})
	require.NoError(t, err)
	_, err = backend.FetchRatings(ctx, []cache.Key{3})
	require.NoError(t, err)

	requests := backend.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, []cache.Key{1, 2}, requests[0])
	assert.Equal(t, []cache.Key{3}, requests[1])
}
