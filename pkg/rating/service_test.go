package rating

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ratecache/pkg/cache"
)

var serviceBase = time.Date(2025, 4, 1, 9, 30, 0, 0, time.UTC)

// testClock 可推进的固定时钟
type testClock struct {
	at time.Time
}

func (c *testClock) Now() time.Time {
	return c.at
}

func (c *testClock) Advance(d time.Duration) {
	c.at = c.at.Add(d)
}

func newTestService(t *testing.T, breaker *BreakerConfig) (*Service, *MockBackend, *testClock) {
	t.Helper()

	c, err := cache.NewLRUCache(cache.Config{MaxSize: 16, TTL: 60 * time.Second})
	require.NoError(t, err)

	backend := NewMockBackend()
	svc := NewService(c, backend, breaker)

	clk := &testClock{at: serviceBase}
	svc.SetClock(clk.Now)

	return svc, backend, clk
}

func TestService_Resolve_MissThenFetch(t *testing.T) {
	svc, backend, _ := newTestService(t, nil)
	ctx := context.Background()

	res, err := svc.Resolve(ctx, []cache.Key{1, 2, 3})
	require.NoError(t, err)

	assert.Equal(t, []cache.Outcome{cache.OutcomeMiss, cache.OutcomeMiss, cache.OutcomeMiss}, res.Outcomes)
	assert.Empty(t, res.Fresh)
	require.Len(t, res.Fetched, 3)
	assert.Equal(t, cache.Key(1), res.Fetched[0].PlaceID)
	assert.InDelta(t, 1.1, res.Fetched[0].Score, 1e-9)
	assert.EqualValues(t, 1, backend.Calls())

	stats := svc.Stats()
	assert.EqualValues(t, 1, stats.Resolves)
	assert.EqualValues(t, 3, stats.KeysResolved)
	assert.EqualValues(t, 1, stats.BackendCalls)
	assert.EqualValues(t, 3, stats.RatingsFetched)
	assert.EqualValues(t, 0, stats.BackendErrors)
}

func TestService_Resolve_FreshSkipsBackend(t *testing.T) {
	svc, backend, clk := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, []cache.Key{1, 2, 3})
	require.NoError(t, err)

	// TTL内再次解析，全部命中，不回源
	clk.Advance(30 * time.Second)
	res, err := svc.Resolve(ctx, []cache.Key{1, 2, 3})
	require.NoError(t, err)

	assert.Equal(t, []cache.Outcome{cache.OutcomeHit, cache.OutcomeHit, cache.OutcomeHit}, res.Outcomes)
	assert.Equal(t, []cache.Key{1, 2, 3}, res.Fresh)
	assert.Empty(t, res.Fetched)
	assert.EqualValues(t, 1, backend.Calls())
}

func TestService_Resolve_ExpiredRefetches(t *testing.T) {
	svc, backend, clk := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, []cache.Key{7})
	require.NoError(t, err)

	// 超过TTL后再次解析，判定为过期并重新拉取
	clk.Advance(61 * time.Second)
	res, err := svc.Resolve(ctx, []cache.Key{7})
	require.NoError(t, err)

	assert.Equal(t, []cache.Outcome{cache.OutcomeExpired}, res.Outcomes)
	assert.Empty(t, res.Fresh)
	require.Len(t, res.Fetched, 1)
	assert.EqualValues(t, 2, backend.Calls())
	assert.EqualValues(t, 1, svc.CacheStats().Expirations)
}

func TestService_Resolve_MixedPartition(t *testing.T) {
	svc, backend, clk := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, []cache.Key{1, 2})
	require.NoError(t, err)

	clk.Advance(30 * time.Second)
	res, err := svc.Resolve(ctx, []cache.Key{1, 2, 3})
	require.NoError(t, err)

	assert.Equal(t, []cache.Outcome{cache.OutcomeHit, cache.OutcomeHit, cache.OutcomeMiss}, res.Outcomes)
	assert.Equal(t, []cache.Key{1, 2}, res.Fresh)
	require.Len(t, res.Fetched, 1)
	assert.Equal(t, cache.Key(3), res.Fetched[0].PlaceID)

	requests := backend.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, []cache.Key{3}, requests[1])
}

func TestService_Resolve_DuplicateKeys(t *testing.T) {
	svc, backend, _ := newTestService(t, nil)
	ctx := context.Background()

	// 同一ID在一次请求中出现两次：首次未命中并自注册，第二次即命中
	res, err := svc.Resolve(ctx, []cache.Key{5, 5})
	require.NoError(t, err)

	assert.Equal(t, []cache.Outcome{cache.OutcomeMiss, cache.OutcomeHit}, res.Outcomes)
	assert.Empty(t, res.Fresh) // 回源过的ID不再计入新鲜列表
	require.Len(t, res.Fetched, 1)

	requests := backend.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, []cache.Key{5}, requests[0])
}

func TestService_Resolve_EmptyIDs(t *testing.T) {
	svc, backend, _ := newTestService(t, nil)

	res, err := svc.Resolve(context.Background(), nil)
	require.NoError(t, err)

	assert.Empty(t, res.Outcomes)
	assert.Empty(t, res.Fresh)
	assert.Empty(t, res.Fetched)
	assert.EqualValues(t, 0, backend.Calls())
}

func TestService_Resolve_SkipsMissingBackendData(t *testing.T) {
	svc, backend, _ := newTestService(t, nil)
	backend.SetMissing(2)
	ctx := context.Background()

	res, err := svc.Resolve(ctx, []cache.Key{1, 2})
	require.NoError(t, err)

	// 后端无数据的ID不出现在 Fetched 中，但缓存仍然记录了它
	require.Len(t, res.Fetched, 1)
	assert.Equal(t, cache.Key(1), res.Fetched[0].PlaceID)
	assert.EqualValues(t, 2, svc.CacheStats().CurrentSize)
}

func TestService_Resolve_BackendError(t *testing.T) {
	svc, backend, _ := newTestService(t, nil)
	boom := errors.New("backend boom")
	backend.FailWith(boom)

	_, err := svc.Resolve(context.Background(), []cache.Key{1})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "fetch ratings")

	stats := svc.Stats()
	assert.EqualValues(t, 1, stats.BackendErrors)
	assert.False(t, stats.LastFailure.IsZero())
	assert.Equal(t, gobreaker.StateClosed, svc.BreakerState())
}

func TestService_FailedFetchStillRegisters(t *testing.T) {
	svc, backend, _ := newTestService(t, nil)
	backend.FailWith(errors.New("backend boom"))
	ctx := context.Background()

	_, err := svc.Resolve(ctx, []cache.Key{1})
	require.Error(t, err)

	// 回源失败不回滚缓存注册，后端恢复前的重复请求直接命中
	backend.FailWith(nil)
	res, err := svc.Resolve(ctx, []cache.Key{1})
	require.NoError(t, err)
	assert.Equal(t, []cache.Outcome{cache.OutcomeHit}, res.Outcomes)
	assert.EqualValues(t, 1, backend.Calls())
}

func TestService_ShortCircuit(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.Name = "test-breaker"
	cfg.ReadyToTrip = 2

	svc, backend, _ := newTestService(t, cfg)
	backend.FailWith(errors.New("backend down"))
	ctx := context.Background()

	// 连续两次失败后熔断器打开
	_, err := svc.Resolve(ctx, []cache.Key{1})
	require.Error(t, err)
	_, err = svc.Resolve(ctx, []cache.Key{2})
	require.Error(t, err)
	require.Equal(t, gobreaker.StateOpen, svc.BreakerState())

	// 第三次请求被熔断器直接拒绝，不到达后端
	_, err = svc.Resolve(ctx, []cache.Key{3})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendOpen)
	assert.EqualValues(t, 2, backend.Calls())
	assert.False(t, svc.IsHealthy())

	stats := svc.Stats()
	assert.EqualValues(t, 1, stats.ShortCircuits)
	assert.EqualValues(t, 2, stats.BackendErrors)
}

func TestService_BreakerDisabled(t *testing.T) {
	cfg := DefaultBreakerConfig()
	cfg.ReadyToTrip = 1
	cfg.Enabled = false

	svc, backend, _ := newTestService(t, cfg)
	backend.FailWith(errors.New("backend down"))
	ctx := context.Background()

	// 熔断器关闭时每次请求都直达后端
	for i := 1; i <= 3; i++ {
		_, err := svc.Resolve(ctx, []cache.Key{cache.Key(i)})
		require.Error(t, err)
	}

	assert.EqualValues(t, 3, backend.Calls())
	assert.True(t, svc.IsHealthy())

	stats := svc.Stats()
	assert.EqualValues(t, 0, stats.ShortCircuits)
	assert.EqualValues(t, 3, stats.BackendErrors)
}

func TestService_ResolveOne(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	res, err := svc.ResolveOne(context.Background(), 42)
	require.NoError(t, err)

	assert.Equal(t, []cache.Outcome{cache.OutcomeMiss}, res.Outcomes)
	require.Len(t, res.Fetched, 1)
	assert.Equal(t, cache.Key(42), res.Fetched[0].PlaceID)
}

func TestService_ClearCache(t *testing.T) {
	svc, backend, _ := newTestService(t, nil)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, []cache.Key{1, 2})
	require.NoError(t, err)
	require.EqualValues(t, 2, svc.CacheStats().CurrentSize)

	svc.ClearCache()
	assert.EqualValues(t, 0, svc.CacheStats().CurrentSize)

	// 清空缓存后重新回源，服务统计保持累计
	_, err = svc.Resolve(ctx, []cache.Key{1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, backend.Calls())
	assert.EqualValues(t, 2, svc.Stats().Resolves)
}

func TestService_Close(t *testing.T) {
	svc, _, _ := newTestService(t, nil)

	require.NoError(t, svc.Close())
	assert.ErrorIs(t, svc.Close(), ErrClosed)
}
