package rating

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"ratecache/pkg/cache"
)

// MockBackend 确定性评分后端，用于测试和离线回放。
// 未显式设置的ID按固定公式生成评分，同一ID多次请求返回相同结果。
type MockBackend struct {
	mu       sync.RWMutex
	ratings  map[cache.Key]Rating    // SetRating 设置的覆盖数据
	missing  map[cache.Key]struct{}  // 视为后端无数据的ID
	requests [][]cache.Key           // 每次调用请求的ID列表
	failErr  error                   // 非nil时 FetchRatings 直接返回该错误
	delay    time.Duration
	closed   bool
	calls    int64
}

var _ Backend = (*MockBackend)(nil)

// NewMockBackend 创建Mock后端
func NewMockBackend() *MockBackend {
	return &MockBackend{
		ratings: make(map[cache.Key]Rating),
		missing: make(map[cache.Key]struct{}),
	}
}

// FetchRatings 返回请求ID的评分，missing 中的ID被跳过
func (m *MockBackend) FetchRatings(ctx context.Context, ids []cache.Key) ([]Rating, error) {
	atomic.AddInt64(&m.calls, 1)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.requests = append(m.requests, append([]cache.Key(nil), ids...))
	failErr := m.failErr
	delay := m.delay
	m.mu.Unlock()

	if failErr != nil {
		return nil, failErr
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Rating, 0, len(ids))
	for _, id := range ids {
		if _, absent := m.missing[id]; absent {
			continue
		}
		if r, exists := m.ratings[id]; exists {
			result = append(result, r)
			continue
		}
		result = append(result, generateRating(id))
	}
	return result, nil
}

// Name 返回后端名称
func (m *MockBackend) Name() string {
	return "mock"
}

// Close 关闭后端，重复关闭返回错误
func (m *MockBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.closed = true
	return nil
}

// SetRating 为指定ID设置固定评分
func (m *MockBackend) SetRating(r Rating) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ratings[r.PlaceID] = r
	delete(m.missing, r.PlaceID)
}

// SetMissing 将指定ID标记为后端无数据
func (m *MockBackend) SetMissing(ids ...cache.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		m.missing[id] = struct{}{}
	}
}

// FailWith 使后续的 FetchRatings 调用返回 err，传nil恢复正常
func (m *MockBackend) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failErr = err
}

// SetDelay 设置每次调用的模拟延迟
func (m *MockBackend) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.delay = d
}

// Calls 返回 FetchRatings 的调用次数
func (m *MockBackend) Calls() int64 {
	return atomic.LoadInt64(&m.calls)
}

// Requests 返回各次调用请求的ID列表副本
func (m *MockBackend) Requests() [][]cache.Key {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([][]cache.Key, len(m.requests))
	for i, ids := range m.requests {
		result[i] = append([]cache.Key(nil), ids...)
	}
	return result
}

// generateRating 按ID生成确定性评分
func generateRating(id cache.Key) Rating {
	return Rating{
		PlaceID:   id,
		Score:     1.0 + float64(id%40)/10.0,
		Votes:     100 + id%900,
		UpdatedAt: time.Now(),
	}
}
