package cache

import (
	"sync"
	"time"
)

// BatchRefreshCache 在底层存在性缓存之上累积接近过期的键，
// 待刷新队列达到阈值时一次性把这些键的时间戳重置为当次请求时间。
//
// 组合而非继承：只依赖 Store 能力接口，底层淘汰策略可整体替换。
// 刷新把对后端的重新校验归并成批，以最多一个TTL的陈旧容忍换取
// 更少的后端调用。触发只看队列长度，不设时间触发；到不了阈值的
// 队列会一直保留，直到相关键被自然命中或过期。
type BatchRefreshCache struct {
	mu      sync.Mutex
	store   Store
	cfg     BatchConfig
	nearTTL time.Duration // HalfTTLFraction×TTL，年龄严格大于该值才算接近过期

	queue  []Key            // 待刷新键，先见先排
	queued map[Key]struct{} // 队列成员表，两次刷新之间每个键至多入队一次

	batchRefreshes int64
}

var _ Cache = (*BatchRefreshCache)(nil)

// NewBatchRefreshCache 创建批量刷新缓存，内部自建 LRU 存储。
func NewBatchRefreshCache(cfg BatchConfig) (*BatchRefreshCache, error) {
	store, err := NewLRUCache(Config{MaxSize: cfg.MaxSize, TTL: cfg.TTL})
	if err != nil {
		return nil, err
	}
	return NewBatchRefreshCacheWith(store, cfg)
}

// NewBatchRefreshCacheWith 包装一个外部提供的存储。
func NewBatchRefreshCacheWith(store Store, cfg BatchConfig) (*BatchRefreshCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &BatchRefreshCache{
		store:   store,
		cfg:     cfg,
		nearTTL: time.Duration(float64(cfg.TTL) * cfg.HalfTTLFraction),
		queued:  make(map[Key]struct{}),
	}, nil
}

// Lookup 先把本次请求中接近过期的键入队，再原样委托底层查询，
// 最后在队列达到阈值时执行批量刷新。底层的命中/未命中/淘汰/过期
// 语义与计数完全不变。整个序列在一个临界区内完成。
func (b *BatchRefreshCache) Lookup(keys []Key, at time.Time) []Outcome {
	if len(keys) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// 入队在委托之前：新鲜度按委托前的时间戳判定。
	// 成员表同时挡掉跨调用与同一调用内的重复键。
	for _, key := range keys {
		if _, dup := b.queued[key]; dup {
			continue
		}
		age, ok := b.store.Age(key, at)
		if !ok || age > b.cfg.TTL || age <= b.nearTTL {
			continue
		}
		b.queue = append(b.queue, key)
		b.queued[key] = struct{}{}
	}

	outcomes := b.store.Lookup(keys, at)

	if len(b.queue) >= b.cfg.BatchThreshold {
		b.flushLocked(at)
	}
	return outcomes
}

// LookupOne 单键查询，等价于长度为1的批量查询。
func (b *BatchRefreshCache) LookupOne(key Key, at time.Time) Outcome {
	return b.Lookup([]Key{key}, at)[0]
}

// flushLocked 重置队列中仍然在缓存里的键的时间戳并提升新近度，
// 入队后被淘汰的键静默跳过。队列无条件清空。
func (b *BatchRefreshCache) flushLocked(at time.Time) {
	for _, key := range b.queue {
		b.store.Touch(key, at)
	}
	b.batchRefreshes++
	b.queue = b.queue[:0]
	b.queued = make(map[Key]struct{})
}

// Warm 直接预热底层存储，不经过刷新队列。
func (b *BatchRefreshCache) Warm(keys []Key, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.store.Warm(keys, at)
}

// Size 返回底层缓存当前条目数。
func (b *BatchRefreshCache) Size() int64 {
	return b.store.Size()
}

// Clear 清空底层缓存与待刷新队列，并重置批量刷新计数，可重复调用。
func (b *BatchRefreshCache) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.store.Clear()
	b.queue = nil
	b.queued = make(map[Key]struct{})
	b.batchRefreshes = 0
}

// Stats 返回底层统计快照并叠加批量刷新维度。
func (b *BatchRefreshCache) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.store.Stats()
	st.BatchRefreshes = b.batchRefreshes
	st.PendingQueueSize = len(b.queue)
	st.HalfTTLFraction = b.cfg.HalfTTLFraction
	st.BatchThreshold = b.cfg.BatchThreshold
	return st
}
