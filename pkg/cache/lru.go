package cache

import (
	"container/list"
	"sync"
	"time"
)

// entry 缓存条目。只记录存在性，新近度由链表位置表达。
type entry struct {
	key       Key
	touchedAt time.Time // 最近一次插入、过期重置或刷新写入的逻辑时间
}

// LRUCache 带TTL过期与LRU淘汰的有界存在性缓存。
//
// 过期条目不会被删除：查到过期键时原地重置时间戳并提升为最近使用，
// 只有容量淘汰才真正移除条目。哈希表指向链表节点，查询、提升、
// 插入、淘汰均摊 O(1)。整个实例由单把互斥锁保护，批量查询是对
// 成员表与新近度序的复合读写，必须作为一个临界区执行。
type LRUCache struct {
	mu    sync.Mutex
	cfg   Config
	items map[Key]*list.Element
	order *list.List // Front=最近使用, Back=最久未用

	hits        int64
	misses      int64
	bulkMisses  int64
	evictions   int64
	expirations int64
}

var _ Store = (*LRUCache)(nil)

// NewLRUCache 创建有界 TTL/LRU 存在性缓存。
func NewLRUCache(cfg Config) (*LRUCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &LRUCache{
		cfg:   cfg,
		items: make(map[Key]*list.Element),
		order: list.New(),
	}, nil
}

// Lookup 按给定顺序逐键处理一次批量查询。
// 重复键不去重，每次出现独立处理；空键列表不改变任何状态。
// 本次调用中只要出现至少一个未命中或过期键，bulk_misses 加一。
func (c *LRUCache) Lookup(keys []Key, at time.Time) []Outcome {
	if len(keys) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	outcomes := make([]Outcome, len(keys))
	stale := 0
	for i, key := range keys {
		el, ok := c.items[key]
		if !ok {
			c.insertLocked(key, at)
			c.misses++
			stale++
			outcomes[i] = OutcomeMiss
			continue
		}

		ent := el.Value.(*entry)
		if at.Sub(ent.touchedAt) > c.cfg.TTL {
			// 过期走重置而非删除：条目留在缓存中，年龄清零
			ent.touchedAt = at
			c.order.MoveToFront(el)
			c.expirations++
			c.misses++
			stale++
			outcomes[i] = OutcomeExpired
			continue
		}

		// 命中只提升新近度，不重置时间戳；年龄恰好等于TTL仍算命中
		c.order.MoveToFront(el)
		c.hits++
		outcomes[i] = OutcomeHit
	}

	if stale > 0 {
		c.bulkMisses++
	}
	return outcomes
}

// LookupOne 单键查询，等价于长度为1的批量查询。
func (c *LRUCache) LookupOne(key Key, at time.Time) Outcome {
	return c.Lookup([]Key{key}, at)[0]
}

// insertLocked 插入新条目；容量已满时先淘汰最久未用的一个，绝不多淘汰。
func (c *LRUCache) insertLocked(key Key, at time.Time) {
	if int64(len(c.items)) >= c.cfg.MaxSize {
		c.evictOldestLocked()
	}
	c.items[key] = c.order.PushFront(&entry{key: key, touchedAt: at})
}

// evictOldestLocked 淘汰链表尾部的条目。
func (c *LRUCache) evictOldestLocked() {
	el := c.order.Back()
	if el == nil {
		return
	}
	ent := c.order.Remove(el).(*entry)
	delete(c.items, ent.key)
	c.evictions++
}

// Touch 把键的时间戳重置为 at 并提升为最近使用；键不存在返回 false。
// 不计入命中/未命中统计，批量刷新与预热走这条路径。
func (c *LRUCache) Touch(key Key, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.touchLocked(key, at)
}

func (c *LRUCache) touchLocked(key Key, at time.Time) bool {
	el, ok := c.items[key]
	if !ok {
		return false
	}
	el.Value.(*entry).touchedAt = at
	c.order.MoveToFront(el)
	return true
}

// Age 返回键在逻辑时间 at 下的年龄；键不存在时第二个返回值为 false。
// 只读探测，不改变新近度也不影响计数。
func (c *LRUCache) Age(key Key, at time.Time) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return 0, false
	}
	return at.Sub(el.Value.(*entry).touchedAt), true
}

// Keys 按最近使用到最久未用的顺序返回当前全部键。
func (c *LRUCache) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]Key, 0, len(c.items))
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).key)
	}
	return keys
}

// Warm 预热：不存在的键按新条目插入，已存在的键重置时间戳并提升。
// 不计命中/未命中，容量淘汰照常计数。回放工具用它把首见键先写入
// 缓存，使一段回放的统计口径与连续运行保持一致。
func (c *LRUCache) Warm(keys []Key, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		if c.touchLocked(key, at) {
			continue
		}
		c.insertLocked(key, at)
	}
}

// Size 返回当前条目数。
func (c *LRUCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.items))
}

// Clear 清空全部条目并把计数器归零，可重复调用。
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[Key]*list.Element)
	c.order.Init()
	c.hits = 0
	c.misses = 0
	c.bulkMisses = 0
	c.evictions = 0
	c.expirations = 0
}

// Stats 返回统计快照。
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Stats{
		Hits:        c.hits,
		Misses:      c.misses,
		BulkMisses:  c.bulkMisses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
		CurrentSize: int64(len(c.items)),
		MaxSize:     c.cfg.MaxSize,
		TTL:         c.cfg.TTL,
	}
	if total := c.hits + c.misses; total > 0 {
		st.HitRate = float64(c.hits) / float64(total)
	}
	return st
}
