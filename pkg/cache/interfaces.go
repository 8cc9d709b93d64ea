package cache

import (
	"time"
)

// Key 缓存键。本仓库的业务键是地点ID，核心只把它当作可比较的
// 不透明标识使用，不依赖任何内部结构。
type Key = int64

// Outcome 单键查询的结果标志。只表达存在性与新鲜度，不携带业务负载；
// 未命中后的真实取值由外部后端负责，核心不参与。
type Outcome string

const (
	OutcomeHit     Outcome = "hit"     // 命中：键存在且未超过TTL
	OutcomeMiss    Outcome = "miss"    // 未命中：键不存在，已作为新条目插入
	OutcomeExpired Outcome = "expired" // 过期：键存在但超过TTL，已重置时间戳并提升
)

// Cache 存在性缓存对外的统一查询接口。
// 所有时间判定都基于调用方传入的逻辑时间 at，核心内部不读系统时钟，
// 因此同一请求序列的回放结果是确定的。
type Cache interface {
	// Lookup 按给定顺序逐键处理一次批量查询，返回与输入位置对齐的结果。
	Lookup(keys []Key, at time.Time) []Outcome
	// LookupOne 单键查询，等价于长度为1的批量查询。
	LookupOne(key Key, at time.Time) Outcome
	// Size 返回当前条目数。
	Size() int64
	// Clear 清空全部状态并把计数器归零，可重复调用。
	Clear()
	// Stats 返回统计快照。
	Stats() Stats
}

// Store 批量刷新层与回放工具所依赖的底层缓存能力。
// 批量刷新层只持有此接口而不继承实现，底层淘汰策略可整体替换。
type Store interface {
	Cache
	// Touch 把键的时间戳重置为 at 并提升为最近使用；键不存在返回 false。
	// 不计入命中/未命中统计。
	Touch(key Key, at time.Time) bool
	// Age 返回键在逻辑时间 at 下的年龄；只读探测，不改变任何状态。
	Age(key Key, at time.Time) (time.Duration, bool)
	// Keys 按最近使用到最久未用的顺序返回当前全部键。
	Keys() []Key
	// Warm 预热：不存在的键按新条目插入，已存在的键重置时间戳并提升，
	// 不计命中/未命中（容量淘汰照常计数）。
	Warm(keys []Key, at time.Time)
}

// Config 基础 TTL/LRU 缓存配置，构造后不可变。
type Config struct {
	MaxSize int64         `json:"max_size" mapstructure:"max_size"` // 最大条目数
	TTL     time.Duration `json:"ttl" mapstructure:"ttl"`           // 条目生存时间
}

// Validate 校验基础缓存配置。
func (c Config) Validate() error {
	if c.MaxSize <= 0 {
		return NewCacheError(ErrInvalidConfig, "max_size must be positive").
			WithContext("max_size", c.MaxSize)
	}
	if c.TTL <= 0 {
		return NewCacheError(ErrInvalidConfig, "ttl must be positive").
			WithContext("ttl", c.TTL.String())
	}
	return nil
}

// BatchConfig 批量刷新缓存配置，构造后不可变。
type BatchConfig struct {
	MaxSize         int64         `json:"max_size" mapstructure:"max_size"`                   // 底层缓存最大条目数
	TTL             time.Duration `json:"ttl" mapstructure:"ttl"`                             // 条目生存时间
	HalfTTLFraction float64       `json:"half_ttl_fraction" mapstructure:"half_ttl_fraction"` // 年龄超过该TTL比例即视为接近过期，(0,1]
	BatchThreshold  int           `json:"batch_threshold" mapstructure:"batch_threshold"`     // 触发批量刷新的队列长度
}

// Validate 校验批量刷新配置。
func (c BatchConfig) Validate() error {
	if err := (Config{MaxSize: c.MaxSize, TTL: c.TTL}).Validate(); err != nil {
		return err
	}
	if c.HalfTTLFraction <= 0 || c.HalfTTLFraction > 1 {
		return NewCacheError(ErrInvalidConfig, "half_ttl_fraction must be in (0, 1]").
			WithContext("half_ttl_fraction", c.HalfTTLFraction)
	}
	if c.BatchThreshold <= 0 {
		return NewCacheError(ErrInvalidConfig, "batch_threshold must be positive").
			WithContext("batch_threshold", c.BatchThreshold)
	}
	return nil
}

// DefaultBatchConfig 返回与线上评分缓存一致的默认配置。
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		MaxSize:         300000,
		TTL:             360 * time.Minute,
		HalfTTLFraction: 0.5,
		BatchThreshold:  100,
	}
}

// Stats 缓存统计快照。基础缓存不填充批量刷新相关字段。
type Stats struct {
	Hits             int64         `json:"hits"`               // 命中次数
	Misses           int64         `json:"misses"`             // 未命中次数（含过期）
	BulkMisses       int64         `json:"bulk_misses"`        // 含至少一个未命中/过期键的请求数
	Evictions        int64         `json:"evictions"`          // 容量淘汰次数
	Expirations      int64         `json:"expirations"`        // 过期重置次数
	BatchRefreshes   int64         `json:"batch_refreshes"`    // 批量刷新执行次数
	PendingQueueSize int           `json:"pending_queue_size"` // 待刷新队列当前长度
	CurrentSize      int64         `json:"current_size"`       // 当前条目数
	MaxSize          int64         `json:"max_size"`
	TTL              time.Duration `json:"ttl"`
	HalfTTLFraction  float64       `json:"half_ttl_fraction"`
	BatchThreshold   int           `json:"batch_threshold"`
	HitRate          float64       `json:"hit_rate"` // hits/(hits+misses)，分母为0时取0
}
