package rating

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"ratecache/pkg/cache"
	"ratecache/pkg/logger"
)

// BreakerConfig 后端熔断器配置
type BreakerConfig struct {
	Name        string        `json:"name" mapstructure:"name"`                   // 熔断器名称
	MaxRequests uint32        `json:"max_requests" mapstructure:"max_requests"`   // 半开状态下的最大请求数
	Interval    time.Duration `json:"interval" mapstructure:"interval"`           // 统计窗口时间
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`             // 熔断器打开后的超时时间
	ReadyToTrip uint32        `json:"ready_to_trip" mapstructure:"ready_to_trip"` // 触发熔断的连续失败次数
	Enabled     bool          `json:"enabled" mapstructure:"enabled"`             // 是否启用熔断器
}

// DefaultBreakerConfig 默认熔断器配置
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		Name:        "RatingBackend",
		MaxRequests: 5,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: 5,
		Enabled:     true,
	}
}

// ServiceStats 评分服务统计
type ServiceStats struct {
	Resolves       int64     `json:"resolves"`        // Resolve 调用次数
	KeysResolved   int64     `json:"keys_resolved"`   // 处理的ID总数
	BackendCalls   int64     `json:"backend_calls"`   // 后端调用次数
	BackendErrors  int64     `json:"backend_errors"`  // 后端调用失败次数
	ShortCircuits  int64     `json:"short_circuits"`  // 被熔断器拒绝的次数
	RatingsFetched int64     `json:"ratings_fetched"` // 从后端拉取的评分条数
	LastFailure    time.Time `json:"last_failure"`    // 最近一次后端失败时间
}

// Resolution 一次 Resolve 的结果
type Resolution struct {
	Fresh    []cache.Key     `json:"fresh"`    // 缓存命中、无需回源的ID
	Fetched  []Rating        `json:"fetched"`  // 本次从后端拉取到的评分
	Outcomes []cache.Outcome `json:"outcomes"` // 每个请求ID的缓存判定
}

// Service 评分解析服务。
// 缓存记录场所评分的已知状态，未命中或过期的ID通过熔断器回源拉取。
type Service struct {
	cache   cache.Cache
	backend Backend
	cb      *gobreaker.CircuitBreaker
	cfg     *BreakerConfig
	now     func() time.Time // 请求时间来源，默认 time.Now
	log     *logger.Entry

	mu    sync.RWMutex
	stats ServiceStats
}

// NewService 创建评分服务，cfg为nil时使用默认熔断配置
func NewService(c cache.Cache, backend Backend, cfg *BreakerConfig) *Service {
	if cfg == nil {
		cfg = DefaultBreakerConfig()
	}

	log := logger.WithComponent("rating-service")

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ReadyToTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("熔断器状态变更")
		},
	}

	return &Service{
		cache:   c,
		backend: backend,
		cb:      gobreaker.NewCircuitBreaker(settings),
		cfg:     cfg,
		now:     time.Now,
		log:     log,
	}
}

// SetClock 替换请求时间来源（测试用）
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Resolve 解析一批场所的评分状态。
// 缓存命中的ID视为新鲜数据不回源；未命中和过期的ID去重后
// 通过熔断器从后端批量拉取。后端没有数据的ID不会出现在 Fetched 中。
func (s *Service) Resolve(ctx context.Context, ids []cache.Key) (*Resolution, error) {
	at := s.now()
	outcomes := s.cache.Lookup(ids, at)

	s.mu.Lock()
	s.stats.Resolves++
	s.stats.KeysResolved += int64(len(ids))
	s.mu.Unlock()

	// 未命中与过期的ID去重后回源，命中且未回源的ID视为新鲜
	stale := make([]cache.Key, 0, len(ids))
	staleSet := make(map[cache.Key]struct{})
	for i, id := range ids {
		if outcomes[i] == cache.OutcomeHit {
			continue
		}
		if _, dup := staleSet[id]; dup {
			continue
		}
		staleSet[id] = struct{}{}
		stale = append(stale, id)
	}

	fresh := make([]cache.Key, 0, len(ids))
	freshSet := make(map[cache.Key]struct{})
	for i, id := range ids {
		if outcomes[i] != cache.OutcomeHit {
			continue
		}
		if _, isStale := staleSet[id]; isStale {
			continue
		}
		if _, dup := freshSet[id]; dup {
			continue
		}
		freshSet[id] = struct{}{}
		fresh = append(fresh, id)
	}

	resolution := &Resolution{
		Fresh:    fresh,
		Fetched:  []Rating{},
		Outcomes: outcomes,
	}

	if len(stale) == 0 {
		return resolution, nil
	}

	ratings, err := s.fetch(ctx, stale)
	if err != nil {
		return nil, err
	}

	resolution.Fetched = ratings

	s.mu.Lock()
	s.stats.RatingsFetched += int64(len(ratings))
	s.mu.Unlock()

	return resolution, nil
}

// ResolveOne 解析单个场所的评分状态
func (s *Service) ResolveOne(ctx context.Context, id cache.Key) (*Resolution, error) {
	return s.Resolve(ctx, []cache.Key{id})
}

// fetch 通过熔断器调用后端
func (s *Service) fetch(ctx context.Context, ids []cache.Key) ([]Rating, error) {
	s.mu.Lock()
	s.stats.BackendCalls++
	s.mu.Unlock()

	if !s.cfg.Enabled {
		ratings, err := s.backend.FetchRatings(ctx, ids)
		s.handleResult(err)
		if err != nil {
			return nil, fmt.Errorf("fetch ratings: %w", err)
		}
		return ratings, nil
	}

	result, err := s.cb.Execute(func() (interface{}, error) {
		return s.backend.FetchRatings(ctx, ids)
	})

	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		s.mu.Lock()
		s.stats.ShortCircuits++
		s.mu.Unlock()
		s.log.WithField("keys", len(ids)).Warn("熔断器拒绝后端请求")
		return nil, ErrBackendOpen
	}

	s.handleResult(err)
	if err != nil {
		return nil, fmt.Errorf("fetch ratings: %w", err)
	}

	ratings, ok := result.([]Rating)
	if !ok {
		typeErr := fmt.Errorf("unexpected breaker result type %T", result)
		s.handleResult(typeErr)
		return nil, typeErr
	}
	return ratings, nil
}

// handleResult 更新后端调用结果统计
func (s *Service) handleResult(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.stats.BackendErrors++
		s.stats.LastFailure = time.Now()
	}
}

// Stats 返回服务统计快照
func (s *Service) Stats() ServiceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.stats
}

// CacheStats 返回底层缓存统计快照
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// ClearCache 清空底层缓存，服务统计不受影响
func (s *Service) ClearCache() {
	s.cache.Clear()
}

// BreakerState 返回熔断器当前状态
func (s *Service) BreakerState() gobreaker.State {
	return s.cb.State()
}

// BreakerCounts 返回熔断器计数信息
func (s *Service) BreakerCounts() gobreaker.Counts {
	return s.cb.Counts()
}

// IsHealthy 检查服务健康状态，熔断器打开视为不健康
func (s *Service) IsHealthy() bool {
	if !s.cfg.Enabled {
		return true
	}
	return s.cb.State() != gobreaker.StateOpen
}

// Close 关闭底层后端
func (s *Service) Close() error {
	return s.backend.Close()
}
