package report

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"ratecache/pkg/cache"
	"ratecache/pkg/logger"
)

// Source 可采集统计快照的缓存
type Source interface {
	Stats() cache.Stats
}

// CollectorConfig 采集器配置
type CollectorConfig struct {
	Schedule string `json:"schedule" mapstructure:"schedule"` // cron表达式，含秒字段
}

// DefaultCollectorConfig 默认采集器配置，每30秒采集一次
func DefaultCollectorConfig() CollectorConfig {
	return CollectorConfig{
		Schedule: "*/30 * * * * *",
	}
}

// CollectorStats 采集器统计
type CollectorStats struct {
	Collections int64     `json:"collections"` // 完成的采集轮次
	SinkErrors  int64     `json:"sink_errors"` // 上报失败次数
	LastRun     time.Time `json:"last_run"`    // 最近一次采集时间
}

// Collector 周期性地把已注册缓存的统计快照推送到各上报端
type Collector struct {
	cron    *cron.Cron
	entryID cron.EntryID
	cfg     CollectorConfig
	sinks   []Sink
	log     *logger.Entry
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.RWMutex
	sources map[string]Source
	running bool
	stats   CollectorStats
}

// NewCollector 创建统计采集器
func NewCollector(cfg CollectorConfig, sinks ...Sink) *Collector {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultCollectorConfig().Schedule
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Collector{
		cron:    cron.New(cron.WithSeconds()),
		cfg:     cfg,
		sinks:   sinks,
		log:     logger.WithComponent("report-collector"),
		ctx:     ctx,
		cancel:  cancel,
		sources: make(map[string]Source),
	}
}

// Register 注册一个命名缓存作为采集来源，同名覆盖
func (c *Collector) Register(name string, src Source) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sources[name] = src
}

// Start 启动周期采集
func (c *Collector) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("collector already running")
	}

	entryID, err := c.cron.AddFunc(c.cfg.Schedule, func() {
		c.Collect(c.ctx)
	})
	if err != nil {
		return fmt.Errorf("invalid collector schedule %q: %w", c.cfg.Schedule, err)
	}

	c.entryID = entryID
	c.running = true
	c.cron.Start()

	c.log.WithField("schedule", c.cfg.Schedule).Info("统计采集器已启动")
	return nil
}

// Stop 停止周期采集，等待进行中的采集完成
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.cron.Remove(c.entryID)
	c.running = false
	c.mu.Unlock()

	stopCtx := c.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		c.log.Warn("等待采集任务结束超时")
	}

	c.log.Info("统计采集器已停止")
}

// Collect 立即执行一轮采集，把所有来源的快照推送到所有上报端。
// 单个上报端失败不中断本轮采集。
func (c *Collector) Collect(ctx context.Context) {
	c.mu.RLock()
	sources := make(map[string]Source, len(c.sources))
	for name, src := range c.sources {
		sources[name] = src
	}
	c.mu.RUnlock()

	var sinkErrors int64
	for name, src := range sources {
		stats := src.Stats()
		for _, sink := range c.sinks {
			if err := sink.Report(ctx, name, stats); err != nil {
				sinkErrors++
				c.log.WithField("cache", name).WithError(err).Warn("统计上报失败")
			}
		}
	}

	c.mu.Lock()
	c.stats.Collections++
	c.stats.SinkErrors += sinkErrors
	c.stats.LastRun = time.Now()
	c.mu.Unlock()
}

// Stats 返回采集器统计快照
func (c *Collector) Stats() CollectorStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.stats
}

// Close 停止采集并关闭所有上报端
func (c *Collector) Close() error {
	c.Stop()
	c.cancel()

	var firstErr error
	for _, sink := range c.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
