package config

import (
	"errors"
	"time"

	"ratecache/pkg/cache"
	"ratecache/pkg/logger"
	"ratecache/pkg/rating"
	"ratecache/pkg/replay"
	"ratecache/pkg/report"
	"ratecache/pkg/trace"
)

// Config 主配置结构
type Config struct {
	// 请求日志读取配置
	Trace trace.ReaderConfig `json:"trace" mapstructure:"trace"`

	// 缓存配置
	Cache CacheConfig `json:"cache" mapstructure:"cache"`

	// 回放配置
	Replay replay.Config `json:"replay" mapstructure:"replay"`

	// 评分后端配置
	Backend BackendConfig `json:"backend" mapstructure:"backend"`

	// HTTP服务配置
	Server ServerConfig `json:"server" mapstructure:"server"`

	// 统计上报配置
	Report ReportConfig `json:"report" mapstructure:"report"`

	// 日志配置
	Logger logger.Config `json:"logger" mapstructure:"logger"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	MaxSize         int64         `json:"max_size" mapstructure:"max_size"`                   // 缓存容量上限
	TTL             time.Duration `json:"ttl" mapstructure:"ttl"`                             // 条目有效期
	HalfTTLFraction float64       `json:"half_ttl_fraction" mapstructure:"half_ttl_fraction"` // 接近过期判定比例 (0,1]
	BatchThreshold  int           `json:"batch_threshold" mapstructure:"batch_threshold"`     // 批量刷新触发阈值
	BatchRefresh    bool          `json:"batch_refresh" mapstructure:"batch_refresh"`         // 是否启用批量刷新层
}

// BaseConfig 返回基础LRU缓存配置
func (c CacheConfig) BaseConfig() cache.Config {
	return cache.Config{
		MaxSize: c.MaxSize,
		TTL:     c.TTL,
	}
}

// BatchConfig 返回批量刷新缓存配置
func (c CacheConfig) BatchConfig() cache.BatchConfig {
	return cache.BatchConfig{
		MaxSize:         c.MaxSize,
		TTL:             c.TTL,
		HalfTTLFraction: c.HalfTTLFraction,
		BatchThreshold:  c.BatchThreshold,
	}
}

// Build 按配置构建缓存实例
func (c CacheConfig) Build() (cache.Cache, error) {
	if c.BatchRefresh {
		return cache.NewBatchRefreshCache(c.BatchConfig())
	}
	return cache.NewLRUCache(c.BaseConfig())
}

// BackendConfig 评分后端配置
type BackendConfig struct {
	Kind    string               `json:"kind" mapstructure:"kind"`       // 后端类型 (redis, mock)
	Redis   rating.RedisConfig   `json:"redis" mapstructure:"redis"`     // Redis后端配置
	Breaker rating.BreakerConfig `json:"breaker" mapstructure:"breaker"` // 熔断器配置
}

// ServerConfig HTTP服务配置
type ServerConfig struct {
	Addr            string        `json:"addr" mapstructure:"addr"`                         // 监听地址
	Mode            string        `json:"mode" mapstructure:"mode"`                         // gin运行模式 (debug, release, test)
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout"`         // 读超时
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout"`       // 写超时
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"` // 优雅关闭等待时间
}

// ReportConfig 统计上报配置
type ReportConfig struct {
	Enabled       bool                `json:"enabled" mapstructure:"enabled"`               // 是否启用周期上报
	Schedule      string              `json:"schedule" mapstructure:"schedule"`             // 采集cron表达式，含秒字段
	InfluxEnabled bool                `json:"influx_enabled" mapstructure:"influx_enabled"` // 是否写入InfluxDB
	Influx        report.InfluxConfig `json:"influx" mapstructure:"influx"`                 // InfluxDB连接配置
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Trace: trace.ReaderConfig{
			Path:       "requests.log",
			MaxRecords: 0,
			GBK:        false,
		},
		Cache: CacheConfig{
			MaxSize:         300000,
			TTL:             360 * time.Minute,
			HalfTTLFraction: 0.5,
			BatchThreshold:  100,
			BatchRefresh:    true,
		},
		Replay: replay.DefaultConfig(),
		Backend: BackendConfig{
			Kind:    "mock",
			Redis:   rating.DefaultRedisConfig(),
			Breaker: *rating.DefaultBreakerConfig(),
		},
		Server: ServerConfig{
			Addr:            ":8080",
			Mode:            "release",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Report: ReportConfig{
			Enabled:       false,
			Schedule:      report.DefaultCollectorConfig().Schedule,
			InfluxEnabled: false,
			Influx:        report.DefaultInfluxConfig(),
		},
		Logger: logger.Config{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	// 批量刷新层关闭时只校验基础缓存参数
	if c.Cache.BatchRefresh {
		if err := c.Cache.BatchConfig().Validate(); err != nil {
			return err
		}
	} else {
		if err := c.Cache.BaseConfig().Validate(); err != nil {
			return err
		}
	}

	if c.Backend.Kind != "redis" && c.Backend.Kind != "mock" {
		return errors.New("backend kind must be redis or mock")
	}

	if c.Server.Addr == "" {
		return errors.New("server addr cannot be empty")
	}

	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return errors.New("server timeouts must be positive")
	}

	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server shutdown_timeout must be positive")
	}

	if c.Report.Enabled && c.Report.Schedule == "" {
		return errors.New("report schedule cannot be empty when report is enabled")
	}

	return nil
}

// SetCacheMaxSize 设置缓存容量上限
func (c *Config) SetCacheMaxSize(maxSize int64) *Config {
	c.Cache.MaxSize = maxSize
	return c
}

// SetCacheTTL 设置条目有效期
func (c *Config) SetCacheTTL(ttl time.Duration) *Config {
	c.Cache.TTL = ttl
	return c
}

// SetBackendKind 设置评分后端类型
func (c *Config) SetBackendKind(kind string) *Config {
	c.Backend.Kind = kind
	return c
}

// SetServerAddr 设置HTTP服务监听地址
func (c *Config) SetServerAddr(addr string) *Config {
	c.Server.Addr = addr
	return c
}

// SetLogLevel 设置日志级别
func (c *Config) SetLogLevel(level string) *Config {
	c.Logger.Level = level
	return c
}
