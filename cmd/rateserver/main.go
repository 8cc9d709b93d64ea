package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"

	"ratecache/pkg/cache"
	"ratecache/pkg/config"
	"ratecache/pkg/logger"
	"ratecache/pkg/rating"
	"ratecache/pkg/report"
)

var (
	logLevel    = flag.String("log-level", "", "日志级别 (debug, info, warn, error)，默认使用配置值")
	logFormat   = flag.String("log-format", "", "日志格式 (json or text)，默认使用配置值")
	configPath  = flag.String("config", "", "配置文件路径 (例如 /app/config/rateserver.yaml)")
	serverAddr  = flag.String("addr", "", "HTTP监听地址，格式 :port")
	backendKind = flag.String("backend", "", "评分后端类型 (redis, mock)")
	redisAddr   = flag.String("redis", "", "Redis 地址，格式 host:port")
	redisPass   = flag.String("redis-pass", "", "Redis 密码")
)

// RateServer 评分查询服务
type RateServer struct {
	cfg       *config.Config
	cache     cache.Cache
	backend   rating.Backend
	service   *rating.Service
	collector *report.Collector
	server    *http.Server
	log       *logger.Entry
}

// ResolveRequest 批量评分查询请求
type ResolveRequest struct {
	PlaceIDs []cache.Key `json:"place_ids"`
}

// ResolveResponse 批量评分查询响应
type ResolveResponse struct {
	Fresh    []cache.Key     `json:"fresh"`
	Fetched  []rating.Rating `json:"fetched"`
	Outcomes []cache.Outcome `json:"outcomes"`
	Elapsed  string          `json:"elapsed"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		logger.InitFromEnv()
		logger.GetLogger().WithError(err).Fatal("Failed to load configuration")
	}

	logger.Init(cfg.Logger)
	log := logger.WithComponent("rateserver")

	// Set Gin mode
	gin.SetMode(cfg.Server.Mode)

	server, err := NewRateServer(cfg)
	if err != nil {
		log.WithError(err).Fatal("Failed to create rate server")
	}
	defer server.Close()

	if err := server.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start rate server")
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down rate server...")
	server.Stop()
}

func loadConfig() (*config.Config, error) {
	if *configPath != "" {
		viper.SetConfigFile(*configPath)
	} else {
		viper.SetConfigName("rateserver")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	}

	// Set defaults
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.read_timeout", "10s")
	viper.SetDefault("server.write_timeout", "10s")
	viper.SetDefault("server.shutdown_timeout", "5s")
	viper.SetDefault("cache.max_size", 300000)
	viper.SetDefault("cache.ttl", "6h")
	viper.SetDefault("cache.half_ttl_fraction", 0.5)
	viper.SetDefault("cache.batch_threshold", 100)
	viper.SetDefault("cache.batch_refresh", true)
	viper.SetDefault("backend.kind", "mock")
	viper.SetDefault("backend.redis.addr", "localhost:6379")
	viper.SetDefault("backend.redis.password", "")
	viper.SetDefault("backend.redis.db", 0)
	viper.SetDefault("backend.redis.key_prefix", "rating:")
	viper.SetDefault("backend.redis.dial_timeout", "5s")
	viper.SetDefault("backend.breaker.name", "RatingBackend")
	viper.SetDefault("backend.breaker.max_requests", 5)
	viper.SetDefault("backend.breaker.interval", "60s")
	viper.SetDefault("backend.breaker.timeout", "30s")
	viper.SetDefault("backend.breaker.ready_to_trip", 5)
	viper.SetDefault("backend.breaker.enabled", true)
	viper.SetDefault("report.enabled", false)
	viper.SetDefault("report.schedule", "*/30 * * * * *")
	viper.SetDefault("report.influx_enabled", false)
	viper.SetDefault("report.influx.url", "http://localhost:8086")
	viper.SetDefault("report.influx.token", "")
	viper.SetDefault("report.influx.org", "ratecache")
	viper.SetDefault("report.influx.bucket", "cache_stats")
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "text")
	viper.SetDefault("logger.output", "stderr")

	// Environment variable overrides
	viper.SetEnvPrefix("RATESERVER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Command-line flag overrides (when provided)
	if *serverAddr != "" {
		viper.Set("server.addr", *serverAddr)
	}
	if *backendKind != "" {
		viper.Set("backend.kind", *backendKind)
	}
	if *redisAddr != "" {
		viper.Set("backend.redis.addr", *redisAddr)
	}
	if *redisPass != "" {
		viper.Set("backend.redis.password", *redisPass)
	}
	if *logLevel != "" {
		viper.Set("logger.level", *logLevel)
	}
	if *logFormat != "" {
		viper.Set("logger.format", *logFormat)
	}

	cfg := config.Default()
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func NewRateServer(cfg *config.Config) (*RateServer, error) {
	log := logger.WithComponent("rateserver")

	cacheImpl, err := cfg.Cache.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}

	// 按配置选择评分后端
	var backend rating.Backend
	switch cfg.Backend.Kind {
	case "redis":
		backend, err = rating.NewRedisBackend(cfg.Backend.Redis)
		if err != nil {
			return nil, err
		}
		log.WithField("addr", cfg.Backend.Redis.Addr).Info("使用Redis评分后端")
	default:
		backend = rating.NewMockBackend()
		log.Info("使用Mock评分后端")
	}

	service := rating.NewService(cacheImpl, backend, &cfg.Backend.Breaker)

	// 周期统计上报
	var collector *report.Collector
	if cfg.Report.Enabled {
		sinks := []report.Sink{report.NewLogSink()}
		if cfg.Report.InfluxEnabled {
			influxSink, err := report.NewInfluxSink(cfg.Report.Influx)
			if err != nil {
				backend.Close()
				return nil, fmt.Errorf("failed to create influx sink: %w", err)
			}
			sinks = append(sinks, influxSink)
		}
		collector = report.NewCollector(report.CollectorConfig{Schedule: cfg.Report.Schedule}, sinks...)
		collector.Register("rateserver", cacheImpl)
	}

	return &RateServer{
		cfg:       cfg,
		cache:     cacheImpl,
		backend:   backend,
		service:   service,
		collector: collector,
		log:       log,
	}, nil
}

func (s *RateServer) Start() error {
	router := gin.New()

	// Middleware
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// Health check
	router.GET("/health", s.healthCheck)

	// API routes
	v1 := router.Group("/api/v1")
	{
		v1.POST("/ratings/resolve", s.resolveRatings)
		v1.GET("/cache/stats", s.getCacheStats)
		v1.POST("/cache/clear", s.clearCache)
	}

	// 监控端点
	router.GET("/metrics", s.getMetrics)

	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	if s.collector != nil {
		if err := s.collector.Start(); err != nil {
			return fmt.Errorf("failed to start stats collector: %w", err)
		}
	}

	s.log.WithField("addr", s.cfg.Server.Addr).Info("Starting rate server...")

	// Start server in goroutine
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Fatal("Failed to start HTTP server")
		}
	}()

	return nil
}

func (s *RateServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.log.WithError(err).Error("Failed to gracefully shutdown server")
	}

	if s.collector != nil {
		s.collector.Stop()
	}
}

func (s *RateServer) Close() {
	if s.collector != nil {
		s.collector.Close()
	}
	if s.service != nil {
		s.service.Close()
	}
}

func (s *RateServer) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	services := map[string]string{}
	health := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now(),
		"services":  services,
	}

	// 熔断器状态
	services["breaker"] = s.service.BreakerState().String()
	if !s.service.IsHealthy() {
		health["status"] = "degraded"
	}

	// Redis后端连接
	if redisBackend, ok := s.backend.(*rating.RedisBackend); ok {
		if err := redisBackend.Ping(ctx); err != nil {
			services["redis"] = "error: " + err.Error()
			health["status"] = "degraded"
		} else {
			services["redis"] = "ok"
		}
	}

	if health["status"] == "ok" {
		c.JSON(200, health)
	} else {
		c.JSON(503, health)
	}
}

func (s *RateServer) resolveRatings(c *gin.Context) {
	var req ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, ErrorResponse{Error: "bad_request", Message: "Invalid request body: " + err.Error()})
		return
	}
	if len(req.PlaceIDs) == 0 {
		c.JSON(400, ErrorResponse{Error: "bad_request", Message: "place_ids is required"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	started := time.Now()
	res, err := s.service.Resolve(ctx, req.PlaceIDs)
	if err != nil {
		if errors.Is(err, rating.ErrBackendOpen) {
			c.JSON(503, ErrorResponse{Error: "backend_unavailable", Message: "Rating backend circuit open"})
			return
		}
		s.log.WithError(err).WithField("keys", len(req.PlaceIDs)).Error("Failed to resolve ratings")
		c.JSON(500, ErrorResponse{Error: "internal_error", Message: "Failed to resolve ratings"})
		return
	}

	c.JSON(200, ResolveResponse{
		Fresh:    res.Fresh,
		Fetched:  res.Fetched,
		Outcomes: res.Outcomes,
		Elapsed:  time.Since(started).String(),
	})
}

func (s *RateServer) getCacheStats(c *gin.Context) {
	c.JSON(200, map[string]interface{}{
		"timestamp": time.Now(),
		"cache":     s.service.CacheStats(),
		"service":   s.service.Stats(),
	})
}

func (s *RateServer) clearCache(c *gin.Context) {
	s.service.ClearCache()
	s.log.Info("缓存已清空")

	c.JSON(200, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now(),
	})
}

// getMetrics 获取系统指标
func (s *RateServer) getMetrics(c *gin.Context) {
	counts := s.service.BreakerCounts()

	c.JSON(200, map[string]interface{}{
		"timestamp": time.Now(),
		"cache":     s.service.CacheStats(),
		"service":   s.service.Stats(),
		"breaker": map[string]interface{}{
			"state":                s.service.BreakerState().String(),
			"requests":             counts.Requests,
			"total_successes":      counts.TotalSuccesses,
			"total_failures":       counts.TotalFailures,
			"consecutive_failures": counts.ConsecutiveFailures,
		},
	})
}
