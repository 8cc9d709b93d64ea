package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/viper"

	"ratecache/pkg/cache"
	"ratecache/pkg/config"
	"ratecache/pkg/logger"
	"ratecache/pkg/replay"
	"ratecache/pkg/trace"
)

var (
	configPath = flag.String("config", "", "配置文件路径 (例如 config/replay.yaml)")
	tracePath  = flag.String("trace", "", "请求日志文件路径")
	maxRecords = flag.Int("max-records", 0, "最多回放的记录数，0表示全部")
	gbk        = flag.Bool("gbk", false, "请求日志为GBK编码")
	noWarm     = flag.Bool("no-warm", false, "关闭首见键预热")
	jsonOut    = flag.String("out", "", "JSON结果输出文件路径，为空则不输出")
	logLevel   = flag.String("log-level", "", "日志级别 (debug, info, warn, error)，默认使用配置值")
	logFormat  = flag.String("log-format", "", "日志格式 (json 或 text)，默认使用配置值")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		logger.InitFromEnv()
		logger.GetLogger().Errorf("加载配置失败: %v", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logger)
	log := logger.WithComponent("replay")

	if cfg.Trace.Path == "" {
		log.Error("必须通过 --trace 或配置文件指定请求日志路径")
		os.Exit(1)
	}

	// 收到中断信号时取消回放
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Warn("收到停止信号，中断回放...")
		cancel()
	}()

	// 读取请求日志
	log.WithField("path", cfg.Trace.Path).Info("读取请求日志")
	reader := trace.NewLogReader(cfg.Trace)
	records, err := reader.ReadAll(ctx)
	if err != nil {
		log.Errorf("读取请求日志失败: %v", err)
		os.Exit(1)
	}
	if len(records) == 0 {
		log.Error("请求日志中没有可回放的记录")
		os.Exit(1)
	}

	// 用相同的容量和TTL构建两种候选缓存
	plain, err := cache.NewLRUCache(cfg.Cache.BaseConfig())
	if err != nil {
		log.Errorf("创建基础LRU缓存失败: %v", err)
		os.Exit(1)
	}
	batch, err := cache.NewBatchRefreshCache(cfg.Cache.BatchConfig())
	if err != nil {
		log.Errorf("创建批量刷新缓存失败: %v", err)
		os.Exit(1)
	}

	candidates := []replay.Candidate{
		{Name: "plain-lru", Cache: plain},
		{Name: "batch-refresh", Cache: batch},
	}

	runner := replay.NewRunner(cfg.Replay)
	results, err := runner.Run(ctx, records, candidates)
	if err != nil {
		log.Errorf("回放失败: %v", err)
		os.Exit(1)
	}

	// 对比报告写到标准输出，日志走标准错误，互不干扰
	if err := replay.WriteComparison(os.Stdout, results); err != nil {
		log.Errorf("输出对比报告失败: %v", err)
		os.Exit(1)
	}

	if *jsonOut != "" {
		if err := writeJSONFile(*jsonOut, results); err != nil {
			log.Errorf("写入JSON结果失败: %v", err)
			os.Exit(1)
		}
		log.Infof("JSON结果已写入 %s", *jsonOut)
	}
}

func loadConfig() (*config.Config, error) {
	if *configPath != "" {
		viper.SetConfigFile(*configPath)
	} else {
		viper.SetConfigName("replay")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	}

	// Set defaults
	viper.SetDefault("trace.path", "")
	viper.SetDefault("trace.max_records", 0)
	viper.SetDefault("trace.keys_prefix", "")
	viper.SetDefault("trace.gbk", false)
	viper.SetDefault("cache.max_size", 300000)
	viper.SetDefault("cache.ttl", "6h")
	viper.SetDefault("cache.half_ttl_fraction", 0.5)
	viper.SetDefault("cache.batch_threshold", 100)
	viper.SetDefault("cache.batch_refresh", true)
	viper.SetDefault("replay.progress_every", 50000)
	viper.SetDefault("replay.warm_first_seen", true)
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "text")
	viper.SetDefault("logger.output", "stderr")

	// Environment variable overrides
	viper.SetEnvPrefix("REPLAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Command-line flag overrides (when provided)
	if *tracePath != "" {
		viper.Set("trace.path", *tracePath)
	}
	if *maxRecords > 0 {
		viper.Set("trace.max_records", *maxRecords)
	}
	if *gbk {
		viper.Set("trace.gbk", true)
	}
	if *noWarm {
		viper.Set("replay.warm_first_seen", false)
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

func writeJSONFile(path string, results []replay.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer f.Close()

	return replay.WriteJSON(f, results)
}
