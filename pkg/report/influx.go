package report

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"ratecache/pkg/cache"
	"ratecache/pkg/logger"
)

// InfluxConfig InfluxDB连接配置
type InfluxConfig struct {
	URL    string `json:"url" mapstructure:"url"`       // InfluxDB地址
	Token  string `json:"token" mapstructure:"token"`   // 访问令牌
	Org    string `json:"org" mapstructure:"org"`       // 组织
	Bucket string `json:"bucket" mapstructure:"bucket"` // 存储桶
}

// DefaultInfluxConfig 默认InfluxDB配置
func DefaultInfluxConfig() InfluxConfig {
	return InfluxConfig{
		URL:    "http://localhost:8086",
		Token:  "",
		Org:    "ratecache",
		Bucket: "cache_stats",
	}
}

// InfluxSink 将统计快照写入InfluxDB，每个快照一个数据点，
// measurement 为 cache_stats，缓存名作为 tag。
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      *logger.Entry
}

var _ Sink = (*InfluxSink)(nil)

// NewInfluxSink 创建InfluxDB上报端并验证连接
func NewInfluxSink(cfg InfluxConfig) (*InfluxSink, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}
	if health.Status != "pass" {
		client.Close()
		return nil, fmt.Errorf("InfluxDB health check failed: %s", health.Status)
	}

	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.WithComponent("report-influx-sink"),
	}, nil
}

// Report 写入一个统计数据点
func (s *InfluxSink) Report(ctx context.Context, name string, stats cache.Stats) error {
	point := influxdb2.NewPointWithMeasurement("cache_stats").
		AddTag("cache", name).
		AddField("hits", stats.Hits).
		AddField("misses", stats.Misses).
		AddField("bulk_misses", stats.BulkMisses).
		AddField("evictions", stats.Evictions).
		AddField("expirations", stats.Expirations).
		AddField("batch_refreshes", stats.BatchRefreshes).
		AddField("pending_queue_size", stats.PendingQueueSize).
		AddField("current_size", stats.CurrentSize).
		AddField("max_size", stats.MaxSize).
		AddField("hit_rate", stats.HitRate).
		SetTime(time.Now())

	if err := s.writeAPI.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("failed to write stats point: %w", err)
	}

	s.log.WithField("cache", name).Debug("统计数据点写入完成")
	return nil
}

// Close 关闭InfluxDB客户端
func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}
