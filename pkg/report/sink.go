package report

import (
	"context"

	"github.com/sirupsen/logrus"

	"ratecache/pkg/cache"
	"ratecache/pkg/logger"
)

// Sink 缓存统计快照的上报端
type Sink interface {
	// Report 上报一个命名缓存的统计快照
	Report(ctx context.Context, name string, stats cache.Stats) error

	// Close 关闭上报端并释放资源
	Close() error
}

// LogSink 将统计快照写入结构化日志
type LogSink struct {
	log *logger.Entry
}

var _ Sink = (*LogSink)(nil)

// NewLogSink 创建日志上报端
func NewLogSink() *LogSink {
	return &LogSink{
		log: logger.WithComponent("report-log-sink"),
	}
}

// Report 以结构化字段输出统计快照
func (s *LogSink) Report(ctx context.Context, name string, stats cache.Stats) error {
	s.log.WithFields(logrus.Fields{
		"cache":              name,
		"hits":               stats.Hits,
		"misses":             stats.Misses,
		"bulk_misses":        stats.BulkMisses,
		"evictions":          stats.Evictions,
		"expirations":        stats.Expirations,
		"batch_refreshes":    stats.BatchRefreshes,
		"pending_queue_size": stats.PendingQueueSize,
		"current_size":       stats.CurrentSize,
		"max_size":           stats.MaxSize,
		"hit_rate":           stats.HitRate,
	}).Info("缓存统计快照")
	return nil
}

// Close 日志上报端没有需要释放的资源
func (s *LogSink) Close() error {
	return nil
}
