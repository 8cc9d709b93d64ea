package trace

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"ratecache/pkg/cache"
	"ratecache/pkg/logger"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// Record 一条评分请求的回放记录。
type Record struct {
	Keys []cache.Key `json:"keys"` // 请求的地点ID，保持行内原始顺序
	Time time.Time   `json:"time"` // 请求的逻辑时间
}

// Source 按时间升序产出请求记录的来源。
type Source interface {
	ReadAll(ctx context.Context) ([]Record, error)
}

const (
	// DefaultKeysPrefix 评分请求行中地点ID列表字段的默认前缀
	DefaultKeysPrefix = "text=Requesting rating for places: ["

	timePrefix   = "iso_eventtime="
	timeLayout   = "2006-01-02 15:04:05"
	progressStep = 10000
)

// ReaderConfig 请求日志读取配置。
type ReaderConfig struct {
	Path       string `json:"path" mapstructure:"path"`               // 日志文件路径
	MaxRecords int    `json:"max_records" mapstructure:"max_records"` // 最多解析的记录数，0表示不限制
	KeysPrefix string `json:"keys_prefix" mapstructure:"keys_prefix"` // 地点ID列表字段前缀，空则用默认值
	GBK        bool   `json:"gbk" mapstructure:"gbk"`                 // 日志为GBK编码时先转UTF-8
}

// ReaderStats 一次读取的行级统计。
type ReaderStats struct {
	LinesRead    int64 `json:"lines_read"`    // 扫描的总行数
	Records      int64 `json:"records"`       // 成功解析的记录数
	LinesSkipped int64 `json:"lines_skipped"` // 因格式不符被跳过的行数
}

// LogReader 从制表符分隔的请求日志中解析回放记录。
//
// 每行至少四个制表符分隔字段：第二个字段携带 iso_eventtime 时间戳，
// 第三个字段是地点ID列表。不满足格式的行跳过并计数，绝不中断整个
// 读取。返回的记录按时间戳稳定排序，同一时刻保持文件内顺序。
type LogReader struct {
	cfg   ReaderConfig
	log   *logrus.Entry
	stats ReaderStats
}

var _ Source = (*LogReader)(nil)

// NewLogReader 创建请求日志读取器。
func NewLogReader(cfg ReaderConfig) *LogReader {
	if cfg.KeysPrefix == "" {
		cfg.KeysPrefix = DefaultKeysPrefix
	}
	return &LogReader{
		cfg: cfg,
		log: logger.WithComponent("trace-reader"),
	}
}

// ReadAll 解析整个日志文件。
func (r *LogReader) ReadAll(ctx context.Context) ([]Record, error) {
	f, err := os.Open(r.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace log: %w", err)
	}
	defer f.Close()

	var reader io.Reader = f
	if r.cfg.GBK {
		reader = transform.NewReader(f, simplifiedchinese.GBK.NewDecoder())
	}

	scanner := bufio.NewScanner(reader)
	// 单行可能携带上千个地点ID，放大扫描缓冲
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	r.stats = ReaderStats{}
	var records []Record
	for scanner.Scan() {
		r.stats.LinesRead++
		if r.stats.LinesRead%progressStep == 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			r.log.Debugf("已扫描 %d 行，解析出 %d 条记录", r.stats.LinesRead, r.stats.Records)
		}

		rec, ok := r.parseLine(scanner.Text())
		if !ok {
			r.stats.LinesSkipped++
			continue
		}
		records = append(records, rec)
		r.stats.Records++
		if r.cfg.MaxRecords > 0 && len(records) >= r.cfg.MaxRecords {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan trace log: %w", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Time.Before(records[j].Time)
	})

	r.log.WithFields(logrus.Fields{
		"lines":   r.stats.LinesRead,
		"records": r.stats.Records,
		"skipped": r.stats.LinesSkipped,
	}).Info("请求日志读取完成")
	return records, nil
}

// Stats 返回最近一次 ReadAll 的行级统计。
func (r *LogReader) Stats() ReaderStats {
	return r.stats
}

// parseLine 解析单行，格式不符返回 false。
func (r *LogReader) parseLine(line string) (Record, bool) {
	parts := strings.Split(line, "\t")
	if len(parts) < 4 {
		return Record{}, false
	}
	if !strings.HasPrefix(parts[1], timePrefix) {
		return Record{}, false
	}
	ts, err := time.Parse(timeLayout, strings.TrimPrefix(parts[1], timePrefix))
	if err != nil {
		return Record{}, false
	}
	if !strings.HasPrefix(parts[2], r.cfg.KeysPrefix) {
		return Record{}, false
	}

	body := strings.TrimPrefix(parts[2], r.cfg.KeysPrefix)
	body = strings.TrimSuffix(body, "]")
	keys := parsePlaceIDs(body)
	if len(keys) == 0 {
		return Record{}, false
	}
	return Record{Keys: keys, Time: ts}, true
}

// parsePlaceIDs 解析逗号分隔的地点ID列表。
// 空白片段跳过；出现无法解析的ID时整行作废。
func parsePlaceIDs(s string) []cache.Key {
	fields := strings.Split(s, ",")
	keys := make([]cache.Key, 0, len(fields))
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil
		}
		keys = append(keys, id)
	}
	return keys
}
