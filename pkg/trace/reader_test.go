package trace

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ratecache/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

func writeTraceFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "requests.tsv")
	err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644)
	require.NoError(t, err)
	return path
}

func traceLine(ts string, ids string) string {
	return "rating-api-01\tiso_eventtime=" + ts + "\ttext=Requesting rating for places: [" + ids + "]\tstatus=ok"
}

// 测试正常日志的解析与按时间排序
func TestLogReader_ReadAll(t *testing.T) {
	path := writeTraceFile(t,
		traceLine("2025-03-01 10:00:02", "301,302"),
		traceLine("2025-03-01 10:00:00", "101, 102, 103"),
		traceLine("2025-03-01 10:00:01", "201"),
	)

	reader := NewLogReader(ReaderConfig{Path: path})
	records, err := reader.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 3)

	// 记录按时间升序返回，而不是文件顺序
	assert.Equal(t, []cache.Key{101, 102, 103}, records[0].Keys)
	assert.Equal(t, []cache.Key{201}, records[1].Keys)
	assert.Equal(t, []cache.Key{301, 302}, records[2].Keys)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), records[0].Time)

	stats := reader.Stats()
	assert.Equal(t, int64(3), stats.LinesRead)
	assert.Equal(t, int64(3), stats.Records)
	assert.Equal(t, int64(0), stats.LinesSkipped)
}

// 测试各类格式异常的行被跳过而不中断读取
func TestLogReader_SkipsMalformedLines(t *testing.T) {
	path := writeTraceFile(t,
		"only\ttwo",
		"a\tno_eventtime=2025-03-01 10:00:00\ttext=Requesting rating for places: [1]\tz",
		"a\tiso_eventtime=not-a-time\ttext=Requesting rating for places: [1]\tz",
		"a\tiso_eventtime=2025-03-01 10:00:00\ttext=Some other message\tz",
		traceLine("2025-03-01 10:00:00", "1,abc,3"),
		traceLine("2025-03-01 10:00:00", " , "),
		traceLine("2025-03-01 10:00:01", "42"),
	)

	reader := NewLogReader(ReaderConfig{Path: path})
	records, err := reader.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []cache.Key{42}, records[0].Keys)

	stats := reader.Stats()
	assert.Equal(t, int64(7), stats.LinesRead)
	assert.Equal(t, int64(1), stats.Records)
	assert.Equal(t, int64(6), stats.LinesSkipped)
}

// 测试MaxRecords截断
func TestLogReader_MaxRecords(t *testing.T) {
	path := writeTraceFile(t,
		traceLine("2025-03-01 10:00:00", "1"),
		traceLine("2025-03-01 10:00:01", "2"),
		traceLine("2025-03-01 10:00:02", "3"),
	)

	reader := NewLogReader(ReaderConfig{Path: path, MaxRecords: 2})
	records, err := reader.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

// 测试文件不存在时返回错误
func TestLogReader_MissingFile(t *testing.T) {
	reader := NewLogReader(ReaderConfig{Path: filepath.Join(t.TempDir(), "absent.tsv")})
	records, err := reader.ReadAll(context.Background())
	assert.Error(t, err)
	assert.Nil(t, records)
}

// 测试GBK编码日志先解码再解析
func TestLogReader_GBK(t *testing.T) {
	line := "评分服务\tiso_eventtime=2025-03-01 10:00:00\ttext=Requesting rating for places: [7,8]\t备注=正常"
	encoded, _, err := transform.String(simplifiedchinese.GBK.NewEncoder(), line+"\n")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "requests_gbk.tsv")
	require.NoError(t, os.WriteFile(path, []byte(encoded), 0644))

	reader := NewLogReader(ReaderConfig{Path: path, GBK: true})
	records, err := reader.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []cache.Key{7, 8}, records[0].Keys)
}

// 测试自定义前缀
func TestLogReader_CustomPrefix(t *testing.T) {
	path := writeTraceFile(t,
		"a\tiso_eventtime=2025-03-01 10:00:00\ttext=places=[5,6]\tz",
	)

	reader := NewLogReader(ReaderConfig{Path: path, KeysPrefix: "text=places=["})
	records, err := reader.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []cache.Key{5, 6}, records[0].Keys)
}

// 测试地点ID列表解析的细节行为
func TestParsePlaceIDs(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []cache.Key
	}{
		{"常规列表", "1,2,3", []cache.Key{1, 2, 3}},
		{"带空格", " 1 , 2 ", []cache.Key{1, 2}},
		{"跳过空片段", "1,,2", []cache.Key{1, 2}},
		{"单个ID", "99", []cache.Key{99}},
		{"非法ID整行作废", "1,x,3", nil},
		{"全空", " , ", []cache.Key{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := parsePlaceIDs(tc.in)
			if tc.want == nil {
				assert.Nil(t, got)
			} else {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}
