package replay

import (
	"context"
	"time"

	"ratecache/pkg/cache"
	"ratecache/pkg/logger"
	"ratecache/pkg/trace"

	"github.com/google/uuid"
)

// Target 回放目标需要具备的缓存能力。
// 基础LRU缓存与批量刷新缓存都满足此接口。
type Target interface {
	Lookup(keys []cache.Key, at time.Time) []cache.Outcome
	Warm(keys []cache.Key, at time.Time)
	Stats() cache.Stats
	Clear()
}

// Candidate 参与对比的一个缓存候选。
type Candidate struct {
	Name  string // 报告中展示的名字
	Cache Target
}

// Result 单个候选的回放结果。
type Result struct {
	Name         string        `json:"name"`
	RunID        string        `json:"run_id"`
	Records      int64         `json:"records"`
	KeysReplayed int64         `json:"keys_replayed"`
	Duration     time.Duration `json:"duration"`
	Stats        cache.Stats   `json:"stats"`
}

// Config 回放配置。
type Config struct {
	// ProgressEvery 每回放多少条记录输出一次进度日志，0表示不输出
	ProgressEvery int `json:"progress_every" mapstructure:"progress_every"`
	// WarmFirstSeen 把整个回放中首次出现的键先预热进缓存再查询。
	// 回放的是一段生产流量的切片：切片开始前这些键大多已经在线上
	// 缓存里了，先预热能让命中率统计贴近连续运行的真实口径。
	WarmFirstSeen bool `json:"warm_first_seen" mapstructure:"warm_first_seen"`
}

// DefaultConfig 返回对比基准使用的默认回放配置。
func DefaultConfig() Config {
	return Config{
		ProgressEvery: 50000,
		WarmFirstSeen: true,
	}
}

// Runner 把一段请求记录依次回放到多个缓存候选上。
// 候选之间互不影响，各自维护自己的首见键集合。
type Runner struct {
	cfg Config
}

// NewRunner 创建回放执行器。
func NewRunner(cfg Config) *Runner {
	return &Runner{cfg: cfg}
}

// Run 对每个候选完整回放一遍记录，返回与候选顺序对齐的结果。
// 记录必须已按时间升序排列（trace.Source 的约定）。
func (r *Runner) Run(ctx context.Context, records []trace.Record, candidates []Candidate) ([]Result, error) {
	runID := uuid.New().String()
	log := logger.WithRun("replay-runner", runID)
	log.Infof("开始回放：%d 条记录，%d 个候选", len(records), len(candidates))

	results := make([]Result, 0, len(candidates))
	for _, cand := range candidates {
		res, err := r.replayOne(ctx, runID, records, cand)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (r *Runner) replayOne(ctx context.Context, runID string, records []trace.Record, cand Candidate) (Result, error) {
	log := logger.WithRun("replay-runner", runID).WithField("candidate", cand.Name)

	seen := make(map[cache.Key]struct{})
	firstSeen := make([]cache.Key, 0, 64)
	start := time.Now()
	var keysReplayed int64

	for i, rec := range records {
		if r.cfg.WarmFirstSeen {
			firstSeen = firstSeen[:0]
			for _, key := range rec.Keys {
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				firstSeen = append(firstSeen, key)
			}
			if len(firstSeen) > 0 {
				cand.Cache.Warm(firstSeen, rec.Time)
			}
		}

		cand.Cache.Lookup(rec.Keys, rec.Time)
		keysReplayed += int64(len(rec.Keys))

		if (i+1)%10000 == 0 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			default:
			}
		}
		if r.cfg.ProgressEvery > 0 && (i+1)%r.cfg.ProgressEvery == 0 {
			log.Debugf("已回放 %d/%d 条记录", i+1, len(records))
		}
	}

	res := Result{
		Name:         cand.Name,
		RunID:        runID,
		Records:      int64(len(records)),
		KeysReplayed: keysReplayed,
		Duration:     time.Since(start),
		Stats:        cand.Cache.Stats(),
	}
	log.WithField("duration", res.Duration.String()).Info("候选回放完成")
	return res, nil
}
