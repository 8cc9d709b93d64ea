package replay

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// WriteComparison 把回放结果渲染成并排文本报告。
// 结果不少于两个时，额外输出前两个候选之间的差异小结。
func WriteComparison(w io.Writer, results []Result) error {
	if len(results) == 0 {
		return nil
	}

	fmt.Fprintf(w, "=== 缓存配置对比报告 (run %s) ===\n\n", results[0].RunID)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	writeRow(tw, "指标", results, func(res Result) string { return res.Name })
	writeRow(tw, "回放记录数", results, func(res Result) string { return fmt.Sprintf("%d", res.Records) })
	writeRow(tw, "回放键数", results, func(res Result) string { return fmt.Sprintf("%d", res.KeysReplayed) })
	writeRow(tw, "耗时", results, func(res Result) string { return res.Duration.Round(time.Millisecond).String() })
	writeRow(tw, "命中", results, func(res Result) string { return fmt.Sprintf("%d", res.Stats.Hits) })
	writeRow(tw, "未命中", results, func(res Result) string { return fmt.Sprintf("%d", res.Stats.Misses) })
	writeRow(tw, "命中率", results, func(res Result) string { return fmt.Sprintf("%.2f%%", res.Stats.HitRate*100) })
	writeRow(tw, "批量未命中请求", results, func(res Result) string { return fmt.Sprintf("%d", res.Stats.BulkMisses) })
	writeRow(tw, "容量淘汰", results, func(res Result) string { return fmt.Sprintf("%d", res.Stats.Evictions) })
	writeRow(tw, "过期重置", results, func(res Result) string { return fmt.Sprintf("%d", res.Stats.Expirations) })
	writeRow(tw, "批量刷新", results, func(res Result) string { return fmt.Sprintf("%d", res.Stats.BatchRefreshes) })
	writeRow(tw, "待刷新队列", results, func(res Result) string { return fmt.Sprintf("%d", res.Stats.PendingQueueSize) })
	writeRow(tw, "条目数/容量", results, func(res Result) string {
		return fmt.Sprintf("%d/%d", res.Stats.CurrentSize, res.Stats.MaxSize)
	})
	writeRow(tw, "TTL", results, func(res Result) string { return res.Stats.TTL.String() })
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(results) >= 2 {
		writeDelta(w, results[0], results[1])
	}
	return nil
}

func writeRow(tw *tabwriter.Writer, label string, results []Result, value func(Result) string) {
	fmt.Fprint(tw, label)
	for _, res := range results {
		fmt.Fprintf(tw, "\t%s", value(res))
	}
	fmt.Fprintln(tw)
}

// writeDelta 输出两个候选之间的关键差异。
func writeDelta(w io.Writer, base, other Result) {
	fmt.Fprintf(w, "\n--- 差异 (%s → %s) ---\n", base.Name, other.Name)
	fmt.Fprintf(w, "命中率: %.2f%% → %.2f%% (%+.2fpp)\n",
		base.Stats.HitRate*100, other.Stats.HitRate*100,
		(other.Stats.HitRate-base.Stats.HitRate)*100)

	saved := base.Stats.Expirations - other.Stats.Expirations
	fmt.Fprintf(w, "过期重置: %d → %d", base.Stats.Expirations, other.Stats.Expirations)
	if base.Stats.Expirations > 0 {
		fmt.Fprintf(w, " (减少 %.1f%%)", float64(saved)/float64(base.Stats.Expirations)*100)
	}
	fmt.Fprintln(w)

	if other.Stats.BatchRefreshes > 0 || base.Stats.BatchRefreshes > 0 {
		fmt.Fprintf(w, "批量刷新: %d → %d\n", base.Stats.BatchRefreshes, other.Stats.BatchRefreshes)
	}
}

// WriteJSON 输出结构化的回放结果。
func WriteJSON(w io.Writer, results []Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}
