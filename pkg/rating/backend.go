package rating

import (
	"context"
	"time"

	"ratecache/pkg/cache"
)

// Rating 单个场所的评分数据
type Rating struct {
	PlaceID   cache.Key `json:"place_id"`   // 场所ID
	Score     float64   `json:"score"`      // 评分 (0.0 ~ 5.0)
	Votes     int64     `json:"votes"`      // 投票数
	UpdatedAt time.Time `json:"updated_at"` // 评分更新时间
}

// Backend 评分数据源。
// FetchRatings 按给定ID批量拉取评分，后端没有数据的ID被跳过，
// 返回的切片长度可能小于请求的ID数。
type Backend interface {
	FetchRatings(ctx context.Context, ids []cache.Key) ([]Rating, error)

	// Name 返回后端名称
	Name() string

	// Close 关闭后端并释放连接
	Close() error
}
