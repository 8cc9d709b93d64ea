package rating

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"ratecache/pkg/cache"
	"ratecache/pkg/logger"
)

// RedisConfig Redis后端配置
type RedisConfig struct {
	Addr        string        `json:"addr" mapstructure:"addr"`                 // Redis地址
	Password    string        `json:"password" mapstructure:"password"`         // 密码
	DB          int           `json:"db" mapstructure:"db"`                     // 数据库编号
	KeyPrefix   string        `json:"key_prefix" mapstructure:"key_prefix"`     // 评分键前缀
	DialTimeout time.Duration `json:"dial_timeout" mapstructure:"dial_timeout"` // 连接超时
}

// DefaultRedisConfig 默认Redis配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "localhost:6379",
		Password:    "",
		DB:          0,
		KeyPrefix:   "rating:",
		DialTimeout: 5 * time.Second,
	}
}

// RedisBackend 以Redis为存储的评分后端。
// 每个场所的评分以JSON存放在 <prefix><place_id> 键下，批量读取走 MGET。
type RedisBackend struct {
	client *redis.Client
	prefix string
	log    *logger.Entry
}

var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend 创建Redis后端并验证连接
func NewRedisBackend(cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rating:"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBackend{
		client: client,
		prefix: cfg.KeyPrefix,
		log:    logger.WithComponent("redis-backend"),
	}, nil
}

// FetchRatings 通过 MGET 批量读取评分。
// 键不存在或值无法解析的ID被跳过，不视为错误。
func (b *RedisBackend) FetchRatings(ctx context.Context, ids []cache.Key) ([]Rating, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = b.ratingKey(id)
	}

	values, err := b.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ratings from Redis: %w", err)
	}

	result := make([]Rating, 0, len(ids))
	for i, value := range values {
		if value == nil {
			continue // 后端无该场所数据
		}

		raw, ok := value.(string)
		if !ok {
			b.log.WithField("key", keys[i]).Warn("评分值类型异常，已跳过")
			continue
		}

		var r Rating
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			b.log.WithField("key", keys[i]).WithError(err).Warn("评分JSON解析失败，已跳过")
			continue
		}
		result = append(result, r)
	}

	b.log.WithField("requested", len(ids)).WithField("returned", len(result)).Debug("批量拉取评分完成")
	return result, nil
}

// SeedRatings 批量写入评分，ttl<=0 表示不过期
func (b *RedisBackend) SeedRatings(ctx context.Context, ratings []Rating, ttl time.Duration) error {
	if len(ratings) == 0 {
		return nil
	}

	pipe := b.client.Pipeline()
	for _, r := range ratings {
		payload, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal rating %d: %w", r.PlaceID, err)
		}
		if ttl > 0 {
			pipe.Set(ctx, b.ratingKey(r.PlaceID), payload, ttl)
		} else {
			pipe.Set(ctx, b.ratingKey(r.PlaceID), payload, 0)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute Redis pipeline: %w", err)
	}

	b.log.WithField("count", len(ratings)).Debug("评分数据写入完成")
	return nil
}

// Ping 检查Redis连接
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Name 返回后端名称
func (b *RedisBackend) Name() string {
	return "redis"
}

// Close 关闭Redis连接
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) ratingKey(id cache.Key) string {
	return fmt.Sprintf("%s%d", b.prefix, id)
}
