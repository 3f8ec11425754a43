package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	xerrors "CreatorServices/internal/errors"
	"CreatorServices/internal/reputation"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "creatord:rating:"

// Config 描述 Redis 缓存的连接参数。
type Config struct {
	Address  string        `json:"address"`
	Password string        `json:"password"`
	DB       int           `json:"db"`
	Prefix   string        `json:"prefix"`
	TTL      time.Duration `json:"ttl"`
}

// AggregateCache 使用 Redis 实现 reputation.AggregateCache。
type AggregateCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewAggregateCache 连接 Redis 并校验可用性。
func NewAggregateCache(ctx context.Context, cfg Config) (*AggregateCache, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 Redis 失败")
	}
	return NewAggregateCacheWithClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewAggregateCacheWithClient 复用已有客户端。ttl 为 0 表示不过期。
func NewAggregateCacheWithClient(client *redis.Client, prefix string, ttl time.Duration) *AggregateCache {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &AggregateCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *AggregateCache) key(network string, provider common.Address) string {
	return c.prefix + reputation.CacheKey(network, provider)
}

// Get 实现 reputation.AggregateCache。
func (c *AggregateCache) Get(ctx context.Context, network string, provider common.Address) (reputation.Aggregate, bool, error) {
	raw, err := c.client.Get(ctx, c.key(network, provider)).Bytes()
	if errors.Is(err, redis.Nil) {
		return reputation.Aggregate{}, false, nil
	}
	if err != nil {
		return reputation.Aggregate{}, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取评分缓存失败")
	}
	var agg reputation.Aggregate
	if err := json.Unmarshal(raw, &agg); err != nil {
		// 无法解析的值视为未命中，下一次写入会覆盖它。
		return reputation.Aggregate{}, false, nil
	}
	return agg, true, nil
}

// Set 实现 reputation.AggregateCache。
func (c *AggregateCache) Set(ctx context.Context, network string, provider common.Address, agg reputation.Aggregate) error {
	payload, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("序列化评分汇总失败: %w", err)
	}
	if err := c.client.Set(ctx, c.key(network, provider), payload, c.ttl).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入评分缓存失败")
	}
	return nil
}

// Delete 实现 reputation.AggregateCache。
func (c *AggregateCache) Delete(ctx context.Context, network string, provider common.Address) error {
	if err := c.client.Del(ctx, c.key(network, provider)).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除评分缓存失败")
	}
	return nil
}

// Clear 删除前缀下的所有键。
func (c *AggregateCache) Clear(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "扫描评分缓存失败")
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清空评分缓存失败")
	}
	return nil
}

// Close 关闭底层连接。
func (c *AggregateCache) Close() error {
	return c.client.Close()
}

var _ reputation.AggregateCache = (*AggregateCache)(nil)
