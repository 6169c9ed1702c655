package idem

import (
	chatmodel "IMStore/module/msg/model"
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache 已提交映射的读穿缓存；只存 COMMITTED 记录，miss 回源 DB。
type Cache interface {
	Get(ctx context.Context, clientMsgID string) (*chatmodel.IdempotencyRecord, error)
	Set(ctx context.Context, rec *chatmodel.IdempotencyRecord, ttl time.Duration) error
}

type redisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) Cache {
	return &redisCache{rdb: rdb}
}

func cacheKey(clientMsgID string) string { return "im:idem:" + clientMsgID }

func (c *redisCache) Get(ctx context.Context, clientMsgID string) (*chatmodel.IdempotencyRecord, error) {
	raw, err := c.rdb.Get(ctx, cacheKey(clientMsgID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		// 缓存故障降级直读 DB，不挡写路径
		return nil, nil
	}
	var rec chatmodel.IdempotencyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, nil
	}
	return &rec, nil
}

func (c *redisCache) Set(ctx context.Context, rec *chatmodel.IdempotencyRecord, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, cacheKey(rec.ClientMsgID), raw, ttl).Err()
}
