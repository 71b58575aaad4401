package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/l0kol/IPledge/internal/domain"
)

// RedisValuationCache keeps the last good oracle reading per asset as JSON.
type RedisValuationCache struct {
	client *redis.Client
}

func NewRedisValuationCache(client *redis.Client) *RedisValuationCache {
	return &RedisValuationCache{client: client}
}

func valuationKey(assetID string) string { return "funding:valuation:" + assetID }

func (c *RedisValuationCache) Put(ctx context.Context, v domain.AssetValuation, ttl time.Duration) error {
	v.Stale = false
	v.Warning = ""
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, valuationKey(v.AssetID), b, ttl).Err()
}

func (c *RedisValuationCache) Get(ctx context.Context, assetID string) (*domain.AssetValuation, error) {
	raw, err := c.client.Get(ctx, valuationKey(assetID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var v domain.AssetValuation
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
