// Package cache holds the Redis-backed organization view cache.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/WailSalutem-Health-Care/tenant-service/internal/organization"
)

// KeyPrefix namespaces every cache key written by RedisCache.
const KeyPrefix = "tenant:org:"

// RedisCache shares organization views between service instances. Redis
// failures are logged and reported as misses.
type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

var _ organization.ViewCache = (*RedisCache)(nil)

func NewRedisCache(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{client: client, ttl: ttl, logger: logger}
}

// NewClient builds a client for addr and checks that the server answers.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func key(id string) string {
	return KeyPrefix + id
}

func (c *RedisCache) Get(ctx context.Context, id string) (*organization.View, bool) {
	raw, err := c.client.Get(ctx, key(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Cache read failed", zap.String("organization_id", id), zap.Error(err))
		}
		return nil, false
	}
	var v organization.View
	if err := json.Unmarshal(raw, &v); err != nil {
		c.logger.Warn("Discarding malformed cache entry", zap.String("organization_id", id), zap.Error(err))
		c.Invalidate(ctx, id)
		return nil, false
	}
	return &v, true
}

func (c *RedisCache) Set(ctx context.Context, view *organization.View) {
	if view == nil {
		return
	}
	raw, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key(view.ID), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("Cache write failed", zap.String("organization_id", view.ID), zap.Error(err))
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, id string) {
	if err := c.client.Del(ctx, key(id)).Err(); err != nil {
		c.logger.Warn("Cache invalidation failed", zap.String("organization_id", id), zap.Error(err))
	}
}
