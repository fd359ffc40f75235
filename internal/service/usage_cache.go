package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-question-engine/internal/engine"
	"github.com/noah-isme/gema-question-engine/internal/observability"
)

// UsageCache keeps read-only snapshots of usages between requests.
type UsageCache interface {
	Get(ctx context.Context, usageID int64) (engine.Snapshot, bool)
	Put(ctx context.Context, usage *engine.Usage)
	Invalidate(ctx context.Context, usageID int64)
}

type redisUsageCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewUsageCache stores snapshots in redis. A nil client disables caching.
func NewUsageCache(client *redis.Client, ttl time.Duration, logger zerolog.Logger) UsageCache {
	return &redisUsageCache{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "usage_cache").Logger(),
	}
}

func usageCacheKey(usageID int64) string {
	return fmt.Sprintf("usage:snapshot:%d", usageID)
}

func (c *redisUsageCache) Get(ctx context.Context, usageID int64) (engine.Snapshot, bool) {
	if c.client == nil {
		return engine.Snapshot{}, false
	}

	cached, err := c.client.Get(ctx, usageCacheKey(usageID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn().Err(err).Int64("usage_id", usageID).Msg("failed to read usage cache")
		}
		observability.UsageCacheLookups().WithLabelValues("miss").Inc()
		return engine.Snapshot{}, false
	}

	snapshot, err := engine.UnmarshalSnapshot(cached)
	if err != nil {
		c.logger.Warn().Err(err).Int64("usage_id", usageID).Msg("discarding unreadable usage snapshot")
		c.Invalidate(ctx, usageID)
		observability.UsageCacheLookups().WithLabelValues("miss").Inc()
		return engine.Snapshot{}, false
	}

	c.logger.Debug().Int64("usage_id", usageID).Msg("usage cache hit")
	observability.UsageCacheLookups().WithLabelValues("hit").Inc()
	return snapshot, true
}

func (c *redisUsageCache) Put(ctx context.Context, usage *engine.Usage) {
	if c.client == nil || !usage.IsPersisted() {
		return
	}

	payload, err := engine.MarshalSnapshot(usage)
	if err != nil {
		c.logger.Warn().Err(err).Int64("usage_id", usage.PersistedID()).Msg("failed to encode usage snapshot")
		return
	}
	if err := c.client.Set(ctx, usageCacheKey(usage.PersistedID()), payload, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Int64("usage_id", usage.PersistedID()).Msg("failed to store usage cache")
	}
}

func (c *redisUsageCache) Invalidate(ctx context.Context, usageID int64) {
	if c.client == nil {
		return
	}
	if err := c.client.Del(ctx, usageCacheKey(usageID)).Err(); err != nil {
		c.logger.Warn().Err(err).Int64("usage_id", usageID).Msg("failed to invalidate usage cache")
	}
}
