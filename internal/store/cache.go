package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/riskgate/riskgate/internal/common/database"
	applogger "github.com/riskgate/riskgate/internal/common/logger"
	"github.com/riskgate/riskgate/internal/metrics"
	"github.com/riskgate/riskgate/internal/risk"
)

// CachedProfileRepository layers a Redis read-through cache over a
// risk.BehaviorProfileRepository. Saves write through to the inner store
// first; the cache entry is refreshed only after the write succeeds, so a
// stale-version conflict never poisons the cache.
type CachedProfileRepository struct {
	inner  risk.BehaviorProfileRepository
	redis  *database.RedisClient
	ttl    time.Duration
	logger *zap.Logger
	perf   *applogger.PerformanceLogger
}

// NewCachedProfileRepository wraps a profile repository with Redis caching
func NewCachedProfileRepository(inner risk.BehaviorProfileRepository, redis *database.RedisClient, ttl time.Duration, logger *zap.Logger) *CachedProfileRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl == 0 {
		ttl = 10 * time.Minute
	}
	return &CachedProfileRepository{
		inner:  inner,
		redis:  redis,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "profile_cache")),
		perf:   applogger.NewPerformanceLogger(logger.With(zap.String("component", "profile_cache"))),
	}
}

func profileCacheKey(userID string) string {
	return fmt.Sprintf("profile:%s", userID)
}

func (c *CachedProfileRepository) Get(ctx context.Context, userID string) (*risk.BehaviorProfile, error) {
	key := profileCacheKey(userID)

	start := time.Now()
	cached, err := c.redis.Client.Get(ctx, key).Result()
	if err == nil {
		var profile risk.BehaviorProfile
		if json.Unmarshal([]byte(cached), &profile) == nil {
			metrics.RecordCacheOperation("riskd", "get", "hit")
			c.perf.LogCacheOperation("get", key, true, time.Since(start))
			return &profile, nil
		}
	}
	metrics.RecordCacheOperation("riskd", "get", "miss")
	c.perf.LogCacheOperation("get", key, false, time.Since(start))

	profile, err := c.inner.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.set(ctx, profile)
	return profile, nil
}

func (c *CachedProfileRepository) Save(ctx context.Context, profile *risk.BehaviorProfile) error {
	if err := c.inner.Save(ctx, profile); err != nil {
		// A stale write must also drop any cached copy so the next read
		// reloads the authoritative version
		if derr := c.redis.Client.Del(ctx, profileCacheKey(profile.UserID)).Err(); derr != nil {
			c.logger.Debug("Cache invalidation failed", zap.String("user_id", profile.UserID), zap.Error(derr))
		}
		return err
	}

	c.set(ctx, profile)
	return nil
}

func (c *CachedProfileRepository) set(ctx context.Context, profile *risk.BehaviorProfile) {
	data, err := json.Marshal(profile)
	if err != nil {
		return
	}
	start := time.Now()
	if err := c.redis.Client.Set(ctx, profileCacheKey(profile.UserID), data, c.ttl).Err(); err != nil {
		metrics.RecordCacheOperation("riskd", "set", "error")
		c.logger.Debug("Cache set failed", zap.String("user_id", profile.UserID), zap.Error(err))
		return
	}
	metrics.RecordCacheOperation("riskd", "set", "hit")
	c.perf.LogCacheOperation("set", profileCacheKey(profile.UserID), true, time.Since(start))
}
