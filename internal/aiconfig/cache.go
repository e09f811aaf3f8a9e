package aiconfig

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/wa-autoreply/pkg/logging"
)

const cacheKeyPrefix = "autoreply:aiconfig:"

// CachedResolver fronts a Resolver with Redis. Redis failures degrade to the
// underlying resolver; they never fail a resolve on their own.
type CachedResolver struct {
	next   Resolver
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewCachedResolver wraps next. A nil redis client disables caching.
func NewCachedResolver(next Resolver, client *redis.Client, ttl time.Duration, logger *logging.Logger) *CachedResolver {
	if next == nil {
		panic("aiconfig: resolver required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &CachedResolver{next: next, redis: client, ttl: ttl, logger: logger}
}

// Resolve implements Resolver.
func (c *CachedResolver) Resolve(ctx context.Context, instanceID uuid.UUID) (Config, error) {
	if c.redis == nil {
		return c.next.Resolve(ctx, instanceID)
	}
	key := cacheKeyPrefix + instanceID.String()

	raw, err := c.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cfg Config
		if jsonErr := json.Unmarshal(raw, &cfg); jsonErr == nil {
			return cfg, nil
		}
		c.logger.Warn("discarding undecodable cached ai config", "instance_id", instanceID)
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("ai config cache read failed", "error", err, "instance_id", instanceID)
	}

	cfg, err := c.next.Resolve(ctx, instanceID)
	if err != nil {
		return Config{}, err
	}
	if data, err := json.Marshal(cfg); err == nil {
		if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.logger.Warn("ai config cache write failed", "error", err, "instance_id", instanceID)
		}
	}
	return cfg, nil
}

// Invalidate drops the cached configuration for an instance.
func (c *CachedResolver) Invalidate(ctx context.Context, instanceID uuid.UUID) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, cacheKeyPrefix+instanceID.String()).Err()
}
