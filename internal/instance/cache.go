package instance

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// CachedRepository keeps recently used instances in process memory so every
// webhook delivery does not hit Postgres for the key lookup.
type CachedRepository struct {
	next  Repository
	cache *gocache.Cache
}

// NewCachedRepository wraps next with a TTL cache.
func NewCachedRepository(next Repository, ttl time.Duration) *CachedRepository {
	if next == nil {
		panic("instance: repository required")
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedRepository{
		next:  next,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// GetByKey returns a cached copy when present. Misses are not cached.
func (c *CachedRepository) GetByKey(ctx context.Context, key string) (*Instance, error) {
	if v, ok := c.cache.Get(key); ok {
		inst := v.(Instance)
		return &inst, nil
	}
	inst, err := c.next.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, *inst)
	return inst, nil
}

// UpdateStatus writes through and drops the cached entry.
func (c *CachedRepository) UpdateStatus(ctx context.Context, key string, status Status) error {
	err := c.next.UpdateStatus(ctx, key, status)
	c.cache.Delete(key)
	return err
}
