package aiconfig

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type countingResolver struct {
	calls atomic.Int32
	cfg   Config
	err   error
}

func (r *countingResolver) Resolve(_ context.Context, instanceID uuid.UUID) (Config, error) {
	r.calls.Add(1)
	if r.err != nil {
		return Config{}, r.err
	}
	cfg := r.cfg
	cfg.InstanceID = instanceID
	return cfg, nil
}

func TestCachedResolverHitsRedisAfterFirstRead(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	next := &countingResolver{cfg: Default(uuid.Nil)}
	next.cfg.ID = uuid.New()
	cached := NewCachedResolver(next, client, time.Minute, nil)
	instanceID := uuid.New()

	first, err := cached.Resolve(context.Background(), instanceID)
	require.NoError(t, err)
	second, err := cached.Resolve(context.Background(), instanceID)
	require.NoError(t, err)

	require.Equal(t, int32(1), next.calls.Load())
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, instanceID, second.InstanceID)
	require.True(t, mr.Exists(cacheKeyPrefix+instanceID.String()))

	mr.FastForward(2 * time.Minute)
	_, err = cached.Resolve(context.Background(), instanceID)
	require.NoError(t, err)
	require.Equal(t, int32(2), next.calls.Load())
}

func TestCachedResolverInvalidate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	next := &countingResolver{cfg: Default(uuid.Nil)}
	cached := NewCachedResolver(next, client, time.Minute, nil)
	instanceID := uuid.New()

	_, err := cached.Resolve(context.Background(), instanceID)
	require.NoError(t, err)
	require.NoError(t, cached.Invalidate(context.Background(), instanceID))
	_, err = cached.Resolve(context.Background(), instanceID)
	require.NoError(t, err)
	require.Equal(t, int32(2), next.calls.Load())
}

func TestCachedResolverDegradesWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	next := &countingResolver{cfg: Default(uuid.Nil)}
	cached := NewCachedResolver(next, client, time.Minute, nil)

	cfg, err := cached.Resolve(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Equal(t, DefaultModel, cfg.Model)
}

func TestCachedResolverPropagatesStoreErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	next := &countingResolver{err: ErrUnavailable}
	cached := NewCachedResolver(next, client, time.Minute, nil)

	_, err := cached.Resolve(context.Background(), uuid.New())
	require.True(t, errors.Is(err, ErrUnavailable))
}

func TestCachedResolverWithoutRedis(t *testing.T) {
	next := &countingResolver{cfg: Default(uuid.Nil)}
	cached := NewCachedResolver(next, nil, 0, nil)
	for i := 0; i < 2; i++ {
		_, err := cached.Resolve(context.Background(), uuid.New())
		require.NoError(t, err)
	}
	require.Equal(t, int32(2), next.calls.Load())
	require.NoError(t, cached.Invalidate(context.Background(), uuid.New()))
}
