package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	SetRunStatus(ctx context.Context, runID uuid.UUID, status string, ttl time.Duration) error
	GetRunStatus(ctx context.Context, runID uuid.UUID) (string, bool, error)
	AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, owner string) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// releaseScript deletes a lock only when it is still held by the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) SetRunStatus(ctx context.Context, runID uuid.UUID, status string, ttl time.Duration) error {
	return c.client.Set(ctx, RunStatusKey(runID), status, ttl).Err()
}

func (c *RedisCache) GetRunStatus(ctx context.Context, runID uuid.UUID) (string, bool, error) {
	val, err := c.client.Get(ctx, RunStatusKey(runID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// AcquireLock takes key for owner if nobody holds it. The lock lapses after
// ttl so a crashed holder cannot block the key forever.
func (c *RedisCache) AcquireLock(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, key, owner, ttl).Result()
}

// ReleaseLock frees key if owner still holds it.
func (c *RedisCache) ReleaseLock(ctx context.Context, key, owner string) error {
	return releaseScript.Run(ctx, c.client, []string{key}, owner).Err()
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
