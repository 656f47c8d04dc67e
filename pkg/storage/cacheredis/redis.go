// Package cacheredis is the networked Cache implementation, backed by
// Redis. Key namespacing and the go-redis/v9 client follow the same
// conventions as jobxredis.
package cacheredis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aimemory/platform/pkg/storage"
)

// Cache implements storage.Cache over a single Redis database. Keys are
// namespaced under "cache:" so the database can be shared with jobx's
// "jobx:" keyspace without collision.
type Cache struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func Connect(addr, password string, db int) *Cache {
	return &Cache{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

var _ storage.Cache = (*Cache)(nil)

func namespacedKey(key string) string { return fmt.Sprintf("cache:%s", key) }

func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.rdb.Get(ctx, namespacedKey(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, storage.ErrUnavailable().WithDetail("key", key).WithDetail("cause", err.Error())
	}
	return data, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, namespacedKey(key), value, ttl).Err(); err != nil {
		return storage.ErrUnavailable().WithDetail("key", key).WithDetail("cause", err.Error())
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, namespacedKey(key)).Err(); err != nil {
		return storage.ErrUnavailable().WithDetail("key", key).WithDetail("cause", err.Error())
	}
	return nil
}

// Incr atomically increments a counter key and (re)sets its TTL on every
// call, giving the apikey subsystem a rolling usage window per day.
func (c *Cache) Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	k := namespacedKey(key)
	pipe := c.rdb.Pipeline()
	incr := pipe.IncrBy(ctx, k, delta)
	if ttl > 0 {
		pipe.Expire(ctx, k, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, storage.ErrUnavailable().WithDetail("key", key).WithDetail("cause", err.Error())
	}
	return incr.Val(), nil
}

func (c *Cache) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return storage.ErrUnavailable().WithDetail("cause", err.Error())
	}
	return nil
}
