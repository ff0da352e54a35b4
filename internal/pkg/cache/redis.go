// internal/pkg/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"storepulse/internal/pkg/config"
)

// NewRedisClient returns a single-node or cluster client depending on how many addresses are configured.
func NewRedisClient(cfg config.RedisConfig) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Addrs,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     50,
		MinIdleConns: 5,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})
}

// RedisCache stores JSON encoded values under "<prefix>:<key>".
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (rc *RedisCache) fullKey(key string) string {
	if rc.prefix == "" {
		return key
	}
	return rc.prefix + ":" + key
}

// Get decodes the cached value into target. found is false on a miss.
func (rc *RedisCache) Get(ctx context.Context, key string, target any) (bool, error) {
	data, err := rc.getRaw(ctx, key)
	if err != nil || data == nil {
		cacheRequests.WithLabelValues("redis", resultFor(data != nil, err)).Inc()
		return false, err
	}
	if err := json.Unmarshal(data, target); err != nil {
		cacheRequests.WithLabelValues("redis", "error").Inc()
		return false, errors.Wrapf(err, "unmarshal cached value %s", key)
	}
	cacheRequests.WithLabelValues("redis", "hit").Inc()
	return true, nil
}

func (rc *RedisCache) getRaw(ctx context.Context, key string) ([]byte, error) {
	data, err := rc.client.Get(ctx, rc.fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "redis get %s", key)
	}
	return data, nil
}

// Set stores value for ttl. A zero ttl keeps the key until it is deleted.
func (rc *RedisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "marshal value for %s", key)
	}
	return rc.setRaw(ctx, key, data, ttl)
}

func (rc *RedisCache) setRaw(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := rc.client.Set(ctx, rc.fullKey(key), data, ttl).Err(); err != nil {
		return errors.Wrapf(err, "redis set %s", key)
	}
	return nil
}

func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	if err := rc.client.Del(ctx, rc.fullKey(key)).Err(); err != nil {
		return errors.Wrapf(err, "redis del %s", key)
	}
	return nil
}

var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

// DeletePrefix removes every key starting with prefix. It uses SCAN so large keyspaces do not block redis.
// The prefix is matched literally.
func (rc *RedisCache) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	iter := rc.client.Scan(ctx, 0, globEscaper.Replace(rc.fullKey(prefix))+"*", 200).Iterator()
	deleted := 0
	for iter.Next(ctx) {
		if err := rc.client.Del(ctx, iter.Val()).Err(); err != nil {
			return deleted, errors.Wrapf(err, "redis del %s", iter.Val())
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, errors.Wrap(err, "redis scan")
	}
	return deleted, nil
}

func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

func resultFor(found bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case found:
		return "hit"
	default:
		return "miss"
	}
}
