package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
)

// LayeredCache fronts redis with a short-lived in-process tier.
// The local tier holds the encoded bytes, so both tiers decode identically.
type LayeredCache struct {
	local    *cache.Cache
	remote   *RedisCache
	localTTL time.Duration
}

// NewLayeredCache builds the two-tier cache. A non-positive localTTL disables the local tier.
func NewLayeredCache(remote *RedisCache, localTTL, cleanup time.Duration) *LayeredCache {
	lc := &LayeredCache{remote: remote, localTTL: localTTL}
	if localTTL > 0 {
		lc.local = cache.New(localTTL, cleanup)
	}
	return lc
}

func (lc *LayeredCache) Get(ctx context.Context, key string, target any) (bool, error) {
	if lc.local != nil {
		if v, ok := lc.local.Get(key); ok {
			if err := json.Unmarshal(v.([]byte), target); err == nil {
				cacheRequests.WithLabelValues("local", "hit").Inc()
				return true, nil
			}
			lc.local.Delete(key)
		}
		cacheRequests.WithLabelValues("local", "miss").Inc()
	}

	data, err := lc.remote.getRaw(ctx, key)
	cacheRequests.WithLabelValues("redis", resultFor(data != nil, err)).Inc()
	if err != nil || data == nil {
		return false, err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return false, errors.Wrapf(err, "unmarshal cached value %s", key)
	}
	lc.setLocal(key, data, lc.localTTL)
	return true, nil
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "marshal value for %s", key)
	}
	if err := lc.remote.setRaw(ctx, key, data, ttl); err != nil {
		return err
	}
	localTTL := lc.localTTL
	if ttl > 0 && ttl < localTTL {
		localTTL = ttl
	}
	lc.setLocal(key, data, localTTL)
	return nil
}

// Invalidate drops every key with the given prefix from both tiers.
func (lc *LayeredCache) Invalidate(ctx context.Context, prefix string) error {
	if lc.local != nil {
		for k := range lc.local.Items() {
			if strings.HasPrefix(k, prefix) {
				lc.local.Delete(k)
			}
		}
	}
	_, err := lc.remote.DeletePrefix(ctx, prefix)
	return err
}

func (lc *LayeredCache) Ping(ctx context.Context) error {
	return lc.remote.Ping(ctx)
}

func (lc *LayeredCache) setLocal(key string, data []byte, ttl time.Duration) {
	if lc.local == nil || ttl <= 0 {
		return
	}
	lc.local.Set(key, data, ttl)
}
