package ratelimit

import (
	"github.com/dgraph-io/ristretto"

	"github.com/yufeireal/ratelimit/internal/metrics"
)

// localOverLimitCache is the process-local LRU of counter keys known to be
// over their limit within the current window (§4.3). A hit lets the cache
// core skip the backend entirely; entries past their own expiry are treated
// as absent even if ristretto hasn't evicted them yet (lazy expiry).
type localOverLimitCache struct {
	cache *ristretto.Cache
	hook  metrics.Hook
}

func newLocalOverLimitCache(capacity int64, hook metrics.Hook) (*localOverLimitCache, error) {
	if capacity <= 0 {
		capacity = 1000
	}

	c := &localOverLimitCache{hook: hook}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: capacity * 10,
		MaxCost:     capacity,
		BufferItems: 64,
		OnEvict: func(item *ristretto.Item) {
			c.hook.LocalCacheEvicted()
		},
	})
	if err != nil {
		return nil, err
	}
	c.cache = cache
	return c, nil
}

// overLimit reports whether key is recorded as over-limit for a window that
// has not yet expired as of nowEpoch.
func (c *localOverLimitCache) overLimit(key string, nowEpoch int64) bool {
	val, found := c.cache.Get(key)
	if !found {
		return false
	}
	expiry := val.(int64)
	if nowEpoch >= expiry {
		// Window already over; treat as absent rather than trusting
		// ristretto's own TTL to have reclaimed it yet.
		return false
	}
	c.hook.LocalCacheHit()
	return true
}

// markOverLimit records key as over-limit until expiryEpoch.
func (c *localOverLimitCache) markOverLimit(key string, expiryEpoch int64) {
	c.cache.SetWithTTL(key, expiryEpoch, 1, secondsUntil(expiryEpoch))
	c.cache.Wait()
}
