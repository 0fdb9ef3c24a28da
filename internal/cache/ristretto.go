package cache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
)

// RistrettoCache adapts a ristretto cache to the Cache interface.
//
// Ristretto applies writes asynchronously; callers that need immediate
// read-after-write visibility should call Wait.
type RistrettoCache struct {
	cache *ristretto.Cache
}

func NewRistrettoCache(numCounters, maxCost, bufferItems int64) (*RistrettoCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: bufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("create ristretto cache: %w", err)
	}
	return &RistrettoCache{cache: c}, nil
}

func (r *RistrettoCache) Get(key string) (any, bool) {
	return r.cache.Get(key)
}

func (r *RistrettoCache) Set(key string, value any, cost int64, ttl time.Duration) bool {
	return r.cache.SetWithTTL(key, value, cost, ttl)
}

func (r *RistrettoCache) Del(key string) {
	r.cache.Del(key)
}

// Wait flushes pending sets so subsequent Gets observe them.
func (r *RistrettoCache) Wait() { r.cache.Wait() }
