package services

import (
	"context"
	"time"

	"github.com/learnwise/cachecore/cache"
	"github.com/learnwise/cachecore/resilience"
)

type lookup struct {
	data  []byte
	found bool
}

// Resilient reads through Redis with the in-process Memory tier as the
// fallback path and writes to both tiers, so reads keep working while Redis
// is down.
type Resilient struct {
	store      *cache.Store
	memory     *cache.Memory
	controller *resilience.Controller
}

func NewResilient(store *cache.Store, memory *cache.Memory, controller *resilience.Controller) *Resilient {
	return &Resilient{store: store, memory: memory, controller: controller}
}

// Get reads key under the named fallback strategy.
func (r *Resilient) Get(ctx context.Context, key string, strategy string) ([]byte, bool) {
	res := resilience.ExecuteWithFallback(ctx, r.controller,
		func(ctx context.Context) (lookup, error) {
			if !r.store.IsConnected() {
				return lookup{}, cache.ErrNotConnected
			}
			data, ok, err := r.store.Fetch(ctx, key)
			return lookup{data, ok}, err
		},
		func(ctx context.Context) (lookup, error) {
			data, ok := r.memory.Get(ctx, key)
			return lookup{data, ok}, nil
		},
		strategy)
	if !res.Success {
		return nil, false
	}
	if !res.Data.found && !res.FallbackUsed {
		return r.memory.Get(ctx, key)
	}
	return res.Data.data, res.Data.found
}

// Set writes to the memory tier and then to Redis under the strategy's retry
// budget. It reports whether Redis accepted the write.
func (r *Resilient) Set(ctx context.Context, key string, value []byte, ttl time.Duration, strategy string) bool {
	ttl = ttlOr(ttl, r.store.DefaultTTL())
	r.memory.Set(ctx, key, value, ttl)
	if r.controller.IsCircuitBreakerOpen(strategy) || !r.store.IsConnected() {
		return false
	}
	_, err := resilience.ExecuteCacheOperation(ctx, r.controller, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.store.Put(ctx, key, value, ttl)
	}, strategy)
	return err == nil
}

// Del removes key from both tiers.
func (r *Resilient) Del(ctx context.Context, keys ...string) bool {
	r.memory.Del(ctx, keys...)
	return r.store.Del(ctx, keys...)
}

// Load decodes key into out with the store codec.
func (r *Resilient) Load(ctx context.Context, key string, out any, strategy string) bool {
	data, ok := r.Get(ctx, key, strategy)
	if !ok {
		return false
	}
	return r.store.Codec().Unmarshal(data, out) == nil
}

// Save encodes v with the store codec and writes it to both tiers.
func (r *Resilient) Save(ctx context.Context, key string, v any, ttl time.Duration, strategy string) bool {
	data, err := r.store.Codec().Marshal(v)
	if err != nil {
		return false
	}
	return r.Set(ctx, key, data, ttl, strategy)
}
