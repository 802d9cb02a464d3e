package services

import (
	"context"
	"time"

	"github.com/learnwise/cachecore/cache"
)

// QueryCache caches arbitrary query results under cache:query:<name>:<digest>.
type QueryCache struct {
	store *cache.Store
}

func NewQueryCache(store *cache.Store) *QueryCache {
	return &QueryCache{store: store}
}

// QueryTag is carried by every result of the named query.
func QueryTag(name string) string { return cache.Key("query", name) }

// CacheQuery stores the result of name(params). A zero ttl uses the store
// default.
func (c *QueryCache) CacheQuery(ctx context.Context, name string, params any, result any, ttl time.Duration, tags ...string) bool {
	tags = append([]string{QueryTag(name)}, tags...)
	return c.store.Save(ctx, queryKey(name, params), result, ttlOr(ttl, c.store.DefaultTTL()), tags...)
}

func (c *QueryCache) GetCachedQuery(ctx context.Context, name string, params any, out any) bool {
	return c.store.Load(ctx, queryKey(name, params), out)
}

// InvalidateQuery drops every cached result of name.
func (c *QueryCache) InvalidateQuery(ctx context.Context, name string) int {
	n := c.store.InvalidateTag(ctx, QueryTag(name))
	return n + c.store.InvalidatePattern(ctx, cache.Key(cache.PrefixCache, "query", name, "*"))
}

func (c *QueryCache) InvalidateTag(ctx context.Context, tag string) int {
	return c.store.InvalidateTag(ctx, tag)
}

// Query is a cache-aside read of name(params) through fetch.
func Query[T any](ctx context.Context, c *QueryCache, name string, params any, ttl time.Duration, fetch cache.Invoker[T], tags ...string) (bool, T, error) {
	return cache.Exec(ctx, cache.CacheConfig{
		Key:  queryKey(name, params),
		TTL:  ttl,
		Tags: append([]string{QueryTag(name)}, tags...),
	}, c.store, fetch)
}
