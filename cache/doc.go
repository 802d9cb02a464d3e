// Package cache is the Redis-backed store every caching component goes
// through.
//
// # Store
//
// [Store] wraps a single shared [redis.Client]. The data path (Get, Set, Del,
// Keys, ...) is best-effort: failures are logged, counted in [Metrics] and
// reported as a miss or a false return, never as an error, so business
// callers degrade to their source of truth instead of failing. Operator calls
// ([Store.SetConfig], [Store.MemoryInfo], [Store.Connect]) return errors.
//
// Every operation runs under a per-operation timeout ([DefaultQueryTimeout])
// and an OpenTelemetry span, and reports to a [metrics.Collector].
//
// # Keys and tags
//
// Keys follow <prefix>:<entityOrOperation>:<discriminator>[:<subpath>] with
// the prefixes listed in [Prefixes]. A tag is recorded as an index key
// cache:tag:<tag>:<key> with the same TTL as the entry, and
// [Store.InvalidateTag] removes every key recorded under a tag.
//
// # Values
//
// [SetValue], [GetValue] and [Exec] encode values with the store [Codec]
// (JSON by default, msgpack optionally). When compression is on, payloads
// above [CompressionThreshold] are zstd compressed behind a marker; readers
// detect the marker, so compressed and plain entries coexist.
//
//	found, c, err := cache.Exec(ctx, cache.CacheConfig{Key: "course:42:data"}, store,
//	    func(ctx context.Context) (Course, bool, error) {
//	        c, err := repo.Course(ctx, 42)
//	        if errors.Is(err, sql.ErrNoRows) {
//	            return Course{}, false, nil // not found, not cached
//	        }
//	        return c, true, err
//	    },
//	)
//
// # Memory
//
// [Memory] is an in-process TTL map used as the fallback tier while Redis is
// unavailable.
package cache
