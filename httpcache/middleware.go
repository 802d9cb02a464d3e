// Package httpcache caches idempotent HTTP responses in the cache store and
// invalidates them when mutating requests succeed.
package httpcache

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/learnwise/cachecore/cache"
	"github.com/learnwise/cachecore/metrics"
	"github.com/learnwise/cachecore/resilience"
)

// Response headers.
const (
	HeaderCache    = "X-Cache"
	HeaderCacheTTL = "X-Cache-TTL"
)

// Values of HeaderCache.
const (
	StatusHit    = "HIT"
	StatusMiss   = "MISS"
	StatusBypass = "BYPASS"
)

// maxKeyBody bounds the request body that feeds the key digest. Requests
// with a longer body are not cached.
const maxKeyBody = 1 << 20

// Response is the stored form of a downstream response.
type Response struct {
	Status int         `json:"status" msgpack:"status"`
	Header http.Header `json:"header" msgpack:"header"`
	Body   []byte      `json:"body" msgpack:"body"`
	TTL    int64       `json:"ttl" msgpack:"ttl"`
}

func cacheable(r *http.Request) bool {
	return r.Method == http.MethodGet || r.Method == http.MethodHead
}

func success(status int) bool {
	return status >= 200 && status < 300
}

// readBody reads the body for the key digest and puts the bytes read back in
// front of r.Body. It reports false when the body could not be read in full
// or is longer than maxKeyBody.
func readBody(r *http.Request) ([]byte, bool) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, true
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxKeyBody+1))
	r.Body = readCloser{io.MultiReader(bytes.NewReader(body), r.Body), r.Body}
	if err != nil || len(body) > maxKeyBody {
		return nil, false
	}
	return body, true
}

type readCloser struct {
	io.Reader
	io.Closer
}

// lookup reads the stored response for key. With a controller a store
// failure counts against the cache-read circuit and is served as a miss.
func (o *options) lookup(ctx context.Context, store *cache.Store, key string) (Response, bool) {
	if o.controller == nil {
		return cache.GetValue[Response](ctx, store, key)
	}
	res := resilience.ExecuteWithFallback(ctx, o.controller,
		func(ctx context.Context) ([]byte, error) {
			data, _, err := store.Fetch(ctx, key)
			return data, err
		},
		func(context.Context) ([]byte, error) { return nil, nil },
		resilience.StrategyCacheRead)
	if res.Data == nil {
		return Response{}, false
	}
	var resp Response
	if err := store.Codec().Unmarshal(res.Data, &resp); err != nil {
		o.logger.Warn("decode %s: %v", key, err)
		return Response{}, false
	}
	return resp, true
}

// save stores resp under key and its tags.
func (o *options) save(ctx context.Context, store *cache.Store, key string, resp Response, tags []string) bool {
	if o.controller == nil {
		return cache.SetValue(ctx, store, key, resp, o.ttl, tags...)
	}
	if o.controller.ShouldUseFallback(resilience.StrategyCacheWrite) {
		return false
	}
	data, err := store.Codec().Marshal(resp)
	if err != nil {
		o.logger.Warn("encode %s: %v", key, err)
		return false
	}
	_, err = resilience.ExecuteCacheOperation(ctx, o.controller, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, store.Put(ctx, key, data, o.ttl)
	}, resilience.StrategyCacheWrite)
	if err != nil {
		return false
	}
	return store.Tag(ctx, key, o.ttl, tags...)
}

// Middleware serves GET and HEAD requests from the store and stores 2xx
// responses on a miss. When the store is not connected, or the request body
// cannot be keyed, requests go straight to next with X-Cache: BYPASS.
func Middleware(store *cache.Store, opts ...Option) func(http.Handler) http.Handler {
	o := newOptions(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cacheable(r) || !o.condition(r) {
				next.ServeHTTP(w, r)
				return
			}
			if !store.IsConnected() {
				o.collector.IncCounter(metrics.HTTPCacheBypass, 1)
				w.Header().Set(HeaderCache, StatusBypass)
				next.ServeHTTP(w, r)
				return
			}

			body, ok := readBody(r)
			if !ok {
				o.collector.IncCounter(metrics.HTTPCacheBypass, 1)
				w.Header().Set(HeaderCache, StatusBypass)
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			key := o.keyFunc(r, o.identity(r), body)

			if resp, ok := o.lookup(ctx, store, key); ok {
				o.collector.IncCounter(metrics.HTTPCacheHits, 1)
				header := w.Header()
				for k, v := range resp.Header {
					header[k] = v
				}
				header.Set(HeaderCache, StatusHit)
				header.Set(HeaderCacheTTL, strconv.FormatInt(resp.TTL, 10))
				w.WriteHeader(resp.Status)
				if r.Method != http.MethodHead {
					_, _ = w.Write(resp.Body)
				}
				return
			}

			o.collector.IncCounter(metrics.HTTPCacheMisses, 1)
			w.Header().Set(HeaderCache, StatusMiss)
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			var buf bytes.Buffer
			ww.Tee(&buf)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if !success(status) {
				return
			}
			header := w.Header().Clone()
			header.Del(HeaderCache)
			resp := Response{
				Status: status,
				Header: header,
				Body:   buf.Bytes(),
				TTL:    int64(o.ttl / time.Second),
			}
			if !o.save(ctx, store, key, resp, o.tagsFor(r)) {
				o.logger.Debug("response for %s %s not stored", r.Method, r.URL.Path)
			}
		})
	}
}

// Invalidation names what a successful mutating request makes stale.
type Invalidation struct {
	Patterns []string
	Tags     []string
}

// Invalidate deletes inv once a mutating request has returned 2xx.
func Invalidate(store *cache.Store, inv Invalidation, opts ...Option) func(http.Handler) http.Handler {
	return InvalidateFunc(store, func(*http.Request) Invalidation { return inv }, opts...)
}

// InvalidateFunc is Invalidate with a per-request invalidation, e.g. one
// naming the course id from the path.
func InvalidateFunc(store *cache.Store, fn func(*http.Request) Invalidation, opts ...Option) func(http.Handler) http.Handler {
	o := newOptions(opts)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cacheable(r) {
				next.ServeHTTP(w, r)
				return
			}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if !success(status) || !store.IsConnected() {
				return
			}
			inv := fn(r)
			var n int
			for _, p := range inv.Patterns {
				n += store.InvalidatePattern(r.Context(), p)
			}
			for _, t := range inv.Tags {
				n += store.InvalidateTag(r.Context(), t)
			}
			o.logger.Debug("%s %s invalidated %d keys", r.Method, r.URL.Path, n)
		})
	}
}
