package httpcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/learnwise/cachecore/cache"
	"github.com/learnwise/cachecore/logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, *cache.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	s := cache.NewStore(client, cache.WithLogger(logger.NewTestLogger()), cache.WithConnectRetry(1, time.Millisecond))
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { s.Close() })
	return mr, s
}

type counter struct {
	calls  atomic.Int32
	status int
	body   string
}

func (c *counter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.calls.Add(1)
	w.Header().Set("Content-Type", "application/json")
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(c.body))
}

func do(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestMissThenHit(t *testing.T) {
	_, store := newTestStore(t)
	downstream := &counter{body: `{"courses":[1,2]}`}
	h := Middleware(store, WithTTL(30*time.Second))(downstream)

	first := do(h, http.MethodGet, "/courses?page=1")
	assert.Equal(t, StatusMiss, first.Header().Get(HeaderCache))
	assert.Equal(t, `{"courses":[1,2]}`, first.Body.String())

	second := do(h, http.MethodGet, "/courses?page=1")
	assert.Equal(t, StatusHit, second.Header().Get(HeaderCache))
	assert.Equal(t, "30", second.Header().Get(HeaderCacheTTL))
	assert.Equal(t, "application/json", second.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, `{"courses":[1,2]}`, second.Body.String())
	assert.Equal(t, int32(1), downstream.calls.Load())
}

func TestQueryOrderDoesNotMatter(t *testing.T) {
	_, store := newTestStore(t)
	downstream := &counter{body: "ok"}
	h := Middleware(store)(downstream)

	do(h, http.MethodGet, "/courses?a=1&b=2")
	rec := do(h, http.MethodGet, "/courses?b=2&a=1")
	assert.Equal(t, StatusHit, rec.Header().Get(HeaderCache))
	rec = do(h, http.MethodGet, "/courses?a=1&b=3")
	assert.Equal(t, StatusMiss, rec.Header().Get(HeaderCache))
	assert.Equal(t, int32(2), downstream.calls.Load())
}

func TestIdentitySeparatesEntries(t *testing.T) {
	_, store := newTestStore(t)
	downstream := &counter{body: "profile"}
	h := Middleware(store, WithIdentity(func(r *http.Request) string {
		return r.Header.Get("X-User")
	}))(downstream)

	req := func(user string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/me", nil)
		r.Header.Set("X-User", user)
		h.ServeHTTP(rec, r)
		return rec
	}
	assert.Equal(t, StatusMiss, req("alice").Header().Get(HeaderCache))
	assert.Equal(t, StatusMiss, req("bob").Header().Get(HeaderCache))
	assert.Equal(t, StatusHit, req("alice").Header().Get(HeaderCache))
}

func TestNonSuccessIsNotStored(t *testing.T) {
	_, store := newTestStore(t)
	downstream := &counter{status: http.StatusNotFound, body: "missing"}
	h := Middleware(store)(downstream)

	do(h, http.MethodGet, "/courses/9")
	rec := do(h, http.MethodGet, "/courses/9")
	assert.Equal(t, StatusMiss, rec.Header().Get(HeaderCache))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, int32(2), downstream.calls.Load())
}

func TestMutatingVerbsBypassLookup(t *testing.T) {
	_, store := newTestStore(t)
	downstream := &counter{body: "created"}
	h := Middleware(store)(downstream)

	do(h, http.MethodPost, "/courses")
	rec := do(h, http.MethodPost, "/courses")
	assert.Empty(t, rec.Header().Get(HeaderCache))
	assert.Equal(t, int32(2), downstream.calls.Load())
	assert.Empty(t, store.Keys(context.Background(), KeyPrefix+":*"))
}

func TestConditionSkipsCaching(t *testing.T) {
	_, store := newTestStore(t)
	downstream := &counter{body: "live"}
	h := Middleware(store, WithCondition(func(r *http.Request) bool {
		return r.URL.Query().Get("live") == ""
	}))(downstream)

	do(h, http.MethodGet, "/prices?live=1")
	rec := do(h, http.MethodGet, "/prices?live=1")
	assert.Empty(t, rec.Header().Get(HeaderCache))
	assert.Equal(t, int32(2), downstream.calls.Load())
}

func TestStoreDownBypasses(t *testing.T) {
	_, store := newTestStore(t)
	store.Close()

	downstream := &counter{body: "ok"}
	h := Middleware(store)(downstream)
	rec := do(h, http.MethodGet, "/courses")
	assert.Equal(t, StatusBypass, rec.Header().Get(HeaderCache))
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStoreErrorsNeverAlterResponse(t *testing.T) {
	mr, store := newTestStore(t)
	mr.SetError("ERR boom")

	downstream := &counter{body: "ok"}
	h := Middleware(store)(downstream)
	rec := do(h, http.MethodGet, "/courses")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestTagsAndInvalidate(t *testing.T) {
	mr, store := newTestStore(t)
	downstream := &counter{body: "course"}

	r := chi.NewRouter()
	r.With(Middleware(store, WithTags("courses"), WithTagFunc(func(r *http.Request) []string {
		return []string{"course:" + chi.URLParam(r, "id")}
	}))).Get("/courses/{id}", downstream.ServeHTTP)
	r.With(InvalidateFunc(store, func(r *http.Request) Invalidation {
		return Invalidation{Tags: []string{"course:" + chi.URLParam(r, "id")}}
	})).Put("/courses/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.With(Invalidate(store, Invalidation{Tags: []string{"courses"}})).Delete("/courses", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	do(r, http.MethodGet, "/courses/1")
	do(r, http.MethodGet, "/courses/2")
	assert.Equal(t, StatusHit, do(r, http.MethodGet, "/courses/1").Header().Get(HeaderCache))

	tagged := 0
	for _, k := range mr.Keys() {
		if strings.HasPrefix(k, cache.TagKey("course:1", "")) {
			tagged++
		}
	}
	assert.Equal(t, 1, tagged)

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodPut, "/courses/1").Code)
	assert.Equal(t, StatusMiss, do(r, http.MethodGet, "/courses/1").Header().Get(HeaderCache))
	assert.Equal(t, StatusHit, do(r, http.MethodGet, "/courses/2").Header().Get(HeaderCache))

	// failed mutations leave the cache alone
	do(r, http.MethodDelete, "/courses")
	assert.Equal(t, StatusHit, do(r, http.MethodGet, "/courses/2").Header().Get(HeaderCache))
}

func TestHeadHitHasNoBody(t *testing.T) {
	_, store := newTestStore(t)
	downstream := &counter{body: "payload"}
	h := Middleware(store)(downstream)

	do(h, http.MethodHead, "/courses")
	rec := do(h, http.MethodHead, "/courses")
	assert.Equal(t, StatusHit, rec.Header().Get(HeaderCache))
	assert.Empty(t, rec.Body.String())
}

func TestOversizedBodyBypasses(t *testing.T) {
	_, store := newTestStore(t)
	downstream := &counter{body: "results"}
	h := Middleware(store)(downstream)

	payload := strings.Repeat("q", maxKeyBody+1)
	for range 2 {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/search", strings.NewReader(payload)))
		assert.Equal(t, StatusBypass, rec.Header().Get(HeaderCache))
		assert.Equal(t, "results", rec.Body.String())
	}
	assert.Equal(t, int32(2), downstream.calls.Load())
}
