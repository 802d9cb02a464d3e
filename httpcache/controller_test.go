package httpcache

import (
	"net/http"
	"testing"
	"time"

	"github.com/learnwise/cachecore/logger"
	"github.com/learnwise/cachecore/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController() *resilience.Controller {
	return resilience.NewController(
		resilience.WithLogger(logger.NewTestLogger()),
		resilience.WithStrategies(
			resilience.Strategy{Name: resilience.StrategyCacheRead, ErrorThreshold: 0.5, Timeout: time.Second, RetryAttempts: 1},
			resilience.Strategy{Name: resilience.StrategyCacheWrite, ErrorThreshold: 0.5, Timeout: time.Second, RetryAttempts: 1}))
}

func TestControllerServesHits(t *testing.T) {
	_, store := newTestStore(t)
	c := newTestController()
	downstream := &counter{body: "catalog"}
	h := Middleware(store, WithTTL(time.Minute), WithTags("courses"), WithController(c))(downstream)

	assert.Equal(t, StatusMiss, do(h, http.MethodGet, "/courses").Header().Get(HeaderCache))
	rec := do(h, http.MethodGet, "/courses")
	assert.Equal(t, StatusHit, rec.Header().Get(HeaderCache))
	assert.Equal(t, "catalog", rec.Body.String())
	assert.Equal(t, int32(1), downstream.calls.Load())
	assert.Empty(t, c.CircuitBreakers())

	assert.Equal(t, 1, store.InvalidateTag(t.Context(), "courses"))
}

func TestControllerOpensCircuitsOnStoreFailures(t *testing.T) {
	mr, store := newTestStore(t)
	c := newTestController()
	downstream := &counter{body: "catalog"}
	h := Middleware(store, WithController(c))(downstream)

	do(h, http.MethodGet, "/courses")
	require.Equal(t, StatusHit, do(h, http.MethodGet, "/courses").Header().Get(HeaderCache))

	mr.SetError("ERR boom")
	for range resilience.DefaultFailureThreshold {
		rec := do(h, http.MethodGet, "/courses")
		assert.Equal(t, StatusMiss, rec.Header().Get(HeaderCache))
		assert.Equal(t, "catalog", rec.Body.String())
	}
	assert.True(t, c.IsCircuitBreakerOpen(resilience.StrategyCacheRead))
	assert.True(t, c.IsCircuitBreakerOpen(resilience.StrategyCacheWrite))
	assert.Contains(t, c.CircuitBreakers(), resilience.StrategyCacheRead)
	assert.Contains(t, c.CircuitBreakers(), resilience.StrategyCacheWrite)

	// open circuits keep the store out of the request path even once it recovers
	mr.SetError("")
	calls := downstream.calls.Load()
	assert.Equal(t, StatusMiss, do(h, http.MethodGet, "/courses").Header().Get(HeaderCache))
	assert.Equal(t, calls+1, downstream.calls.Load())

	c.ResetAll()
	assert.Equal(t, StatusHit, do(h, http.MethodGet, "/courses").Header().Get(HeaderCache))
}
