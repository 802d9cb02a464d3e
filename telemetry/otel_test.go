package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/learnwise/cachecore/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestNewExportsSpans(t *testing.T) {
	var (
		hits  atomic.Int32
		path  atomic.Value
		token atomic.Value
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		path.Store(r.URL.Path)
		token.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	shutdown, err := New(context.Background(), server.URL, "secret", "cachecore-test", logger.NewTestLogger())
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "redis.get")
	span.End()
	shutdown()

	require.Positive(t, hits.Load())
	assert.Equal(t, "/v1/traces", path.Load())
	assert.Equal(t, "Bearer secret", token.Load())
}

func TestNewRejectsBadEndpoint(t *testing.T) {
	_, err := New(context.Background(), "localhost:4318", "", "cachecore-test", logger.NewTestLogger())
	assert.ErrorContains(t, err, "http(s)")
}
