package services

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/learnwise/cachecore/cache"
	"github.com/learnwise/cachecore/logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*miniredis.Miniredis, *cache.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	s := cache.NewStore(client,
		cache.WithLogger(logger.NewTestLogger()),
		cache.WithConnectRetry(1, time.Millisecond),
		cache.WithQueryTimeout(200*time.Millisecond))
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { s.Close() })
	return mr, s
}
