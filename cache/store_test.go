package cache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/learnwise/cachecore/logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:       mr.Addr(),
		MaxRetries: -1,
	})
	return mr, client
}

func newTestStore(t *testing.T, opts ...Option) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr, client := newTestRedis(t)
	opts = append([]Option{WithLogger(logger.NewTestLogger()), WithConnectRetry(1, time.Millisecond)}, opts...)
	s := NewStore(client, opts...)
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { s.Close() })
	return mr, s
}

func TestStoreConnect(t *testing.T) {
	_, s := newTestStore(t)
	assert.True(t, s.IsConnected())
	assert.NoError(t, s.Close())
	assert.False(t, s.IsConnected())
}

func TestStoreConnectGivesUp(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	log := logger.NewTestLogger()
	s := NewStore(client, WithLogger(log), WithConnectRetry(3, time.Millisecond), WithQueryTimeout(100*time.Millisecond))
	defer s.Close()

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
	assert.False(t, s.IsConnected())
	assert.Equal(t, 3, log.Count("WARNING"))
}

func TestStoreSetGet(t *testing.T) {
	_, s := newTestStore(t)
	ctx := context.Background()

	val, found := s.Get(ctx, "trading:BTC:data")
	assert.False(t, found)
	assert.Nil(t, val)

	assert.True(t, s.Set(ctx, "trading:BTC:data", []byte(`{"price":50000}`), 30*time.Second))
	val, found = s.Get(ctx, "trading:BTC:data")
	assert.True(t, found)
	assert.JSONEq(t, `{"price":50000}`, string(val))

	snap := s.Metrics().Snapshot()
	assert.Equal(t, int64(1), snap.Hits)
	assert.Equal(t, int64(1), snap.Misses)
	assert.Equal(t, int64(2), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.Sets)
	assert.Equal(t, 0.5, snap.HitRatio)
}

func TestStoreExpiry(t *testing.T) {
	mr, s := newTestStore(t)
	ctx := context.Background()

	assert.True(t, s.Set(ctx, "trading:BTC:data", []byte(`{"price":50000}`), 30*time.Second))
	ttl, ok := s.TTL(ctx, "trading:BTC:data")
	assert.True(t, ok)
	assert.Equal(t, 30*time.Second, ttl)

	mr.FastForward(31 * time.Second)

	_, found := s.Get(ctx, "trading:BTC:data")
	assert.False(t, found)
	_, ok = s.TTL(ctx, "trading:BTC:data")
	assert.False(t, ok)
}

func TestStoreSetWithoutExpiry(t *testing.T) {
	mr, s := newTestStore(t)
	ctx := context.Background()

	assert.True(t, s.Set(ctx, "user:profile:1", []byte(`{}`), 0))
	mr.FastForward(24 * time.Hour)
	assert.True(t, s.Exists(ctx, "user:profile:1"))
	ttl, ok := s.TTL(ctx, "user:profile:1")
	assert.True(t, ok)
	assert.Zero(t, ttl)
}

func TestStoreDel(t *testing.T) {
	_, s := newTestStore(t)
	ctx := context.Background()

	assert.True(t, s.Del(ctx))
	s.Set(ctx, "a", []byte("1"), time.Minute)
	s.Set(ctx, "b", []byte("2"), time.Minute)
	assert.True(t, s.Del(ctx, "a", "b", "c"))
	assert.False(t, s.Exists(ctx, "a"))
	assert.Equal(t, int64(2), s.Metrics().Snapshot().Deletes)
}

func TestStoreKeys(t *testing.T) {
	_, s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 250; i++ {
		s.Set(ctx, Key(PrefixCourse, strings.Repeat("x", i%7+1), "data"), []byte("1"), time.Minute)
	}
	s.Set(ctx, "market:price:BTC", []byte("1"), time.Minute)

	keys := s.Keys(ctx, "course:*")
	assert.Len(t, keys, 7)
	assert.ElementsMatch(t, []string{"market:price:BTC"}, s.Keys(ctx, "market:*"))
}

func TestStorePrefix(t *testing.T) {
	mr, s := newTestStore(t, WithPrefix("app"))
	ctx := context.Background()

	s.Set(ctx, "lesson:1:data", []byte("1"), time.Minute)
	assert.True(t, mr.Exists("app:lesson:1:data"))
	assert.Equal(t, []string{"lesson:1:data"}, s.Keys(ctx, "lesson:*"))

	mr.Set("other", "x")
	assert.True(t, s.FlushAll(ctx))
	assert.False(t, mr.Exists("app:lesson:1:data"))
	assert.True(t, mr.Exists("other"))
}

func TestStoreFlushAll(t *testing.T) {
	mr, s := newTestStore(t)
	ctx := context.Background()
	s.Set(ctx, "a", []byte("1"), time.Minute)
	assert.True(t, s.FlushAll(ctx))
	assert.Empty(t, mr.Keys())
}

func TestStoreErrorsAreCountedNotReturned(t *testing.T) {
	mr, s := newTestStore(t)
	ctx := context.Background()

	mr.SetError("ERR boom")
	_, found := s.Get(ctx, "a")
	assert.False(t, found)
	assert.False(t, s.Set(ctx, "a", []byte("1"), time.Minute))
	// server-side errors do not mean the connection is gone
	assert.True(t, s.IsConnected())

	snap := s.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.Errors)
	assert.Equal(t, int64(1), snap.TotalRequests)
	assert.Equal(t, int64(0), snap.Hits)
	assert.Equal(t, int64(0), snap.Misses)
	assert.Equal(t, 0.0, snap.HitRatio)

	mr.SetError("")
	assert.True(t, s.Set(ctx, "a", []byte("1"), time.Minute))
}

func TestStoreConnectionLossMarksDisconnected(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	s := NewStore(client, WithLogger(logger.NewTestLogger()), WithQueryTimeout(100*time.Millisecond))
	defer s.Close()
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))

	mr.Close()
	_, found := s.Get(ctx, "a")
	assert.False(t, found)
	assert.False(t, s.IsConnected())

	h := s.HealthCheck(ctx)
	assert.Equal(t, StatusUnhealthy, h.Status)
	assert.False(t, h.IsConnected)
	assert.NotEmpty(t, h.Error)
}

func TestStoreHealthCheck(t *testing.T) {
	_, s := newTestStore(t)
	h := s.HealthCheck(context.Background())
	assert.Equal(t, StatusHealthy, h.Status)
	assert.True(t, h.IsConnected)
	assert.Empty(t, h.Error)
}

func TestStoreHitRatio(t *testing.T) {
	_, s := newTestStore(t)
	ctx := context.Background()

	assert.Equal(t, 0.0, s.Metrics().HitRatio())
	s.Set(ctx, "hit", []byte("1"), time.Minute)
	for i := 0; i < 30; i++ {
		if i%3 == 0 {
			s.Get(ctx, "hit")
		} else {
			s.Get(ctx, "miss")
		}
		snap := s.Metrics().Snapshot()
		assert.InDelta(t, float64(snap.Hits)/float64(snap.TotalRequests), snap.HitRatio, 1e-12)
	}

	s.ResetMetrics()
	snap := s.Metrics().Snapshot()
	assert.Zero(t, snap.TotalRequests)
	assert.Zero(t, snap.HitRatio)
	assert.Zero(t, snap.ErrorRate)
}

func TestStoreMGetAndSetMany(t *testing.T) {
	_, s := newTestStore(t)
	ctx := context.Background()

	assert.True(t, s.SetMany(ctx, map[string][]byte{
		"market:price:BTC": []byte("50000"),
		"market:price:ETH": []byte("3000"),
	}, time.Minute))

	got := s.MGet(ctx, "market:price:BTC", "market:price:ETH", "market:price:DOGE")
	assert.Equal(t, map[string][]byte{
		"market:price:BTC": []byte("50000"),
		"market:price:ETH": []byte("3000"),
	}, got)

	snap := s.Metrics().Snapshot()
	assert.Equal(t, int64(3), snap.TotalRequests)
	assert.Equal(t, int64(2), snap.Hits)
	assert.Equal(t, int64(1), snap.Misses)
}

func TestStoreCompression(t *testing.T) {
	mr, s := newTestStore(t)
	ctx := context.Background()

	large := []byte(strings.Repeat(`{"lesson":"intro"},`, 200))
	s.Set(ctx, "plain", large, time.Minute)

	s.SetCompression(true)
	s.Set(ctx, "packed", large, time.Minute)
	s.Set(ctx, "small", []byte("tiny"), time.Minute)

	raw, err := mr.Get("packed")
	require.NoError(t, err)
	assert.Less(t, len(raw), len(large))
	small, err := mr.Get("small")
	require.NoError(t, err)
	assert.Equal(t, "tiny", small)

	// compressed and plain entries are both readable whatever the toggle says
	s.SetCompression(false)
	for _, key := range []string{"plain", "packed"} {
		val, ok := s.Get(ctx, key)
		assert.True(t, ok)
		assert.Equal(t, large, val)
	}
}

func TestParseMemoryInfo(t *testing.T) {
	raw := "# Memory\r\nused_memory:8000\r\nused_memory_human:7.81K\r\nmaxmemory:10000\r\nmaxmemory_policy:noeviction\r\n"
	info := parseMemoryInfo(raw)
	assert.Equal(t, int64(8000), info.UsedMemory)
	assert.Equal(t, int64(10000), info.MaxMemory)
	assert.Equal(t, "noeviction", info.Policy)
	assert.Equal(t, 0.8, info.UsageRatio())
	assert.Zero(t, MemoryInfo{UsedMemory: 5}.UsageRatio())
}

func TestNewRedisClient(t *testing.T) {
	client := NewRedisClient(ClientConfig{Host: "localhost", Port: 6379, DB: 2, MaxRetries: 3})
	defer client.Close()
	opts := client.Options()
	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, MinRetryBackoff, opts.MinRetryBackoff)
	assert.Equal(t, MaxRetryBackoff, opts.MaxRetryBackoff)
}
