package optimizer

import (
	"context"
	"testing"
	"time"

	"github.com/learnwise/cachecore/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestConfig(t *testing.T) {
	target := newTarget(t)
	target.memory = cache.MemoryInfo{MaxMemory: 1 << 20, Policy: "volatile-lru"}
	c := NewEngine(target).Config(context.Background())
	assert.Equal(t, "1h0m0s", c.DefaultTTL)
	assert.Equal(t, "volatile-lru", c.EvictionPolicy)
	assert.EqualValues(t, 1<<20, c.MaxMemory)
	assert.False(t, c.Compression)
}

func TestUpdateConfig(t *testing.T) {
	target := newTarget(t)
	e := NewEngine(target)

	require.NoError(t, e.UpdateConfig(context.Background(), ConfigUpdate{
		DefaultTTL:     ptr("1d"),
		EvictionPolicy: ptr("allkeys-lfu"),
		Compression:    ptr(true),
		MaxMemory:      ptr("256mb"),
	}))
	assert.Equal(t, 24*time.Hour, target.DefaultTTL())
	assert.True(t, target.CompressionEnabled())
	assert.Equal(t, "allkeys-lfu", target.configs["maxmemory-policy"])
	assert.Equal(t, "256mb", target.configs["maxmemory"])
}

func TestUpdateConfigRejectsInvalid(t *testing.T) {
	target := newTarget(t)
	e := NewEngine(target)

	err := e.UpdateConfig(context.Background(), ConfigUpdate{
		DefaultTTL:     ptr("soon"),
		EvictionPolicy: ptr("random-ish"),
		MaxMemory:      ptr("lots"),
		Compression:    ptr(true),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "defaultTTL")
	assert.Contains(t, err.Error(), "random-ish")
	assert.Contains(t, err.Error(), "lots")

	// nothing applied
	assert.Equal(t, cache.DefaultTTL, target.DefaultTTL())
	assert.False(t, target.CompressionEnabled())
	assert.Empty(t, target.configs)

	assert.Error(t, e.UpdateConfig(context.Background(), ConfigUpdate{DefaultTTL: ptr("-5m")}))
}

func TestValidSize(t *testing.T) {
	for _, s := range []string{"0", "1024", "256mb", "1GB", "512kb", "100b"} {
		assert.True(t, validSize(s), s)
	}
	for _, s := range []string{"", "mb", "-1", "1.5gb", "ten"} {
		assert.False(t, validSize(s), s)
	}
}
