package optimizer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/learnwise/cachecore/cache"
	"github.com/learnwise/cachecore/logger"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis stands in for the CONFIG SET and INFO memory calls miniredis
// does not implement.
type fakeRedis struct {
	*cache.Store

	mu        sync.Mutex
	memory    cache.MemoryInfo
	memErr    error
	configErr error
	configs   map[string]string
}

func (f *fakeRedis) SetConfig(ctx context.Context, parameter, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.configErr != nil {
		return f.configErr
	}
	f.configs[parameter] = value
	if parameter == maxmemoryPolicy {
		f.memory.Policy = value
	}
	return nil
}

func (f *fakeRedis) MemoryInfo(ctx context.Context) (cache.MemoryInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.memory, f.memErr
}

func newTarget(t *testing.T) *fakeRedis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	store := cache.NewStore(client, cache.WithLogger(logger.NewTestLogger()), cache.WithConnectRetry(1, time.Millisecond))
	require.NoError(t, store.Connect(context.Background()))
	t.Cleanup(func() { store.Close() })
	return &fakeRedis{
		Store:   store,
		memory:  cache.MemoryInfo{UsedMemory: 10, MaxMemory: 100, Policy: "noeviction"},
		configs: make(map[string]string),
	}
}

func misses(t *testing.T, s *cache.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, ok := s.Get(context.Background(), "course:missing:data")
		require.False(t, ok)
	}
}

func TestLowHitRatioRaisesTTL(t *testing.T) {
	target := newTarget(t)
	e := NewEngine(target)

	misses(t, target.Store, MinRequests-1)
	results, err := e.TriggerOptimization(context.Background(), LowHitRatio)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, cache.DefaultTTL, target.DefaultTTL())

	misses(t, target.Store, 1)
	results, err = e.TriggerOptimization(context.Background(), LowHitRatio)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Applied)
	assert.True(t, results[0].Success)
	assert.Equal(t, ImpactMedium, results[0].Impact)
	assert.Equal(t, 90*time.Minute, target.DefaultTTL())
	assert.Len(t, e.History(), 1)
}

func TestTriggerIsGatedByCondition(t *testing.T) {
	target := newTarget(t)
	e := NewEngine(target)
	misses(t, target.Store, MinRequests)

	results, err := e.TriggerOptimization(context.Background(), HighHitRatio)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, target.configs)

	_, err = e.TriggerOptimization(context.Background(), "shrink-everything")
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestFullCycleMemoryPressure(t *testing.T) {
	target := newTarget(t)
	target.memory = cache.MemoryInfo{UsedMemory: 85, MaxMemory: 100, Policy: "noeviction"}
	e := NewEngine(target)

	results, err := e.TriggerOptimization(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, MemoryPressure, results[0].Rule)
	assert.Equal(t, PolicyAllKeysLRU, target.configs["maxmemory-policy"])

	// the policy now matches, so the rule no longer fires
	results, err = e.TriggerOptimization(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestFailedActionIsRecorded(t *testing.T) {
	log := logger.NewTestLogger()
	target := newTarget(t)
	target.memory = cache.MemoryInfo{UsedMemory: 95, MaxMemory: 100}
	target.configErr = errors.New("ERR CONFIG SET is disabled")
	e := NewEngine(target, WithLogger(log))

	results, err := e.TriggerOptimization(context.Background(), MemoryPressure)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Applied)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "CONFIG SET is disabled")
	assert.Len(t, e.History(), 1)
	assert.Equal(t, 1, log.Count("WARNING"))
}

func TestPanickingRuleIsContained(t *testing.T) {
	target := newTarget(t)
	e := NewEngine(target, WithRules(
		Rule{Name: "bad", Enabled: true, Condition: func(Observation) bool { return true }, Action: func(context.Context, Target, Observation) (string, error) {
			panic("boom")
		}},
		Rule{Name: "good", Enabled: true, Condition: func(Observation) bool { return true }, Action: func(context.Context, Target, Observation) (string, error) {
			return "done", nil
		}},
	))
	results, err := e.TriggerOptimization(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "boom")
	assert.True(t, results[1].Success)
}

func TestHistoryIsBounded(t *testing.T) {
	target := newTarget(t)
	always := Rule{Name: "always", Enabled: true, Condition: func(Observation) bool { return true }, Action: func(context.Context, Target, Observation) (string, error) {
		return "noop", nil
	}}
	e := NewEngine(target, WithRules(always))
	for i := 0; i < maxHistory+25; i++ {
		_, err := e.TriggerOptimization(context.Background(), "")
		require.NoError(t, err)
	}
	assert.Len(t, e.History(), maxHistory)
}

func TestDisabledRulesAreSkipped(t *testing.T) {
	target := newTarget(t)
	misses(t, target.Store, MinRequests)
	e := NewEngine(target)
	require.NoError(t, e.SetRuleEnabled(LowHitRatio, false))
	assert.ErrorIs(t, e.SetRuleEnabled("nope", false), ErrRuleNotFound)

	results, err := e.TriggerOptimization(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStartStop(t *testing.T) {
	target := newTarget(t)
	var runs atomic.Int32
	e := NewEngine(target, WithInterval(5*time.Millisecond), WithRules(Rule{
		Name:      "tick",
		Enabled:   true,
		Condition: func(Observation) bool { return true },
		Action: func(context.Context, Target, Observation) (string, error) {
			runs.Add(1)
			return "", nil
		},
	}))
	require.NoError(t, e.Start(context.Background()))
	assert.True(t, e.Running())
	assert.ErrorIs(t, e.Start(context.Background()), ErrAlreadyRunning)
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)

	e.Stop()
	assert.False(t, e.Running())
	n := runs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, runs.Load())
}

func TestRecommendationsDoNotApply(t *testing.T) {
	target := newTarget(t)
	misses(t, target.Store, MinRequests)
	e := NewEngine(target)

	report := e.Recommendations(context.Background())
	var names []string
	for _, r := range report.Recommendations {
		names = append(names, r.Rule)
	}
	assert.Contains(t, names, LowHitRatio)
	assert.EqualValues(t, MinRequests, report.Observation.Metrics.TotalRequests)
	assert.Empty(t, e.History())
	assert.Equal(t, cache.DefaultTTL, target.DefaultTTL())
}

func TestObserveWithoutMemoryInfo(t *testing.T) {
	target := newTarget(t)
	target.memErr = errors.New("ERR unknown section")
	o := NewEngine(target).Observe(context.Background())
	assert.False(t, o.MemoryKnown)
	assert.Equal(t, cache.DefaultTTL, o.DefaultTTL)
}
