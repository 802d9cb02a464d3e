package optimizer

import (
	"context"
	"fmt"
	"time"

	"github.com/learnwise/cachecore/cache"
)

// Names of the built-in rules.
const (
	LowHitRatio       = "low-hit-ratio"
	HighErrorRate     = "high-error-rate"
	MemoryPressure    = "memory-pressure"
	EnableCompression = "enable-compression"
	HighHitRatio      = "high-hit-ratio"
)

// Thresholds used by DefaultRules.
const (
	MinRequests            = 100
	CompressionMinRequests = 10_000
	LowHitRatioThreshold   = 0.5
	HighHitRatioThreshold  = 0.9
	ErrorRateThreshold     = 0.05
	MemoryPressureRatio    = 0.8

	TTLGrowth        = 1.5
	MaxDefaultTTL    = 24 * time.Hour
	MinQueryTimeout  = time.Second
	PolicyAllKeysLRU = "allkeys-lru"
	PolicyAllKeysLFU = "allkeys-lfu"
	maxmemoryPolicy  = "maxmemory-policy"
	maxmemorySetting = "maxmemory"
)

// Impact ranks how much a rule changes cache behaviour.
type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

// Observation is what rule conditions are evaluated against.
type Observation struct {
	Metrics      cache.Snapshot   `json:"metrics"`
	Memory       cache.MemoryInfo `json:"memory"`
	MemoryKnown  bool             `json:"memoryKnown"`
	Compression  bool             `json:"compression"`
	DefaultTTL   time.Duration    `json:"defaultTTL"`
	QueryTimeout time.Duration    `json:"queryTimeout"`
}

// Rule pairs a side-effect free condition with the action applied when it
// holds. Action returns a short description of what it changed.
type Rule struct {
	Name        string                                                     `json:"name"`
	Description string                                                     `json:"description"`
	Impact      Impact                                                     `json:"impact"`
	Enabled     bool                                                       `json:"enabled"`
	Condition   func(Observation) bool                                     `json:"-"`
	Action      func(context.Context, Target, Observation) (string, error) `json:"-"`
}

// DefaultRules returns the built-in rule set, all enabled.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:        LowHitRatio,
			Description: "hit ratio below 50% over at least 100 requests: lengthen the default TTL",
			Impact:      ImpactMedium,
			Enabled:     true,
			Condition: func(o Observation) bool {
				return o.Metrics.TotalRequests >= MinRequests &&
					o.Metrics.HitRatio < LowHitRatioThreshold &&
					o.DefaultTTL < MaxDefaultTTL
			},
			Action: func(_ context.Context, t Target, o Observation) (string, error) {
				ttl := time.Duration(float64(o.DefaultTTL) * TTLGrowth)
				if ttl > MaxDefaultTTL {
					ttl = MaxDefaultTTL
				}
				t.SetDefaultTTL(ttl)
				return fmt.Sprintf("default TTL %s -> %s", o.DefaultTTL, ttl), nil
			},
		},
		{
			Name:        HighErrorRate,
			Description: "error rate above 5%: shorten the per-query timeout so callers fail fast",
			Impact:      ImpactHigh,
			Enabled:     true,
			Condition: func(o Observation) bool {
				return o.Metrics.ErrorRate > ErrorRateThreshold
			},
			Action: func(_ context.Context, t Target, o Observation) (string, error) {
				timeout := o.QueryTimeout / 2
				if timeout < MinQueryTimeout {
					timeout = MinQueryTimeout
				}
				if timeout == o.QueryTimeout {
					return fmt.Sprintf("error rate %.2f, query timeout already at %s", o.Metrics.ErrorRate, timeout), nil
				}
				t.SetQueryTimeout(timeout)
				return fmt.Sprintf("error rate %.2f, query timeout %s -> %s", o.Metrics.ErrorRate, o.QueryTimeout, timeout), nil
			},
		},
		{
			Name:        MemoryPressure,
			Description: "used memory above 80% of maxmemory: evict least recently used keys",
			Impact:      ImpactHigh,
			Enabled:     true,
			Condition: func(o Observation) bool {
				return o.MemoryKnown &&
					o.Memory.UsageRatio() > MemoryPressureRatio &&
					o.Memory.Policy != PolicyAllKeysLRU
			},
			Action: setPolicy(PolicyAllKeysLRU),
		},
		{
			Name:        EnableCompression,
			Description: "at least 10000 requests with compression off: compress large payloads",
			Impact:      ImpactLow,
			Enabled:     true,
			Condition: func(o Observation) bool {
				return o.Metrics.TotalRequests >= CompressionMinRequests && !o.Compression
			},
			Action: func(_ context.Context, t Target, _ Observation) (string, error) {
				t.SetCompression(true)
				return "compression enabled", nil
			},
		},
		{
			Name:        HighHitRatio,
			Description: "hit ratio above 90%: evict least frequently used keys",
			Impact:      ImpactLow,
			Enabled:     true,
			Condition: func(o Observation) bool {
				return o.Metrics.TotalRequests >= MinRequests &&
					o.Metrics.HitRatio > HighHitRatioThreshold &&
					o.MemoryKnown &&
					o.Memory.Policy != PolicyAllKeysLFU
			},
			Action: setPolicy(PolicyAllKeysLFU),
		},
	}
}

func setPolicy(policy string) func(context.Context, Target, Observation) (string, error) {
	return func(ctx context.Context, t Target, o Observation) (string, error) {
		if err := t.SetConfig(ctx, maxmemoryPolicy, policy); err != nil {
			return "", err
		}
		return fmt.Sprintf("eviction policy %s -> %s", o.Memory.Policy, policy), nil
	}
}
