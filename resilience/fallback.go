package resilience

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/learnwise/cachecore/logger"
)

// Strategy configures how one class of cache operation is protected.
type Strategy struct {
	Name string `json:"name"`
	// ErrorThreshold is the store error rate (0..1) above which callers
	// should prefer the fallback path.
	ErrorThreshold float64       `json:"errorThreshold"`
	Timeout        time.Duration `json:"timeout"`
	RetryAttempts  int           `json:"retryAttempts"`
	RetryDelay     time.Duration `json:"retryDelay"`
}

// CoolDown is how long an open circuit for this strategy stays open.
func (s Strategy) CoolDown() time.Duration {
	return CoolDownMultiplier * s.Timeout
}

// Names of the built-in strategies.
const (
	StrategyCacheRead     = "cache-read"
	StrategyCacheWrite    = "cache-write"
	StrategySession       = "session"
	StrategyTradingData   = "trading-data"
	StrategyCourseContent = "course-content"
)

// DefaultStrategies returns the built-in strategy catalog.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: StrategyCacheRead, ErrorThreshold: 0.1, Timeout: time.Second, RetryAttempts: 3, RetryDelay: 100 * time.Millisecond},
		{Name: StrategyCacheWrite, ErrorThreshold: 0.1, Timeout: 2 * time.Second, RetryAttempts: 3, RetryDelay: 200 * time.Millisecond},
		{Name: StrategySession, ErrorThreshold: 0.05, Timeout: 500 * time.Millisecond, RetryAttempts: 2, RetryDelay: 50 * time.Millisecond},
		{Name: StrategyTradingData, ErrorThreshold: 0.2, Timeout: 300 * time.Millisecond, RetryAttempts: 2, RetryDelay: 50 * time.Millisecond},
		{Name: StrategyCourseContent, ErrorThreshold: 0.1, Timeout: 2 * time.Second, RetryAttempts: 3, RetryDelay: 250 * time.Millisecond},
	}
}

// ErrorRater exposes the live store error rate.
type ErrorRater interface {
	ErrorRate() float64
}

// FallbackResult describes how ExecuteWithFallback produced its value.
type FallbackResult[T any] struct {
	Data         T             `json:"data"`
	Success      bool          `json:"success"`
	FromCache    bool          `json:"fromCache"`
	FallbackUsed bool          `json:"fallbackUsed"`
	Err          error         `json:"-"`
	Strategy     string        `json:"strategy"`
	Duration     time.Duration `json:"duration"`
}

// Controller owns the per-strategy configuration and circuit breakers.
type Controller struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
	breakers   map[string]*CircuitBreaker
	rater      ErrorRater
	logger     logger.Logger
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithStrategies adds or replaces strategies in the catalog.
func WithStrategies(strategies ...Strategy) ControllerOption {
	return func(c *Controller) {
		for _, s := range strategies {
			c.strategies[s.Name] = s
		}
	}
}

// WithErrorRater supplies the metrics consulted by ShouldUseFallback.
func WithErrorRater(r ErrorRater) ControllerOption {
	return func(c *Controller) { c.rater = r }
}

// WithLogger sets the controller logger.
func WithLogger(log logger.Logger) ControllerOption {
	return func(c *Controller) { c.logger = log }
}

// NewController returns a Controller seeded with DefaultStrategies.
func NewController(opts ...ControllerOption) *Controller {
	c := &Controller{
		strategies: make(map[string]Strategy),
		breakers:   make(map[string]*CircuitBreaker),
	}
	for _, s := range DefaultStrategies() {
		c.strategies[s.Name] = s
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.NewConsoleLogger(logger.LevelNone)
	}
	c.logger = logger.WithComponent(c.logger, "fallback")
	return c
}

// Strategy returns the named strategy, falling back to cache-read settings
// for unknown names.
func (c *Controller) Strategy(name string) Strategy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.strategies[name]; ok {
		return s
	}
	s := c.strategies[StrategyCacheRead]
	s.Name = name
	return s
}

// Strategies returns every configured strategy ordered by name.
func (c *Controller) Strategies() []Strategy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Strategy, 0, len(c.strategies))
	for _, s := range c.strategies {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetStrategy adds or replaces a strategy and retunes its breaker.
func (c *Controller) SetStrategy(s Strategy) error {
	if s.Name == "" {
		return errors.New("strategy name is required")
	}
	if s.Timeout <= 0 {
		return errors.Newf("strategy %q: timeout must be positive", s.Name)
	}
	if s.ErrorThreshold < 0 || s.ErrorThreshold > 1 {
		return errors.Newf("strategy %q: error threshold must be within [0,1]", s.Name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.strategies[s.Name] = s
	if cb, ok := c.breakers[s.Name]; ok {
		cb.Configure(CircuitBreakerConfig{MaxFailures: DefaultFailureThreshold, CoolDown: s.CoolDown()})
	}
	return nil
}

func (c *Controller) breaker(name string) (*CircuitBreaker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cb, ok := c.breakers[name]
	return cb, ok
}

func (c *Controller) recordFailure(name string, err error) {
	cb, ok := c.breaker(name)
	if !ok {
		s := c.Strategy(name)
		c.mu.Lock()
		if cb, ok = c.breakers[name]; !ok {
			cb = NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: DefaultFailureThreshold, CoolDown: s.CoolDown()})
			c.breakers[name] = cb
		}
		c.mu.Unlock()
	}
	if cb.RecordFailure() {
		c.logger.Warn("circuit opened for %s after %d consecutive failures: %v", name, cb.Failures(), err)
	}
}

func (c *Controller) recordSuccess(name string) {
	if cb, ok := c.breaker(name); ok {
		cb.RecordSuccess()
	}
}

// IsCircuitBreakerOpen reports whether the named strategy's circuit is open.
func (c *Controller) IsCircuitBreakerOpen(name string) bool {
	cb, ok := c.breaker(name)
	return ok && cb.IsOpen()
}

// CircuitBreakers returns a snapshot of every breaker created so far.
func (c *Controller) CircuitBreakers() map[string]CircuitBreakerStats {
	c.mu.RLock()
	breakers := make(map[string]*CircuitBreaker, len(c.breakers))
	for name, cb := range c.breakers {
		breakers[name] = cb
	}
	c.mu.RUnlock()

	out := make(map[string]CircuitBreakerStats, len(breakers))
	for name, cb := range breakers {
		cb.IsOpen() // applies an elapsed cool-down before reporting
		out[name] = cb.Stats()
	}
	return out
}

// ResetCircuitBreaker closes the named circuit. It reports false when no
// breaker exists for name.
func (c *Controller) ResetCircuitBreaker(name string) bool {
	cb, ok := c.breaker(name)
	if ok {
		cb.Reset()
		c.logger.Info("circuit for %s reset", name)
	}
	return ok
}

// ResetAll closes every circuit.
func (c *Controller) ResetAll() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, cb := range c.breakers {
		cb.Reset()
	}
}

// ShouldUseFallback is an advisory check: true when the live error rate has
// reached the strategy threshold or its circuit is open.
func (c *Controller) ShouldUseFallback(name string) bool {
	if c.IsCircuitBreakerOpen(name) {
		return true
	}
	if c.rater == nil {
		return false
	}
	return c.rater.ErrorRate() >= c.Strategy(name).ErrorThreshold
}

// ExecuteWithFallback runs primary under the strategy timeout and falls back
// on failure. With an open circuit primary is never invoked.
func ExecuteWithFallback[T any](ctx context.Context, c *Controller, primary, fallback func(context.Context) (T, error), strategy string) FallbackResult[T] {
	started := time.Now()
	s := c.Strategy(strategy)
	result := FallbackResult[T]{Strategy: strategy}

	if !c.IsCircuitBreakerOpen(strategy) {
		val, err := WithTimeout(ctx, s.Timeout, primary)
		if err == nil {
			c.recordSuccess(strategy)
			result.Data = val
			result.Success = true
			result.FromCache = true
			result.Duration = time.Since(started)
			return result
		}
		c.recordFailure(strategy, err)
		c.logger.Debug("primary failed for %s, using fallback: %v", strategy, err)
	} else {
		c.logger.Debug("circuit open for %s, skipping primary", strategy)
	}

	result.FallbackUsed = true
	val, err := WithTimeout(ctx, s.Timeout, fallback)
	result.Duration = time.Since(started)
	if err != nil {
		result.Err = errors.Wrapf(err, "fallback for %s failed", strategy)
		return result
	}
	result.Data = val
	result.Success = true
	return result
}

// ExecuteCacheOperation retries op up to the strategy's attempt count with a
// fixed delay. Each attempt is bounded by the strategy timeout. The last
// error is returned when every attempt fails, and counts as one failure of
// the strategy circuit.
func ExecuteCacheOperation[T any](ctx context.Context, c *Controller, op func(context.Context) (T, error), strategy string) (T, error) {
	s := c.Strategy(strategy)
	config := FixedDelay(s.RetryAttempts, s.RetryDelay)
	config.RetryableErrors = func(err error) bool {
		return !errors.Is(err, context.Canceled)
	}

	var (
		val     T
		lastErr error
	)
	err := Retry(ctx, config, func() error {
		v, err := WithTimeout(ctx, s.Timeout, op)
		if err != nil {
			lastErr = err
			return err
		}
		val = v
		return nil
	})
	if err != nil {
		var zero T
		if lastErr == nil {
			lastErr = err
		}
		c.recordFailure(strategy, lastErr)
		c.logger.Warn("%s operation failed after %d attempts: %v", strategy, s.RetryAttempts, lastErr)
		return zero, lastErr
	}
	c.recordSuccess(strategy)
	return val, nil
}
