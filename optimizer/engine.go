// Package optimizer tunes the cache from its own metrics: a set of rules is
// evaluated on a timer and each rule whose condition holds adjusts TTL,
// eviction policy or compression.
package optimizer

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/learnwise/cachecore/cache"
	"github.com/learnwise/cachecore/logger"
	"github.com/learnwise/cachecore/metrics"
	"github.com/learnwise/cachecore/sys"
)

// DefaultInterval is the time between optimization cycles.
const DefaultInterval = 5 * time.Minute

const maxHistory = 100

var (
	ErrRuleNotFound   = errors.New("optimization rule not found")
	ErrAlreadyRunning = errors.New("optimizer already running")
)

// Target is the cache the engine observes and tunes. *cache.Store
// implements it.
type Target interface {
	Metrics() *cache.Metrics
	DefaultTTL() time.Duration
	SetDefaultTTL(time.Duration)
	QueryTimeout() time.Duration
	SetQueryTimeout(time.Duration)
	CompressionEnabled() bool
	SetCompression(bool)
	SetConfig(ctx context.Context, parameter, value string) error
	MemoryInfo(ctx context.Context) (cache.MemoryInfo, error)
}

var _ Target = (*cache.Store)(nil)

// Result records one rule application.
type Result struct {
	ID        string    `json:"id"`
	Rule      string    `json:"rule"`
	Applied   bool      `json:"applied"`
	Success   bool      `json:"success"`
	Impact    Impact    `json:"impact"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Engine evaluates rules against a Target.
type Engine struct {
	target    Target
	interval  time.Duration
	logger    logger.Logger
	collector metrics.Collector

	mu      sync.RWMutex
	rules   []Rule
	history []Result

	// cycleMu keeps cycles, timer driven or triggered, from overlapping.
	cycleMu sync.Mutex

	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithRules replaces the default rule set.
func WithRules(rules ...Rule) Option {
	return func(e *Engine) { e.rules = rules }
}

func WithLogger(log logger.Logger) Option {
	return func(e *Engine) { e.logger = log }
}

func WithCollector(c metrics.Collector) Option {
	return func(e *Engine) { e.collector = c }
}

func NewEngine(target Target, opts ...Option) *Engine {
	e := &Engine{
		target:    target,
		interval:  DefaultInterval,
		collector: metrics.Noop{},
		rules:     DefaultRules(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.NewConsoleLogger(logger.LevelNone)
	}
	e.logger = logger.WithComponent(e.logger, "optimizer")
	return e
}

// Start runs a cycle every interval until Stop or ctx is done.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return ErrAlreadyRunning
	}
	ctx, e.cancel = context.WithCancel(ctx)
	e.waitGroup.Add(1)
	go e.loop(ctx)
	e.logger.Info("optimizing every %s", e.interval)
	return nil
}

// Stop ends the timer loop. A cycle in progress completes.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	e.waitGroup.Wait()
}

// Running reports whether the timer loop is active.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cancel != nil
}

func (e *Engine) loop(ctx context.Context) {
	defer e.waitGroup.Done()
	defer sys.RecoverPanic(e.logger)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.cycle(ctx, e.Rules())
		}
	}
}

// Observe gathers the current metrics and settings. Memory is best effort:
// stores that refuse INFO leave MemoryKnown false.
func (e *Engine) Observe(ctx context.Context) Observation {
	o := Observation{
		Metrics:      e.target.Metrics().Snapshot(),
		Compression:  e.target.CompressionEnabled(),
		DefaultTTL:   e.target.DefaultTTL(),
		QueryTimeout: e.target.QueryTimeout(),
	}
	if info, err := e.target.MemoryInfo(ctx); err != nil {
		e.logger.Debug("memory info unavailable: %v", err)
	} else {
		o.Memory = info
		o.MemoryKnown = true
	}
	return o
}

func (e *Engine) cycle(ctx context.Context, rules []Rule) []Result {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	var results []Result
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		// re-observe so a rule sees changes made by the rules before it
		o := e.Observe(ctx)
		if !e.holds(rule, o) {
			continue
		}
		results = append(results, e.apply(ctx, rule, o))
	}
	return results
}

func (e *Engine) holds(rule Rule, o Observation) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("condition of %s panicked: %v", rule.Name, r)
			ok = false
		}
	}()
	return rule.Condition != nil && rule.Condition(o)
}

func (e *Engine) apply(ctx context.Context, rule Rule, o Observation) (result Result) {
	result = Result{
		ID:        uuid.NewString(),
		Rule:      rule.Name,
		Applied:   true,
		Impact:    rule.Impact,
		Timestamp: time.Now(),
	}
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = errors.Newf("panic: %v", r).Error()
		}
		e.record(result)
	}()

	detail, err := rule.Action(ctx, e.target, o)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	result.Detail = detail
	return result
}

func (e *Engine) record(r Result) {
	e.mu.Lock()
	e.history = append(e.history, r)
	if len(e.history) > maxHistory {
		e.history = e.history[len(e.history)-maxHistory:]
	}
	e.mu.Unlock()

	if r.Success {
		e.collector.IncCounter(metrics.OptimizerApplied, 1)
		e.logger.Info("%s applied: %s", r.Rule, r.Detail)
	} else {
		e.logger.Warn("%s failed: %s", r.Rule, r.Error)
	}
}

// TriggerOptimization runs one cycle now. With a rule name only that rule
// is evaluated, and it is still applied only when its condition holds. The
// results of the rules that were applied are returned.
func (e *Engine) TriggerOptimization(ctx context.Context, name string) ([]Result, error) {
	rules := e.Rules()
	if name == "" {
		return e.cycle(ctx, rules), nil
	}
	for _, rule := range rules {
		if rule.Name == name {
			return e.cycle(ctx, []Rule{rule}), nil
		}
	}
	return nil, errors.Wrapf(ErrRuleNotFound, "%s", name)
}

// Rules returns a copy of the rule set in evaluation order.
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Rule(nil), e.rules...)
}

// SetRuleEnabled turns a rule on or off.
func (e *Engine) SetRuleEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.rules {
		if e.rules[i].Name == name {
			e.rules[i].Enabled = enabled
			return nil
		}
	}
	return errors.Wrapf(ErrRuleNotFound, "%s", name)
}

// History returns applied results, oldest first.
func (e *Engine) History() []Result {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Result(nil), e.history...)
}
