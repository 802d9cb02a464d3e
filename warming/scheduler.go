// Package warming pre-populates the cache from the source of truth on a
// schedule.
package warming

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/learnwise/cachecore/logger"
	"github.com/learnwise/cachecore/metrics"
	"github.com/learnwise/cachecore/sys"
	"golang.org/x/sync/singleflight"
)

// DefaultCheckInterval is how often the scheduler looks for due strategies.
const DefaultCheckInterval = 60 * time.Second

// maxResults bounds the result history.
const maxResults = 100

var (
	ErrStrategyNotFound = errors.New("warming strategy not found")
	ErrAlreadyRunning   = errors.New("warming scheduler already running")
)

// WarmFunc fetches data and writes it to the cache, returning how many items
// it warmed. It must be safe to re-run: it only overwrites the same keys.
type WarmFunc func(ctx context.Context) (int, error)

// Strategy is a named unit of scheduled warming work.
type Strategy struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Priority    int           `json:"priority"`
	Interval    time.Duration `json:"interval"`
	Enabled     bool          `json:"enabled"`
	LastRun     time.Time     `json:"lastRun"`
	NextRun     time.Time     `json:"nextRun"`
	Warm        WarmFunc      `json:"-"`
}

// Result records one run of a strategy.
type Result struct {
	ID          string        `json:"id"`
	Strategy    string        `json:"strategy"`
	Success     bool          `json:"success"`
	ItemsWarmed int           `json:"itemsWarmed"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
	Timestamp   time.Time     `json:"timestamp"`
}

// Scheduler states.
const (
	StateStopped  = "stopped"
	StateStarting = "starting"
	StateRunning  = "running"
)

// Status is a snapshot of the scheduler.
type Status struct {
	State         string        `json:"state"`
	CheckInterval time.Duration `json:"checkInterval"`
	Strategies    []Strategy    `json:"strategies"`
	LastResults   []Result      `json:"lastResults"`
}

// Scheduler runs warming strategies: all of them once on Start, then every
// due strategy on each check in ascending priority. A failing strategy is
// recorded and never stops the others.
type Scheduler struct {
	mu         sync.RWMutex
	strategies map[string]*Strategy
	results    []Result
	state      string

	group         singleflight.Group
	checkInterval time.Duration
	logger        logger.Logger
	collector     metrics.Collector

	cancel     context.CancelFunc
	generation uint64
	waitGroup  sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithCheckInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.checkInterval = d }
}

func WithLogger(log logger.Logger) Option {
	return func(s *Scheduler) { s.logger = log }
}

func WithCollector(c metrics.Collector) Option {
	return func(s *Scheduler) { s.collector = c }
}

// WithStrategies registers strategies at construction.
func WithStrategies(strategies ...Strategy) Option {
	return func(s *Scheduler) {
		for _, st := range strategies {
			st := st
			s.strategies[st.Name] = &st
		}
	}
}

func NewScheduler(opts ...Option) *Scheduler {
	s := &Scheduler{
		strategies:    make(map[string]*Strategy),
		state:         StateStopped,
		checkInterval: DefaultCheckInterval,
		collector:     metrics.Noop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.NewConsoleLogger(logger.LevelNone)
	}
	s.logger = logger.WithComponent(s.logger, "warming")
	return s
}

// Register adds or replaces a strategy.
func (s *Scheduler) Register(st Strategy) error {
	if st.Name == "" {
		return errors.New("strategy name is required")
	}
	if st.Warm == nil {
		return errors.Newf("strategy %q has no warm function", st.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategies[st.Name] = &st
	return nil
}

// Start runs the initial warm-up of every enabled strategy and then starts
// the check loop. It returns once the initial warm-up is done. A Stop during
// the warm-up wins: the loop is never started and the scheduler stays stopped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateStopped {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = StateStarting
	s.generation++
	gen := s.generation
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("initial warm-up of %d strategies", len(s.ordered(func(*Strategy) bool { return true })))
	for _, name := range s.ordered(func(st *Strategy) bool { return st.Enabled }) {
		if ctx.Err() != nil {
			break
		}
		s.run(ctx, name, true)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		// stopped and restarted while warming up; the newer Start owns the state
		return nil
	}
	if s.cancel == nil || ctx.Err() != nil {
		if s.cancel != nil {
			s.cancel()
			s.cancel = nil
		}
		s.state = StateStopped
		s.logger.Info("stopped during initial warm-up")
		return nil
	}
	s.state = StateRunning
	s.waitGroup.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop ends the check loop and waits for it. In-flight strategies finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	gen := s.generation
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.waitGroup.Wait()

	s.mu.Lock()
	if s.generation == gen {
		s.state = StateStopped
	}
	s.mu.Unlock()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.waitGroup.Done()
	defer sys.RecoverPanic(s.logger)

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(ctx)
		}
	}
}

func (s *Scheduler) runDue(ctx context.Context) {
	now := time.Now()
	due := s.ordered(func(st *Strategy) bool {
		return st.Enabled && !st.NextRun.After(now)
	})
	for _, name := range due {
		if ctx.Err() != nil {
			return
		}
		s.run(ctx, name, true)
	}
}

// ordered returns the names of strategies matching keep, lowest priority
// value first.
func (s *Scheduler) ordered(keep func(*Strategy) bool) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*Strategy, 0, len(s.strategies))
	for _, st := range s.strategies {
		if keep(st) {
			list = append(list, st)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority < list[j].Priority
		}
		return list[i].Name < list[j].Name
	})
	names := make([]string, len(list))
	for i, st := range list {
		names[i] = st.Name
	}
	return names
}

// TriggerStrategy runs name now, outside the schedule. Only LastRun is
// updated. A run already in flight for name is joined rather than repeated.
func (s *Scheduler) TriggerStrategy(ctx context.Context, name string) (Result, error) {
	s.mu.RLock()
	_, ok := s.strategies[name]
	s.mu.RUnlock()
	if !ok {
		return Result{}, errors.Wrapf(ErrStrategyNotFound, "%s", name)
	}
	return s.run(ctx, name, false), nil
}

func (s *Scheduler) run(ctx context.Context, name string, scheduled bool) Result {
	v, _, _ := s.group.Do(name, func() (interface{}, error) {
		return s.execute(ctx, name, scheduled), nil
	})
	return v.(Result)
}

func (s *Scheduler) execute(ctx context.Context, name string, scheduled bool) (result Result) {
	s.mu.RLock()
	st := s.strategies[name]
	warm := st.Warm
	interval := st.Interval
	s.mu.RUnlock()

	started := time.Now()
	result = Result{ID: uuid.NewString(), Strategy: name, Timestamp: started}

	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.ItemsWarmed = 0
			result.Error = fmt.Sprintf("panic: %v", r)
		}
		result.Duration = time.Since(started)

		s.mu.Lock()
		st.LastRun = started
		if scheduled {
			st.NextRun = started.Add(interval)
		}
		s.results = append(s.results, result)
		if len(s.results) > maxResults {
			s.results = s.results[len(s.results)-maxResults:]
		}
		s.mu.Unlock()

		s.collector.IncCounter(metrics.WarmingRuns, 1)
		if result.Success {
			s.collector.IncCounter(metrics.WarmingItems, int64(result.ItemsWarmed))
			s.logger.Debug("%s warmed %d items in %s", name, result.ItemsWarmed, result.Duration)
		} else {
			s.collector.IncCounter(metrics.WarmingFailures, 1)
			s.logger.Warn("%s failed after %s: %s", name, result.Duration, result.Error)
		}
	}()

	items, err := warm(ctx)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	result.ItemsWarmed = items
	return result
}

// SetEnabled turns a strategy on or off.
func (s *Scheduler) SetEnabled(name string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.strategies[name]
	if !ok {
		return errors.Wrapf(ErrStrategyNotFound, "%s", name)
	}
	st.Enabled = enabled
	return nil
}

// Strategies returns copies of every strategy in run order.
func (s *Scheduler) Strategies() []Strategy {
	names := s.ordered(func(*Strategy) bool { return true })
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Strategy, 0, len(names))
	for _, name := range names {
		if st, ok := s.strategies[name]; ok {
			out = append(out, *st)
		}
	}
	return out
}

// Results returns the run history, oldest first.
func (s *Scheduler) Results() []Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Result(nil), s.results...)
}

// Status reports the scheduler state, its strategies and the last result of
// each strategy.
func (s *Scheduler) Status() Status {
	strategies := s.Strategies()
	s.mu.RLock()
	defer s.mu.RUnlock()
	last := make(map[string]Result)
	for _, r := range s.results {
		last[r.Strategy] = r
	}
	results := make([]Result, 0, len(last))
	for _, st := range strategies {
		if r, ok := last[st.Name]; ok {
			results = append(results, r)
		}
	}
	return Status{
		State:         s.state,
		CheckInterval: s.checkInterval,
		Strategies:    strategies,
		LastResults:   results,
	}
}
