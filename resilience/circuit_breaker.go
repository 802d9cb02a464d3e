package resilience

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
	ErrOperationTimeout   = errors.New("operation timed out")
)

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON payloads.
func (s CircuitBreakerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CircuitBreakerConfig defines configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the circuit
	MaxFailures int

	// CoolDown is how long after the last failure an open circuit closes again
	CoolDown time.Duration
}

// DefaultFailureThreshold is the consecutive failure count that opens a circuit.
const DefaultFailureThreshold = 5

// CoolDownMultiplier scales a strategy timeout into its circuit cool-down.
const CoolDownMultiplier = 10

// CircuitBreaker counts consecutive failures. It opens once MaxFailures is
// reached and closes again on the next success or once CoolDown has elapsed
// since the last failure. There is no half-open state: after the
// cool-down the next call goes straight to the primary path.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	state           int32 // CircuitBreakerState
	failures        int32
	lastFailureTime int64 // Unix nano

	mu sync.Mutex
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = DefaultFailureThreshold
	}
	return &CircuitBreaker{
		config: config,
		state:  int32(StateClosed),
	}
}

// RecordFailure counts a failure and reports whether it opened the circuit.
func (cb *CircuitBreaker) RecordFailure() bool {
	failures := atomic.AddInt32(&cb.failures, 1)
	atomic.StoreInt64(&cb.lastFailureTime, time.Now().UnixNano())

	if int(failures) >= cb.config.MaxFailures {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		return atomic.SwapInt32(&cb.state, int32(StateOpen)) != int32(StateOpen)
	}
	return false
}

// RecordSuccess resets the failure count and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.transitionToClosed()
}

// IsOpen reports whether calls should be short-circuited. An open circuit
// whose cool-down has elapsed is closed as a side effect.
func (cb *CircuitBreaker) IsOpen() bool {
	if CircuitBreakerState(atomic.LoadInt32(&cb.state)) != StateOpen {
		return false
	}
	if cb.shouldAttemptReset() {
		cb.transitionToClosed()
		return false
	}
	return true
}

func (cb *CircuitBreaker) shouldAttemptReset() bool {
	lastFailure := atomic.LoadInt64(&cb.lastFailureTime)
	return time.Since(time.Unix(0, lastFailure)) >= cb.CoolDown()
}

func (cb *CircuitBreaker) transitionToClosed() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	atomic.StoreInt32(&cb.state, int32(StateClosed))
	atomic.StoreInt32(&cb.failures, 0)
}

// Configure replaces the breaker thresholds, keeping the current counters.
func (cb *CircuitBreaker) Configure(config CircuitBreakerConfig) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if config.MaxFailures <= 0 {
		config.MaxFailures = DefaultFailureThreshold
	}
	cb.config = config
}

// CoolDown returns the configured cool-down window.
func (cb *CircuitBreaker) CoolDown() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.config.CoolDown
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitBreakerState {
	return CircuitBreakerState(atomic.LoadInt32(&cb.state))
}

// Failures returns the current consecutive failure count
func (cb *CircuitBreaker) Failures() int {
	return int(atomic.LoadInt32(&cb.failures))
}

// LastFailure returns the time of the most recent failure, zero if none.
func (cb *CircuitBreaker) LastFailure() time.Time {
	ts := atomic.LoadInt64(&cb.lastFailureTime)
	if ts == 0 {
		return time.Time{}
	}
	return time.Unix(0, ts)
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.transitionToClosed()
}

// CircuitBreakerStats is a point-in-time view of a breaker.
type CircuitBreakerStats struct {
	State       CircuitBreakerState `json:"state"`
	IsOpen      bool                `json:"isOpen"`
	Failures    int                 `json:"failures"`
	LastFailure time.Time           `json:"lastFailure"`
	CoolDown    time.Duration       `json:"coolDown"`
}

// Stats returns current statistics
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	state := cb.State()
	return CircuitBreakerStats{
		State:       state,
		IsOpen:      state == StateOpen,
		Failures:    cb.Failures(),
		LastFailure: cb.LastFailure(),
		CoolDown:    cb.CoolDown(),
	}
}
