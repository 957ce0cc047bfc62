package workflow

import (
	"fmt"
	"sync"
	"time"

	wf "github.com/campusops/enrollment-workflow/internal/domain/workflow"
)

// BreakerState represents the current state of the circuit breaker.
type BreakerState int

const (
	// BreakerClosed allows all calls through. Failures are counted.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects all calls immediately.
	BreakerOpen
	// BreakerHalfOpen allows a bounded number of trial calls through.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker tuning.
type BreakerConfig struct {
	// FailureThreshold trips Closed -> Open on this many consecutive failures.
	FailureThreshold int
	// ErrorRateThreshold (0.0-1.0) trips on the failure rate over the
	// rolling window once MinSamples calls were observed; 0 disables.
	ErrorRateThreshold float64
	// Window is the tumbling window for the error rate.
	Window time.Duration
	// MinSamples is the minimum number of calls in the window before the
	// rate is evaluated, so one failed call out of one does not trip.
	MinSamples int
	// Cooldown is how long the breaker stays Open before trialing.
	Cooldown time.Duration
	// HalfOpenTrials is how many trial calls HalfOpen admits; that many
	// consecutive successes close the breaker, any failure reopens it.
	HalfOpenTrials int
}

// DefaultBreakerConfig returns the standard executor breaker tuning
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:   5,
		ErrorRateThreshold: 0.5,
		Window:             30 * time.Second,
		MinSamples:         10,
		Cooldown:           30 * time.Second,
		HalfOpenTrials:     2,
	}
}

// StateObserver is notified on every breaker state change (for metrics).
type StateObserver func(BreakerState)

// CircuitBreaker fails transition calls fast while persistence is degraded.
// Closed -> Open on the failure threshold breach, Open -> HalfOpen after the
// cooldown, HalfOpen -> Closed on trial success or -> Open on trial failure.
// Safe for concurrent use.
type CircuitBreaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	state    BreakerState
	observer StateObserver

	failures  int // consecutive failures while Closed
	successes int // consecutive successes while HalfOpen
	inFlight  int // trial calls admitted while HalfOpen
	openedAt  time.Time

	windowStart    time.Time
	windowTotal    int
	windowFailures int

	now func() time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given config
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.HalfOpenTrials < 1 {
		cfg.HalfOpenTrials = 1
	}
	if cfg.MinSamples < 1 {
		cfg.MinSamples = 10
	}

	cb := &CircuitBreaker{
		cfg:   cfg,
		state: BreakerClosed,
		now:   time.Now,
	}
	cb.windowStart = cb.now()
	return cb
}

// OnStateChange registers an observer called with every new breaker state.
func (cb *CircuitBreaker) OnStateChange(obs StateObserver) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.observer = obs
}

// Allow checks whether a call may proceed. It returns ErrCircuitOpen while
// the breaker is open or when the half-open trial budget is spent.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) >= cb.cfg.Cooldown {
			cb.setState(BreakerHalfOpen)
			cb.successes = 0
			cb.inFlight = 1
			return nil
		}
		return fmt.Errorf("%w: cooling down", wf.ErrCircuitOpen)
	case BreakerHalfOpen:
		if cb.inFlight >= cb.cfg.HalfOpenTrials {
			return fmt.Errorf("%w: trial budget exhausted", wf.ErrCircuitOpen)
		}
		cb.inFlight++
		return nil
	}
	return nil
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures = 0
		cb.recordWindowCall(false)
	case BreakerHalfOpen:
		cb.successes++
		cb.inFlight--
		if cb.successes >= cb.cfg.HalfOpenTrials {
			cb.setState(BreakerClosed)
			cb.failures = 0
			cb.successes = 0
			cb.inFlight = 0
			cb.resetWindow()
		}
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failures++
		cb.recordWindowCall(true)
		if cb.failures >= cb.cfg.FailureThreshold || cb.errorRateExceeded() {
			cb.trip()
		}
	case BreakerHalfOpen:
		// Any trial failure immediately reopens.
		cb.trip()
	}
}

// State returns the current breaker state, accounting for cooldown expiry.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == BreakerOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.Cooldown {
		cb.setState(BreakerHalfOpen)
		cb.successes = 0
		cb.inFlight = 0
	}
	return cb.state
}

// trip moves the breaker to Open. Must be called with the lock held.
func (cb *CircuitBreaker) trip() {
	cb.setState(BreakerOpen)
	cb.openedAt = cb.now()
	cb.failures = 0
	cb.successes = 0
	cb.inFlight = 0
	cb.resetWindow()
}

// setState changes the state and notifies the observer. Must be called with
// the lock held.
func (cb *CircuitBreaker) setState(next BreakerState) {
	if cb.state == next {
		return
	}
	cb.state = next
	if cb.observer != nil {
		cb.observer(next)
	}
}

// recordWindowCall tracks a call in the tumbling window. Must be called with
// the lock held.
func (cb *CircuitBreaker) recordWindowCall(isFailure bool) {
	if cb.cfg.Window <= 0 {
		return
	}
	if cb.now().Sub(cb.windowStart) > cb.cfg.Window {
		cb.resetWindow()
	}
	cb.windowTotal++
	if isFailure {
		cb.windowFailures++
	}
}

// resetWindow clears the window counters. Must be called with the lock held.
func (cb *CircuitBreaker) resetWindow() {
	cb.windowStart = cb.now()
	cb.windowTotal = 0
	cb.windowFailures = 0
}

// errorRateExceeded checks the windowed failure rate against the threshold.
// Must be called with the lock held.
func (cb *CircuitBreaker) errorRateExceeded() bool {
	if cb.cfg.ErrorRateThreshold <= 0 || cb.cfg.Window <= 0 {
		return false
	}
	if cb.windowTotal < cb.cfg.MinSamples {
		return false
	}
	rate := float64(cb.windowFailures) / float64(cb.windowTotal)
	return rate >= cb.cfg.ErrorRateThreshold
}
