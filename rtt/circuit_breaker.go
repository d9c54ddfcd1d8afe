package rtt

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is one of Closed, Open, HalfOpen.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig mirrors the teacher's CircuitBreakerParams defaults
// (threshold 5, timeout 30s, 3 half-open probes).
type BreakerConfig struct {
	Threshold        int
	Timeout          time.Duration
	HalfOpenRequests int
}

// DefaultBreakerConfig returns the teacher's defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Timeout: 30 * time.Second, HalfOpenRequests: 3}
}

// CircuitBreaker is a minimal three-state breaker: Closed passes everything,
// Open rejects everything until Timeout elapses, HalfOpen allows a limited
// number of probe requests to decide whether to close or re-open.
type CircuitBreaker struct {
	mu     sync.Mutex
	config BreakerConfig

	state        State
	failures     int
	openedAt     time.Time
	halfOpenUsed int
}

// NewCircuitBreaker constructs a breaker in the Closed state.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	if config.Threshold <= 0 {
		config = DefaultBreakerConfig()
	}
	return &CircuitBreaker{config: config, state: Closed}
}

// CanExecute reports whether a call should be attempted, transitioning Open
// to HalfOpen once the timeout window has elapsed.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return true
	case Open:
		if time.Since(cb.openedAt) >= cb.config.Timeout {
			cb.state = HalfOpen
			cb.halfOpenUsed = 0
			return true
		}
		return false
	case HalfOpen:
		if cb.halfOpenUsed < cb.config.HalfOpenRequests {
			cb.halfOpenUsed++
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = Closed
}

// RecordFailure increments the failure count, opening the breaker once the
// threshold is reached (or immediately, if a half-open probe fails).
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == HalfOpen {
		cb.state = Open
		cb.openedAt = time.Now()
		return
	}

	cb.failures++
	if cb.failures >= cb.config.Threshold {
		cb.state = Open
		cb.openedAt = time.Now()
	}
}

// State returns the current state.
func (cb *CircuitBreaker) CurrentState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker back to Closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = Closed
	cb.failures = 0
	cb.halfOpenUsed = 0
}
