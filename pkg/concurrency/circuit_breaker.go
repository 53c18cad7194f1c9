package concurrency

import (
	"sync"
	"time"
)

// CircuitBreakerState represents the state of the circuit breaker
type CircuitBreakerState int32

const (
	// StateClosed indicates the circuit is closed and operations are allowed
	StateClosed CircuitBreakerState = 0

	// StateOpen indicates the circuit is open and operations are blocked
	StateOpen CircuitBreakerState = 1

	// StateHalfOpen indicates the circuit lets a probe through to test recovery
	StateHalfOpen CircuitBreakerState = 2
)

// CircuitBreaker stops retrying an operation that keeps failing.
// After failureThreshold consecutive failures it opens for resetTimeout, then lets
// probes through; successThreshold consecutive probe successes close it again.
type CircuitBreaker struct {
	mu                   sync.Mutex
	state                CircuitBreakerState
	consecutiveFailures  int64
	consecutiveSuccesses int64
	failureThreshold     int64
	successThreshold     int64
	resetTimeout         time.Duration
	lastFailureTime      time.Time
	now                  func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the specified threshold and timeout.
// A single successful probe closes a half-open breaker.
func NewCircuitBreaker(failureThreshold int64, resetTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}

	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		successThreshold: 1,
		resetTimeout:     resetTimeout,
		now:              time.Now,
	}
}

// WithSuccessThreshold sets how many consecutive half-open successes close the circuit
func (cb *CircuitBreaker) WithSuccessThreshold(n int64) *CircuitBreaker {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if n > 0 {
		cb.successThreshold = n
	}
	return cb
}

// WithClock replaces the time source, for tests
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if now != nil {
		cb.now = now
	}
	return cb
}

// IsOpen returns true if the circuit breaker is currently open (blocking operations).
// An open breaker whose reset timeout elapsed moves to half-open and allows the call.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return false
	}
	if cb.now().Sub(cb.lastFailureTime) >= cb.resetTimeout {
		cb.transitionTo(StateHalfOpen)
		return false
	}
	return true
}

// RecordSuccess records a successful operation
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0

	if cb.state == StateHalfOpen {
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.successThreshold {
			cb.transitionTo(StateClosed)
		}
	}
}

// RecordFailure records a failed operation
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveSuccesses = 0
	cb.lastFailureTime = cb.now()
	cb.consecutiveFailures++

	switch cb.state {
	case StateClosed:
		if cb.consecutiveFailures >= cb.failureThreshold {
			cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		// Any failure in half-open state reopens the circuit
		cb.transitionTo(StateOpen)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetConsecutiveFailures returns the current number of consecutive failures
func (cb *CircuitBreaker) GetConsecutiveFailures() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(StateClosed)
	cb.lastFailureTime = time.Time{}
}

// transitionTo must be called with cb.mu held
func (cb *CircuitBreaker) transitionTo(newState CircuitBreakerState) {
	if cb.state == newState {
		return
	}
	cb.state = newState

	switch newState {
	case StateClosed:
		cb.consecutiveFailures = 0
		cb.consecutiveSuccesses = 0
	case StateHalfOpen:
		cb.consecutiveSuccesses = 0
	}
}

// String returns the string representation of the circuit breaker state
func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}
