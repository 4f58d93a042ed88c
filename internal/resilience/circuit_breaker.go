package resilience

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	StateClosed   CircuitState = iota // Normal operation
	StateOpen                         // Requests fail immediately
	StateHalfOpen                     // Probing whether the service recovered
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of a breaker's counters
type Stats struct {
	State       CircuitState
	Requests    int64
	Failures    int64
	FailureRate float64 // percentage over all requests
}

// CircuitBreaker implements the circuit breaker pattern around one external
// service. Closed lets everything through; maxFailures consecutive failures
// open it; after resetTimeout a limited number of half-open probes decide
// whether it closes again.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	mu            sync.RWMutex
	state         CircuitState
	failureStreak int
	lastFailTime  time.Time
	probeCount    int
	probeSuccess  int
	requests      int64
	failures      int64
}

// NewCircuitBreaker creates a breaker named after the service it guards
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		halfOpenMax:  3,
		state:        StateClosed,
	}
}

// Call executes fn under breaker protection
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allowRequest() {
		return fmt.Errorf("circuit breaker %s is open", cb.name)
	}

	err := fn()
	cb.RecordResult(err == nil)
	return err
}

func (cb *CircuitBreaker) allowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(cb.lastFailTime) >= cb.resetTimeout {
			cb.state = StateHalfOpen
			cb.probeCount = 0
			cb.probeSuccess = 0
			return true
		}
		return false

	case StateHalfOpen:
		if cb.probeCount < cb.halfOpenMax {
			cb.probeCount++
			return true
		}
		return false
	}

	return false
}

// RecordResult feeds one request outcome into the breaker. Exposed for
// callers that manage the protected call themselves (streaming clients).
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requests++
	if success {
		cb.recordSuccess()
	} else {
		cb.recordFailure()
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	switch cb.state {
	case StateClosed:
		cb.failureStreak = 0

	case StateHalfOpen:
		cb.probeSuccess++
		if cb.probeSuccess >= cb.halfOpenMax {
			cb.state = StateClosed
			cb.failureStreak = 0
			cb.probeCount = 0
			cb.probeSuccess = 0
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.failures++
	cb.lastFailTime = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failureStreak++
		if cb.failureStreak >= cb.maxFailures {
			cb.state = StateOpen
		}

	case StateHalfOpen:
		// Any failure while probing reopens immediately
		cb.state = StateOpen
		cb.probeCount = 0
		cb.probeSuccess = 0
	}
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// GetStats returns a snapshot of the breaker's counters
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	s := Stats{
		State:    cb.state,
		Requests: cb.requests,
		Failures: cb.failures,
	}
	if s.Requests > 0 {
		s.FailureRate = float64(s.Failures) / float64(s.Requests) * 100.0
	}
	return s
}

// Reset returns the breaker to closed and zeroes all counters
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = StateClosed
	cb.failureStreak = 0
	cb.probeCount = 0
	cb.probeSuccess = 0
	cb.requests = 0
	cb.failures = 0
}
