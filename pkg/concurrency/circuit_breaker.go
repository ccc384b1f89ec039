package concurrency

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects work.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the state of a CircuitBreaker.
type BreakerState int32

const (
	// StateClosed lets every call through.
	StateClosed BreakerState = 0

	// StateOpen rejects calls until the reset timeout has elapsed.
	StateOpen BreakerState = 1

	// StateHalfOpen lets calls through on probation.
	StateHalfOpen BreakerState = 2
)

// halfOpenSuccesses is the number of consecutive successes that close a
// half-open breaker.
const halfOpenSuccesses = 5

// CircuitBreaker stops calls to a dependency after repeated failures. The
// engine's outbound publisher and the inbound bridge share this type.
type CircuitBreaker struct {
	state       int32 // atomic: BreakerState
	failures    int64 // atomic
	successes   int64 // atomic
	lastFailure int64 // atomic: unix nanos
	threshold   int64
	reset       time.Duration
	mu          sync.Mutex
}

// NewCircuitBreaker opens after threshold consecutive failures and probes
// again once reset has elapsed.
func NewCircuitBreaker(threshold int64, reset time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 10
	}
	if reset <= 0 {
		reset = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, reset: reset}
}

// Allow returns ErrCircuitOpen while the breaker is open. An open breaker
// whose reset timeout has elapsed moves to half-open and lets the call through.
func (cb *CircuitBreaker) Allow() error {
	if cb == nil {
		return nil
	}
	if BreakerState(atomic.LoadInt32(&cb.state)) != StateOpen {
		return nil
	}
	last := atomic.LoadInt64(&cb.lastFailure)
	if last > 0 && time.Since(time.Unix(0, last)) > cb.reset {
		cb.transition(StateHalfOpen)
		return nil
	}
	return ErrCircuitOpen
}

// IsOpen reports whether calls are currently rejected.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.Allow() != nil
}

// Record feeds the outcome of one call into the breaker.
func (cb *CircuitBreaker) Record(err error) {
	if cb == nil {
		return
	}
	if err == nil {
		cb.success()
		return
	}
	cb.failure()
}

func (cb *CircuitBreaker) success() {
	atomic.StoreInt64(&cb.failures, 0)
	if cb.State() != StateHalfOpen {
		return
	}
	if atomic.AddInt64(&cb.successes, 1) >= halfOpenSuccesses {
		cb.transition(StateClosed)
	}
}

func (cb *CircuitBreaker) failure() {
	atomic.StoreInt64(&cb.successes, 0)
	atomic.StoreInt64(&cb.lastFailure, time.Now().UnixNano())
	failures := atomic.AddInt64(&cb.failures, 1)

	switch cb.State() {
	case StateClosed:
		if failures >= cb.threshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	}
}

// State returns the current state without advancing it.
func (cb *CircuitBreaker) State() BreakerState {
	return BreakerState(atomic.LoadInt32(&cb.state))
}

// Failures returns the current run of consecutive failures.
func (cb *CircuitBreaker) Failures() int64 {
	return atomic.LoadInt64(&cb.failures)
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.transition(StateClosed)
	atomic.StoreInt64(&cb.lastFailure, 0)
}

func (cb *CircuitBreaker) transition(next BreakerState) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if BreakerState(atomic.LoadInt32(&cb.state)) == next {
		return
	}
	atomic.StoreInt32(&cb.state, int32(next))

	switch next {
	case StateClosed:
		atomic.StoreInt64(&cb.failures, 0)
		atomic.StoreInt64(&cb.successes, 0)
	case StateHalfOpen:
		atomic.StoreInt64(&cb.successes, 0)
	}
}

func (s BreakerState) String() string {
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
