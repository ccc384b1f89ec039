package concurrency

import (
	"context"
	"sync/atomic"
	"time"
)

// Stats is a point-in-time view of a Limiter.
type Stats struct {
	Acquired int64
	Released int64
	Rejected int64
	Peak     int64
	Active   int64
	Waited   time.Duration
}

// AverageWait is the mean time spent waiting for a slot.
func (s Stats) AverageWait() time.Duration {
	if s.Acquired == 0 {
		return 0
	}
	return s.Waited / time.Duration(s.Acquired)
}

// Limiter bounds how many event deliveries run against the engine at once.
type Limiter struct {
	sem     chan struct{}
	breaker *CircuitBreaker

	active   int64
	acquired int64
	released int64
	rejected int64
	peak     int64
	waitedNs int64
}

// NewLimiter creates a limiter with max slots. A nil breaker gets the
// default of 100 consecutive failures and a 30 second reset.
func NewLimiter(max int, breaker *CircuitBreaker) *Limiter {
	if max <= 0 {
		max = 1
	}
	if breaker == nil {
		breaker = NewCircuitBreaker(100, 30*time.Second)
	}
	return &Limiter{
		sem:     make(chan struct{}, max),
		breaker: breaker,
	}
}

// Acquire blocks for a slot. It fails fast with ErrCircuitOpen and returns
// the context error if ctx ends first.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.breaker.Allow(); err != nil {
		atomic.AddInt64(&l.rejected, 1)
		return err
	}

	start := time.Now()
	select {
	case l.sem <- struct{}{}:
		atomic.AddInt64(&l.waitedNs, time.Since(start).Nanoseconds())
		atomic.AddInt64(&l.acquired, 1)
		l.raisePeak(atomic.AddInt64(&l.active, 1))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by Acquire.
func (l *Limiter) Release() {
	select {
	case <-l.sem:
		atomic.AddInt64(&l.active, -1)
		atomic.AddInt64(&l.released, 1)
	default:
	}
}

// Do runs fn inside a slot and records its outcome on the breaker.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := l.Acquire(ctx); err != nil {
		return err
	}
	defer l.Release()

	err := fn(ctx)
	l.breaker.Record(err)
	return err
}

// Active returns the number of held slots.
func (l *Limiter) Active() int64 {
	return atomic.LoadInt64(&l.active)
}

// Breaker exposes the limiter's circuit breaker.
func (l *Limiter) Breaker() *CircuitBreaker {
	return l.breaker
}

func (l *Limiter) Stats() Stats {
	return Stats{
		Acquired: atomic.LoadInt64(&l.acquired),
		Released: atomic.LoadInt64(&l.released),
		Rejected: atomic.LoadInt64(&l.rejected),
		Peak:     atomic.LoadInt64(&l.peak),
		Active:   atomic.LoadInt64(&l.active),
		Waited:   time.Duration(atomic.LoadInt64(&l.waitedNs)),
	}
}

func (l *Limiter) raisePeak(current int64) {
	for {
		peak := atomic.LoadInt64(&l.peak)
		if current <= peak || atomic.CompareAndSwapInt64(&l.peak, peak, current) {
			return
		}
	}
}
