package concurrency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Hour)
	boom := errors.New("boom")

	cb.Record(boom)
	cb.Record(boom)
	assert.NoError(t, cb.Allow())
	assert.Equal(t, int64(2), cb.Failures())

	cb.Record(boom)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitOpen)
	assert.True(t, cb.IsOpen())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestCircuitBreakerSuccessResetsFailureRun(t *testing.T) {
	cb := NewCircuitBreaker(2, time.Hour)
	cb.Record(errors.New("boom"))
	cb.Record(nil)
	cb.Record(errors.New("boom"))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.Record(errors.New("boom"))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())

	for i := 0; i < halfOpenSuccesses; i++ {
		cb.Record(nil)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.Record(errors.New("boom"))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, cb.Allow())

	cb.Record(errors.New("again"))
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, "open", cb.State().String())
}

func TestNilBreakerAllowsEverything(t *testing.T) {
	var cb *CircuitBreaker
	assert.NoError(t, cb.Allow())
	cb.Record(errors.New("ignored"))
}

func TestLimiterBoundsConcurrency(t *testing.T) {
	l := NewLimiter(2, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(ctx, func(context.Context) error {
				assert.LessOrEqual(t, l.Active(), int64(2))
				time.Sleep(time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()

	stats := l.Stats()
	assert.Equal(t, int64(10), stats.Acquired)
	assert.Equal(t, int64(10), stats.Released)
	assert.Equal(t, int64(0), stats.Active)
	assert.LessOrEqual(t, stats.Peak, int64(2))
	assert.GreaterOrEqual(t, stats.AverageWait(), time.Duration(0))
}

func TestLimiterAcquireHonoursContext(t *testing.T) {
	l := NewLimiter(1, nil)
	require.NoError(t, l.Acquire(context.Background()))
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Acquire(ctx), context.DeadlineExceeded)
}

func TestLimiterRejectsWhenBreakerOpen(t *testing.T) {
	l := NewLimiter(4, NewCircuitBreaker(1, time.Hour))
	boom := errors.New("boom")

	err := l.Do(context.Background(), func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	err = l.Do(context.Background(), func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int64(1), l.Stats().Rejected)
	assert.Equal(t, StateOpen, l.Breaker().State())
}

func TestSizingOverride(t *testing.T) {
	detected := Detect()
	assert.Equal(t, SourceAutoDetect, detected.Source)
	assert.GreaterOrEqual(t, detected.Workers, 1)

	s := detected.Override(3, 0)
	assert.Equal(t, 3, s.Workers)
	assert.Equal(t, detected.MaxConcurrent, s.MaxConcurrent)
	assert.Equal(t, SourceConfigured, s.Source)

	assert.Equal(t, detected, detected.Override(0, 0))
	assert.Contains(t, s.String(), "Workers: 3")
}
