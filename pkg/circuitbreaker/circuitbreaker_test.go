package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func trippedBreaker(t *testing.T, cfg Config) *CircuitBreaker {
	t.Helper()
	cb := New(cfg)
	for i := 0; i < cfg.FailureThreshold; i++ {
		_ = cb.Execute(context.Background(), func() error { return errBackend })
	}
	require.Equal(t, StateOpen, cb.GetState())
	return cb
}

func TestCircuitBreaker_ClosedPassesCalls(t *testing.T) {
	cb := New(DefaultConfig())

	err := cb.Execute(context.Background(), func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_FailureBelowThresholdStaysClosed(t *testing.T) {
	cb := New(DefaultConfig())

	err := cb.Execute(context.Background(), func() error { return errBackend })
	require.Error(t, err)
	assert.ErrorIs(t, err, errBackend)
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 1, cb.GetStats().FailureCount)
}

func TestCircuitBreaker_OpenRejectsWithoutCalling(t *testing.T) {
	cb := trippedBreaker(t, Config{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		Timeout:             time.Minute,
		MaxRequestsHalfOpen: 3,
	})

	called := false
	err := cb.Execute(context.Background(), func() error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	cb := trippedBreaker(t, Config{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		Timeout:             20 * time.Millisecond,
		MaxRequestsHalfOpen: 3,
	})

	time.Sleep(30 * time.Millisecond)

	// Two successful probes close the breaker again.
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_FailedProbeReopens(t *testing.T) {
	cb := trippedBreaker(t, Config{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		Timeout:             20 * time.Millisecond,
		MaxRequestsHalfOpen: 3,
	})

	time.Sleep(30 * time.Millisecond)

	err := cb.Execute(context.Background(), func() error { return errBackend })
	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	cb := trippedBreaker(t, Config{
		FailureThreshold:    2,
		SuccessThreshold:    10,
		Timeout:             20 * time.Millisecond,
		MaxRequestsHalfOpen: 2,
	})

	time.Sleep(30 * time.Millisecond)

	// The call that flips open to half-open is free; the next two consume
	// the probe budget without closing the breaker.
	for i := 0; i < 3; i++ {
		require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	}
	require.Equal(t, StateHalfOpen, cb.GetState())

	err := cb.Execute(context.Background(), func() error { return nil })
	require.Error(t, err)
}

func TestCircuitBreaker_ExecuteWithResult(t *testing.T) {
	cb := New(DefaultConfig())

	result, err := cb.ExecuteWithResult(context.Background(), func() (interface{}, error) {
		return "payload", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "payload", result)

	result, err = cb.ExecuteWithResult(context.Background(), func() (interface{}, error) {
		return nil, errBackend
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errBackend)
	assert.Nil(t, result)
}

func TestCircuitBreaker_StateChangeCallback(t *testing.T) {
	cb := New(Config{
		FailureThreshold:    2,
		SuccessThreshold:    1,
		Timeout:             20 * time.Millisecond,
		MaxRequestsHalfOpen: 3,
	})

	var mu sync.Mutex
	seen := make(map[State]bool)
	cb.OnStateChange(func(from, to State) {
		mu.Lock()
		defer mu.Unlock()
		seen[to] = true
	})

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func() error { return errBackend })
	}
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))

	// Callbacks fire asynchronously.
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[StateOpen] && seen[StateHalfOpen] && seen[StateClosed]
	}, time.Second, 10*time.Millisecond)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := trippedBreaker(t, Config{
		FailureThreshold:    2,
		SuccessThreshold:    2,
		Timeout:             time.Minute,
		MaxRequestsHalfOpen: 3,
	})

	cb.Reset()

	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 0, cb.GetStats().FailureCount)
	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
}

func TestCircuitBreaker_ConcurrentSuccesses(t *testing.T) {
	cb := New(DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = cb.Execute(context.Background(), func() error { return nil })
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 100, cb.GetStats().SuccessCount)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(99).String())
}
