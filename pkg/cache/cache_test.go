package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_SetGet(t *testing.T) {
	c := NewCache(time.Minute)
	defer c.Stop()

	c.Set("peer", "192.168.1.5")
	value, ok := c.Get("peer")
	require.True(t, ok)
	assert.Equal(t, "192.168.1.5", value)

	_, ok = c.Get("absent")
	assert.False(t, ok)
}

func TestCache_ExpiredEntryIsInvisible(t *testing.T) {
	c := NewCache(time.Minute)
	defer c.Stop()

	c.SetWithTTL("peer", "value", 10*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("peer")
	assert.False(t, ok)
}

func TestCache_DeleteAndSize(t *testing.T) {
	c := NewCache(time.Minute)
	defer c.Stop()

	c.Set("a", 1)
	c.Set("b", 2)
	assert.Equal(t, 2, c.Size())

	c.Delete("a")
	assert.Equal(t, 1, c.Size())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCache_InvalidateByPrefix(t *testing.T) {
	c := NewCache(time.Minute)
	defer c.Stop()

	c.Set("discovery:alpha", 1)
	c.Set("discovery:beta", 2)
	c.Set("session:gamma", 3)

	c.Invalidate("discovery:")

	_, ok := c.Get("discovery:alpha")
	assert.False(t, ok)
	_, ok = c.Get("session:gamma")
	assert.True(t, ok)
}

func TestCache_InvalidateEmptyPrefixOnlyDropsExpired(t *testing.T) {
	c := NewCache(time.Minute)
	defer c.Stop()

	c.SetWithTTL("stale", 1, time.Millisecond)
	c.Set("fresh", 2)
	time.Sleep(5 * time.Millisecond)

	c.Invalidate("")

	assert.Equal(t, 1, c.Size())
	_, ok := c.Get("fresh")
	assert.True(t, ok)
}

func TestCacheWithFallback_LoadsOnMiss(t *testing.T) {
	c := NewCacheWithFallback(time.Minute)
	defer c.Stop()

	calls := 0
	loader := func(ctx context.Context) (interface{}, error) {
		calls++
		return "loaded", nil
	}

	for i := 0; i < 3; i++ {
		value, err := c.GetOrSet(context.Background(), "key", loader, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, "loaded", value)
	}
	assert.Equal(t, 1, calls)
}

func TestCacheWithFallback_ErrorIsNotCached(t *testing.T) {
	c := NewCacheWithFallback(time.Minute)
	defer c.Stop()

	errBrowse := errors.New("browse failed")
	fail := true
	loader := func(ctx context.Context) (interface{}, error) {
		if fail {
			return nil, errBrowse
		}
		return "recovered", nil
	}

	_, err := c.GetOrSet(context.Background(), "key", loader, time.Minute)
	require.ErrorIs(t, err, errBrowse)

	fail = false
	value, err := c.GetOrSet(context.Background(), "key", loader, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "recovered", value)
}

func TestCacheWithFallback_ConcurrentMissesShareOneLoad(t *testing.T) {
	c := NewCacheWithFallback(time.Minute)
	defer c.Stop()

	var calls atomic.Int32
	loader := func(ctx context.Context) (interface{}, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return "slow", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := c.GetOrSet(context.Background(), "key", loader, time.Minute)
			assert.NoError(t, err)
			assert.Equal(t, "slow", value)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestCacheWithFallback_InvalidateForcesReload(t *testing.T) {
	c := NewCacheWithFallback(time.Minute)
	defer c.Stop()

	calls := 0
	loader := func(ctx context.Context) (interface{}, error) {
		calls++
		return calls, nil
	}

	first, err := c.GetOrSet(context.Background(), "key", loader, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, first)

	c.Invalidate("key")

	second, err := c.GetOrSet(context.Background(), "key", loader, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, second)
}
