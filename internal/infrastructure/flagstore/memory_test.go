package flagstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFlag_GetSet(t *testing.T) {
	ctx := context.Background()
	flag := NewMemoryFlag(false)

	on, err := flag.Get(ctx)
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, flag.Set(ctx, true))
	on, err = flag.Get(ctx)
	require.NoError(t, err)
	assert.True(t, on)

	started := NewMemoryFlag(true)
	on, err = started.Get(ctx)
	require.NoError(t, err)
	assert.True(t, on)
}

func TestMemoryFlag_WatchDeliversChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	flag := NewMemoryFlag(false)
	ch, err := flag.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, flag.Set(ctx, true))
	select {
	case v := <-ch:
		assert.True(t, v)
	case <-time.After(time.Second):
		t.Fatal("no notification for flag change")
	}

	require.NoError(t, flag.Set(ctx, false))
	select {
	case v := <-ch:
		assert.False(t, v)
	case <-time.After(time.Second):
		t.Fatal("no notification for flag change")
	}
}

func TestMemoryFlag_SetSameValueDoesNotNotify(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	flag := NewMemoryFlag(true)
	ch, err := flag.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, flag.Set(ctx, true))
	select {
	case v := <-ch:
		t.Fatalf("unexpected notification: %v", v)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryFlag_MultipleWatchers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	flag := NewMemoryFlag(false)
	first, err := flag.Watch(ctx)
	require.NoError(t, err)
	second, err := flag.Watch(ctx)
	require.NoError(t, err)

	require.NoError(t, flag.Set(ctx, true))
	for _, ch := range []<-chan bool{first, second} {
		select {
		case v := <-ch:
			assert.True(t, v)
		case <-time.After(time.Second):
			t.Fatal("watcher missed the flag change")
		}
	}
}

func TestMemoryFlag_WatchCoalescesToNewest(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	flag := NewMemoryFlag(false)
	ch, err := flag.Watch(ctx)
	require.NoError(t, err)

	// Nobody reads between the flips, so only the newest value survives.
	require.NoError(t, flag.Set(ctx, true))
	require.NoError(t, flag.Set(ctx, false))
	require.NoError(t, flag.Set(ctx, true))

	select {
	case v := <-ch:
		assert.True(t, v)
	case <-time.After(time.Second):
		t.Fatal("no notification for flag change")
	}
}

func TestMemoryFlag_CancelClosesChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	flag := NewMemoryFlag(false)
	ch, err := flag.Watch(ctx)
	require.NoError(t, err)

	cancel()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("watch channel not closed after cancel")
		}
	}
}
