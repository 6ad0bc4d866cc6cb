package flagstore

import (
	"context"
	"sync"
)

// MemoryFlag is an in-process broadcast switch. The default store when no
// flag file is configured.
type MemoryFlag struct {
	mu    sync.Mutex
	value bool
	subs  map[chan bool]struct{}
}

func NewMemoryFlag(initial bool) *MemoryFlag {
	return &MemoryFlag{
		value: initial,
		subs:  make(map[chan bool]struct{}),
	}
}

func (f *MemoryFlag) Get(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, nil
}

func (f *MemoryFlag) Set(ctx context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.value == on {
		return nil
	}
	f.value = on
	// Delivery is non-blocking, so notifying under the lock is safe and
	// cannot race a concurrent close.
	for ch := range f.subs {
		notify(ch, on)
	}
	return nil
}

func (f *MemoryFlag) Watch(ctx context.Context) (<-chan bool, error) {
	ch := make(chan bool, 1)
	f.mu.Lock()
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, ch)
		close(ch)
		f.mu.Unlock()
	}()

	return ch, nil
}

// notify delivers the newest value; a slow watcher loses intermediate flips,
// never the final state.
func notify(ch chan bool, v bool) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
