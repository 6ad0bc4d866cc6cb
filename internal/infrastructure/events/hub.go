package events

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"nearcast/internal/core/domain"
)

// subscriberBuffer bounds how far a subscriber may lag before events are
// dropped for it.
const subscriberBuffer = 16

type subscription struct {
	ch    chan domain.Event
	types map[domain.EventType]struct{}
}

func (s *subscription) wants(t domain.EventType) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Hub fans events out to in-process subscribers. Publishing never blocks: a
// subscriber that stops draining its channel loses events, not the publisher.
type Hub struct {
	mu      sync.RWMutex
	subs    map[*subscription]struct{}
	dropped atomic.Uint64
	logger  *zap.SugaredLogger
}

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		subs:   make(map[*subscription]struct{}),
		logger: logger,
	}
}

func (h *Hub) Publish(event domain.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if !sub.wants(event.Type) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			h.dropped.Add(1)
			h.logger.Debugw("event dropped for slow subscriber", "type", event.Type)
		}
	}
}

// Subscribe registers a listener for the given event types, or for every
// event when none are named. The channel closes when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, types ...domain.EventType) <-chan domain.Event {
	sub := &subscription{ch: make(chan domain.Event, subscriberBuffer)}
	if len(types) > 0 {
		sub.types = make(map[domain.EventType]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, sub)
		close(sub.ch)
		h.mu.Unlock()
	}()

	return sub.ch
}

func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped reports how many events were discarded for lagging subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
