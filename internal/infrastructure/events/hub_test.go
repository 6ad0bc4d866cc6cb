package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nearcast/internal/core/domain"
)

func TestHub_PublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zap.NewNop().Sugar())
	ch := hub.Subscribe(ctx)

	hub.Publish(domain.NewEvent(domain.EventSessionStarted, map[string]string{"session_id": "s1"}))

	select {
	case event := <-ch:
		assert.Equal(t, domain.EventSessionStarted, event.Type)
		assert.False(t, event.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}
}

func TestHub_TypeFilter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zap.NewNop().Sugar())
	ch := hub.Subscribe(ctx, domain.EventSessionEnded)

	hub.Publish(domain.NewEvent(domain.EventSessionStarted, nil))
	hub.Publish(domain.NewEvent(domain.EventTelemetrySnapshot, nil))
	hub.Publish(domain.NewEvent(domain.EventSessionEnded, nil))

	select {
	case event := <-ch:
		assert.Equal(t, domain.EventSessionEnded, event.Type)
	case <-time.After(time.Second):
		t.Fatal("filtered subscriber did not receive matching event")
	}

	select {
	case event := <-ch:
		t.Fatalf("unexpected extra event: %s", event.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_SlowSubscriberDropsEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zap.NewNop().Sugar())
	ch := hub.Subscribe(ctx)

	// Nobody drains, so everything past the buffer is discarded.
	for i := 0; i < subscriberBuffer+5; i++ {
		hub.Publish(domain.NewEvent(domain.EventTelemetrySnapshot, nil))
	}

	assert.Equal(t, uint64(5), hub.Dropped())
	assert.Len(t, ch, subscriberBuffer)
}

func TestHub_CancelClosesAndUnsubscribes(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	ch := hub.Subscribe(ctx)
	require.Equal(t, 1, hub.Subscribers())

	cancel()
	assert.Eventually(t, func() bool {
		return hub.Subscribers() == 0
	}, time.Second, 10*time.Millisecond)

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscriber channel not closed after cancel")
		}
	}
}

func TestHub_PublishWithNoSubscribers(t *testing.T) {
	hub := NewHub(zap.NewNop().Sugar())
	hub.Publish(domain.NewEvent(domain.EventPairRequested, nil))
	assert.Zero(t, hub.Dropped())
}
