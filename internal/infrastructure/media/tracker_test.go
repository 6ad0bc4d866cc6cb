package media

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nearcast/internal/core/domain"
)

type captureEvents struct {
	events []domain.Event
}

func (c *captureEvents) Publish(e domain.Event) {
	c.events = append(c.events, e)
}

func TestTrackerObserveAndExpire(t *testing.T) {
	events := &captureEvents{}
	tr := NewTracker(6*time.Second, events, zap.NewNop().Sugar())
	base := time.Now()

	_, ok := tr.Current(base)
	assert.False(t, ok)

	tr.Observe("192.168.1.20", 50100, base)
	peer, ok := tr.Current(base.Add(3 * time.Second))
	require.True(t, ok)
	assert.Equal(t, "192.168.1.20", peer.Host)
	assert.Equal(t, 50100, peer.Port)

	// Still fresh exactly at the window edge.
	_, ok = tr.Current(base.Add(6 * time.Second))
	assert.True(t, ok)

	// Beyond the window the peer is gone.
	_, ok = tr.Current(base.Add(6*time.Second + time.Millisecond))
	assert.False(t, ok)

	assert.True(t, tr.Sweep(base.Add(7*time.Second)))
	assert.False(t, tr.Sweep(base.Add(8*time.Second)))

	require.Len(t, events.events, 2)
	assert.Equal(t, domain.EventPeerTracked, events.events[0].Type)
	assert.Equal(t, domain.EventPeerExpired, events.events[1].Type)
}

func TestTrackerKeepaliveRefreshes(t *testing.T) {
	tr := NewTracker(6*time.Second, nil, zap.NewNop().Sugar())
	base := time.Now()

	tr.Observe("10.0.0.5", 40000, base)
	tr.Observe("10.0.0.5", 40000, base.Add(5*time.Second))

	_, ok := tr.Current(base.Add(10 * time.Second))
	assert.True(t, ok)
	assert.False(t, tr.Sweep(base.Add(10*time.Second)))
}

func TestTrackerMostRecentWins(t *testing.T) {
	events := &captureEvents{}
	tr := NewTracker(6*time.Second, events, zap.NewNop().Sugar())
	base := time.Now()

	tr.Observe("10.0.0.5", 40000, base)
	tr.Observe("10.0.0.9", 41000, base.Add(time.Second))

	peer, ok := tr.Current(base.Add(2 * time.Second))
	require.True(t, ok)
	assert.Equal(t, "10.0.0.9", peer.Host)
	assert.Equal(t, 41000, peer.Port)

	// Same address again is a refresh, not a replacement event.
	tr.Observe("10.0.0.9", 41000, base.Add(3*time.Second))
	assert.Len(t, events.events, 2)
}

func TestTrackerClear(t *testing.T) {
	tr := NewTracker(6*time.Second, nil, zap.NewNop().Sugar())
	tr.Observe("10.0.0.5", 40000, time.Now())
	tr.Clear()
	_, ok := tr.Current(time.Now())
	assert.False(t, ok)
}
