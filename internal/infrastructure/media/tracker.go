package media

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"nearcast/internal/core/domain"
	"nearcast/internal/core/ports"
)

// Tracker remembers the single media endpoint currently allowed to receive
// the broadcast: the address of the most recent keepalive. Shared by the
// socket reader, the sweep ticker and the send path.
type Tracker struct {
	mu     sync.Mutex
	peer   *domain.PeerAddress
	window time.Duration
	events ports.EventPublisher
	log    *zap.SugaredLogger
}

func NewTracker(window time.Duration, events ports.EventPublisher, log *zap.SugaredLogger) *Tracker {
	return &Tracker{window: window, events: events, log: log}
}

// Observe records a keepalive. A different source address takes over
// immediately; the most recently seen viewer wins.
func (t *Tracker) Observe(host string, port int, now time.Time) {
	t.mu.Lock()
	replaced := t.peer == nil || t.peer.Host != host || t.peer.Port != port
	t.peer = &domain.PeerAddress{Host: host, Port: port, LastSeen: now}
	peer := *t.peer
	t.mu.Unlock()

	if replaced {
		t.log.Infow("tracking media peer", "peer", peer.String())
		t.publish(domain.EventPeerTracked, peer)
	}
}

// Current returns the tracked peer if it is still fresh.
func (t *Tracker) Current(now time.Time) (domain.PeerAddress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.peer == nil || !t.peer.Fresh(now, t.window) {
		return domain.PeerAddress{}, false
	}
	return *t.peer, true
}

// Sweep drops the tracked peer once its freshness window has passed.
// Returns true when a peer expired on this sweep.
func (t *Tracker) Sweep(now time.Time) bool {
	t.mu.Lock()
	if t.peer == nil || t.peer.Fresh(now, t.window) {
		t.mu.Unlock()
		return false
	}
	peer := *t.peer
	t.peer = nil
	t.mu.Unlock()

	t.log.Infow("media peer expired", "peer", peer.String(), "last_seen", peer.LastSeen)
	t.publish(domain.EventPeerExpired, peer)
	return true
}

// Clear forgets the tracked peer, e.g. when the session ends.
func (t *Tracker) Clear() {
	t.mu.Lock()
	t.peer = nil
	t.mu.Unlock()
}

func (t *Tracker) publish(typ domain.EventType, peer domain.PeerAddress) {
	if t.events != nil {
		t.events.Publish(domain.NewEvent(typ, map[string]interface{}{
			"host": peer.Host,
			"port": peer.Port,
		}))
	}
}
