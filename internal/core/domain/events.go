package domain

import "time"

type EventType string

const (
	EventPairRequested     EventType = "pair.requested"
	EventPairAccepted      EventType = "pair.accepted"
	EventPairDeclined      EventType = "pair.declined"
	EventPairCancelled     EventType = "pair.cancelled"
	EventSessionStarted    EventType = "session.started"
	EventSessionEnded      EventType = "session.ended"
	EventBroadcastChanged  EventType = "broadcast.changed"
	EventPeerTracked       EventType = "peer.tracked"
	EventPeerExpired       EventType = "peer.expired"
	EventTelemetrySnapshot EventType = "telemetry.snapshot"
)

type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

func NewEvent(t EventType, payload interface{}) Event {
	return Event{Type: t, Timestamp: time.Now(), Payload: payload}
}
