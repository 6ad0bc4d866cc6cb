package ports

import (
	"context"

	"nearcast/internal/core/domain"
)

// Discovery lists broadcasters reachable on the local network. The core only
// consumes candidates; it never initiates discovery itself.
type Discovery interface {
	Candidates(ctx context.Context) ([]domain.CandidatePeer, error)
}

// BroadcastFlag is the shared on/off switch for the outbound media plane.
// Watch delivers the new value after every change until ctx is done.
type BroadcastFlag interface {
	Get(ctx context.Context) (bool, error)
	Set(ctx context.Context, on bool) error
	Watch(ctx context.Context) (<-chan bool, error)
}

// FrameIntake receives encoded frames from the capture/encoder process.
type FrameIntake interface {
	OnEncodedFrame(frame domain.Frame) error
}

// FrameSink receives fully reassembled frames on the viewing side. Partial
// frames are never delivered.
type FrameSink interface {
	OnReassembledFrame(frame domain.Frame)
}

type EventPublisher interface {
	Publish(event domain.Event)
}

// ConnectionController lets the core drive control connections owned by the
// transport: deliver pairing decisions and force disconnects.
type ConnectionController interface {
	ResolvePair(connID domain.ConnectionID, res domain.HandshakeResolution) error
	CloseConnection(connID domain.ConnectionID, reason string) error
}

// RelayStats exposes cumulative media plane counters for session accounting.
type RelayStats interface {
	RelayTotals() (frames, bytes uint64)
}

// MediaProbe is the telemetry service's window into the media plane:
// cumulative counters plus whether a peer endpoint is currently tracked.
type MediaProbe interface {
	Counters() domain.MediaCounters
	PeerTracked() bool
}

// MetricsCollector is the services' view of the monitoring backend.
type MetricsCollector interface {
	SessionStarted()
	SessionEnded()
	PairPending(count int)
	HandshakeResult(decision string)
	HeartbeatTimeout()
	TelemetrySample(snapshot domain.TelemetrySnapshot)
}
