package domain

import "time"

type LinkQuality string

const (
	LinkGood    LinkQuality = "good"
	LinkFair    LinkQuality = "fair"
	LinkPoor    LinkQuality = "poor"
	LinkIdle    LinkQuality = "idle"
	LinkUnknown LinkQuality = "unknown"
)

// MediaCounters are the cumulative media plane counters since startup.
type MediaCounters struct {
	FramesCompleted    uint64
	FramesDropped      uint64
	FramesRelayed      uint64
	DatagramsIn        uint64
	DatagramsOut       uint64
	DatagramsDiscarded uint64
	BytesIn            uint64
	BytesOut           uint64
}

// TelemetrySnapshot is a one-second view of the media plane.
type TelemetrySnapshot struct {
	Timestamp          time.Time
	FPS                float64
	Kbps               float64
	DropRatio          float64
	FramesCompleted    uint64
	FramesDropped      uint64
	DatagramsIn        uint64
	DatagramsOut       uint64
	DatagramsDiscarded uint64
	BytesIn            uint64
	BytesOut           uint64
	ActiveSessions     int
	PeerTracked        bool
	Quality            LinkQuality
}
