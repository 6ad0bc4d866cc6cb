package media

import (
	"sync/atomic"

	"nearcast/internal/core/domain"
)

// Stats are the raw media plane counters. Safe for concurrent use; the
// telemetry service derives rates from successive snapshots.
type Stats struct {
	framesCompleted    atomic.Uint64
	framesDropped      atomic.Uint64
	framesRelayed      atomic.Uint64
	datagramsIn        atomic.Uint64
	datagramsOut       atomic.Uint64
	datagramsDiscarded atomic.Uint64
	bytesIn            atomic.Uint64
	bytesOut           atomic.Uint64
}

func (s *Stats) FrameCompleted() { s.framesCompleted.Add(1) }

func (s *Stats) FrameDropped() { s.framesDropped.Add(1) }

func (s *Stats) FrameRelayed() { s.framesRelayed.Add(1) }

func (s *Stats) DatagramDiscarded() { s.datagramsDiscarded.Add(1) }

func (s *Stats) DatagramIn(n int) { s.datagramsIn.Add(1); s.bytesIn.Add(uint64(n)) }

func (s *Stats) DatagramOut(n int) { s.datagramsOut.Add(1); s.bytesOut.Add(uint64(n)) }

// RelayTotals reports how many frames and payload bytes have been sent to
// viewers since startup, for session accounting.
func (s *Stats) RelayTotals() (frames, bytes uint64) {
	return s.framesRelayed.Load(), s.bytesOut.Load()
}

func (s *Stats) Snapshot() domain.MediaCounters {
	return domain.MediaCounters{
		FramesCompleted:    s.framesCompleted.Load(),
		FramesDropped:      s.framesDropped.Load(),
		FramesRelayed:      s.framesRelayed.Load(),
		DatagramsIn:        s.datagramsIn.Load(),
		DatagramsOut:       s.datagramsOut.Load(),
		DatagramsDiscarded: s.datagramsDiscarded.Load(),
		BytesIn:            s.bytesIn.Load(),
		BytesOut:           s.bytesOut.Load(),
	}
}
