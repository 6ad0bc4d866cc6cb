package media

import (
	"time"

	"go.uber.org/zap"

	"nearcast/internal/core/domain"
	"nearcast/internal/core/ports"
)

// Reassembler rebuilds frames from video datagrams. It keeps at most one
// frame in flight: a datagram with a newer sequence throws away whatever is
// partially assembled, older and duplicate datagrams are discarded. Owned by
// the single socket reader goroutine, so no locking.
type Reassembler struct {
	sink    ports.FrameSink
	stats   *Stats
	log     *zap.SugaredLogger
	current *inFlightFrame
	lastSeq uint32
	seenAny bool
}

type inFlightFrame struct {
	seq       uint32
	partCount uint16
	received  []bool
	remaining int
	parts     [][]byte
	paramSets *domain.ParamSets
	width     int
	height    int
	keyframe  bool
	firstSeen time.Time
}

func NewReassembler(sink ports.FrameSink, stats *Stats, log *zap.SugaredLogger) *Reassembler {
	return &Reassembler{sink: sink, stats: stats, log: log}
}

// Ingest consumes one datagram. Malformed, stale and duplicate datagrams are
// counted and dropped without error; a completed frame is handed to the sink
// before Ingest returns.
func (r *Reassembler) Ingest(buf []byte) {
	hdr, err := ParseHeader(buf)
	if err != nil {
		r.stats.DatagramDiscarded()
		r.log.Debugw("discarding datagram", "error", err)
		return
	}

	if r.seenAny {
		if hdr.Seq == r.lastSeq {
			if r.current == nil {
				// Frame already completed or abandoned.
				r.stats.DatagramDiscarded()
				return
			}
		} else if SeqNewer(hdr.Seq, r.lastSeq) {
			if r.current != nil {
				r.stats.FrameDropped()
				r.log.Debugw("superseding incomplete frame",
					"seq", r.current.seq, "received", int(r.current.partCount)-r.current.remaining,
					"parts", r.current.partCount, "newer_seq", hdr.Seq)
			}
			r.current = nil
		} else {
			r.stats.DatagramDiscarded()
			return
		}
	}
	r.seenAny = true
	r.lastSeq = hdr.Seq

	if r.current == nil {
		r.current = &inFlightFrame{
			seq:       hdr.Seq,
			partCount: hdr.PartCount,
			received:  make([]bool, hdr.PartCount),
			remaining: int(hdr.PartCount),
			parts:     make([][]byte, hdr.PartCount),
			width:     int(hdr.Width),
			height:    int(hdr.Height),
			keyframe:  hdr.Keyframe(),
			firstSeen: time.Now(),
		}
	}

	cur := r.current
	if hdr.PartCount != cur.partCount || int(hdr.PartIndex) >= len(cur.received) {
		// Parts of one sequence disagreeing about their count means a
		// corrupted or hostile sender.
		r.stats.DatagramDiscarded()
		r.log.Debugw("discarding inconsistent part", "seq", hdr.Seq,
			"part", hdr.PartIndex, "count", hdr.PartCount, "expected", cur.partCount)
		return
	}
	if cur.received[hdr.PartIndex] {
		r.stats.DatagramDiscarded()
		return
	}

	rest := buf[HeaderSize:]
	if hdr.ConfigSize > 0 {
		ps, err := DecodeParamSets(rest[:hdr.ConfigSize])
		if err != nil {
			r.stats.DatagramDiscarded()
			r.log.Debugw("discarding datagram with bad config blob", "seq", hdr.Seq, "error", err)
			return
		}
		cur.paramSets = ps
		rest = rest[hdr.ConfigSize:]
	}

	part := make([]byte, len(rest))
	copy(part, rest)
	cur.parts[hdr.PartIndex] = part
	cur.received[hdr.PartIndex] = true
	cur.remaining--

	if cur.remaining == 0 {
		r.emit(cur)
		r.current = nil
	}
}

// Reset throws away any partially assembled frame, e.g. when the media
// channel is being disarmed. Sequence tracking survives so a restarted
// channel still rejects stale datagrams.
func (r *Reassembler) Reset() {
	if r.current != nil {
		r.stats.FrameDropped()
		r.current = nil
	}
}

func (r *Reassembler) emit(f *inFlightFrame) {
	size := 0
	for _, p := range f.parts {
		size += len(p)
	}
	payload := make([]byte, 0, size)
	for _, p := range f.parts {
		payload = append(payload, p...)
	}

	r.stats.FrameCompleted()
	r.sink.OnReassembledFrame(domain.Frame{
		Payload:   payload,
		Keyframe:  f.keyframe,
		Width:     f.width,
		Height:    f.height,
		ParamSets: f.paramSets,
	})
}
