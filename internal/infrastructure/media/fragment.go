package media

import (
	"fmt"
	"math"

	"nearcast/internal/core/domain"
	"nearcast/pkg/optimize"
)

// Fragmenter splits encoded frames into wire datagrams that fit the MTU
// budget. One sequence number per frame, shared by all its parts, wrapping
// at 2^32. Not safe for concurrent use; the relay intake is the only caller.
type Fragmenter struct {
	mtu  int
	seq  uint32
	pool *optimize.BytePool
}

// NewFragmenter creates a fragmenter with the given datagram budget. When
// pool is non-nil its buffers back the returned datagrams; the consumer
// returns them after sending.
func NewFragmenter(mtu int, pool *optimize.BytePool) *Fragmenter {
	return &Fragmenter{mtu: mtu, pool: pool}
}

// Fragment turns one frame into its datagrams. The first part of a keyframe
// carries the serialized parameter sets; every part carries identical flags
// and dimensions. Concatenating the payload slices in part order restores
// the frame byte for byte.
func (f *Fragmenter) Fragment(frame domain.Frame) ([][]byte, error) {
	if frame.Width < 0 || frame.Width > math.MaxUint16 ||
		frame.Height < 0 || frame.Height > math.MaxUint16 {
		return nil, fmt.Errorf("frame dimensions %dx%d exceed header range", frame.Width, frame.Height)
	}

	var configBlob []byte
	flags := uint16(0)
	if frame.Keyframe {
		flags |= FlagKeyframe
		if !frame.ParamSets.Empty() {
			var err error
			configBlob, err = EncodeParamSets(frame.ParamSets)
			if err != nil {
				return nil, err
			}
			flags |= FlagHasParamSet
		}
	}

	firstBudget := f.mtu - HeaderSize - len(configBlob)
	restBudget := f.mtu - HeaderSize
	if firstBudget <= 0 || restBudget <= 0 {
		return nil, fmt.Errorf("%w: mtu %d, config blob %d bytes", ErrMTUTooSmall, f.mtu, len(configBlob))
	}

	payload := frame.Payload
	parts := 1
	if len(payload) > firstBudget {
		parts += (len(payload) - firstBudget + restBudget - 1) / restBudget
	}
	if parts > math.MaxUint16 {
		return nil, fmt.Errorf("frame too large: %d bytes need %d parts", len(payload), parts)
	}

	hdr := Header{
		Seq:       f.seq,
		PartCount: uint16(parts),
		Flags:     flags,
		Width:     uint16(frame.Width),
		Height:    uint16(frame.Height),
	}

	datagrams := make([][]byte, 0, parts)
	offset := 0
	for i := 0; i < parts; i++ {
		budget := restBudget
		var config []byte
		if i == 0 {
			budget = firstBudget
			config = configBlob
		}
		chunk := len(payload) - offset
		if chunk > budget {
			chunk = budget
		}

		hdr.PartIndex = uint16(i)
		hdr.ConfigSize = uint16(len(config))

		dg := f.buffer(HeaderSize + len(config) + chunk)
		PutHeader(dg, &hdr)
		copy(dg[HeaderSize:], config)
		copy(dg[HeaderSize+len(config):], payload[offset:offset+chunk])
		datagrams = append(datagrams, dg)
		offset += chunk
	}

	f.seq++
	return datagrams, nil
}

func (f *Fragmenter) buffer(n int) []byte {
	if f.pool != nil {
		b := f.pool.Get()
		if cap(b) >= n {
			return b[:n]
		}
		f.pool.Put(b)
	}
	return make([]byte, n)
}
