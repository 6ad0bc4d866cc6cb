package media

import (
	"encoding/binary"
	"fmt"
	"math"

	"nearcast/internal/core/domain"
)

// Config blob layout (avcC-style, big-endian):
//
//	u8 spsCount, spsCount * (u16 length + bytes),
//	u8 ppsCount, ppsCount * (u16 length + bytes)
//
// Carried only on the first datagram of a keyframe, sized by ConfigSize.

// EncodeParamSets serializes SPS/PPS records into a config blob.
func EncodeParamSets(ps *domain.ParamSets) ([]byte, error) {
	if ps.Empty() {
		return nil, nil
	}
	if len(ps.SPS) > math.MaxUint8 || len(ps.PPS) > math.MaxUint8 {
		return nil, fmt.Errorf("too many parameter sets: %d sps, %d pps", len(ps.SPS), len(ps.PPS))
	}

	size := 2
	for _, s := range ps.SPS {
		size += 2 + len(s)
	}
	for _, p := range ps.PPS {
		size += 2 + len(p)
	}
	if size > math.MaxUint16 {
		return nil, fmt.Errorf("parameter sets too large: %d bytes", size)
	}

	blob := make([]byte, 0, size)
	blob = append(blob, byte(len(ps.SPS)))
	for _, s := range ps.SPS {
		if len(s) > math.MaxUint16 {
			return nil, fmt.Errorf("sps record too large: %d bytes", len(s))
		}
		blob = binary.BigEndian.AppendUint16(blob, uint16(len(s)))
		blob = append(blob, s...)
	}
	blob = append(blob, byte(len(ps.PPS)))
	for _, p := range ps.PPS {
		if len(p) > math.MaxUint16 {
			return nil, fmt.Errorf("pps record too large: %d bytes", len(p))
		}
		blob = binary.BigEndian.AppendUint16(blob, uint16(len(p)))
		blob = append(blob, p...)
	}
	return blob, nil
}

// DecodeParamSets parses a config blob back into SPS/PPS records.
func DecodeParamSets(blob []byte) (*domain.ParamSets, error) {
	ps := &domain.ParamSets{}
	rest := blob

	readGroup := func() ([][]byte, error) {
		if len(rest) < 1 {
			return nil, fmt.Errorf("%w: truncated config blob", ErrMalformedHeader)
		}
		count := int(rest[0])
		rest = rest[1:]
		records := make([][]byte, 0, count)
		for i := 0; i < count; i++ {
			if len(rest) < 2 {
				return nil, fmt.Errorf("%w: truncated config record", ErrMalformedHeader)
			}
			n := int(binary.BigEndian.Uint16(rest[:2]))
			rest = rest[2:]
			if len(rest) < n {
				return nil, fmt.Errorf("%w: config record exceeds blob", ErrMalformedHeader)
			}
			rec := make([]byte, n)
			copy(rec, rest[:n])
			records = append(records, rec)
			rest = rest[n:]
		}
		return records, nil
	}

	var err error
	if ps.SPS, err = readGroup(); err != nil {
		return nil, err
	}
	if ps.PPS, err = readGroup(); err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing config bytes", ErrMalformedHeader, len(rest))
	}
	return ps, nil
}
