package media

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Magic marker: "NCV1" - 0x4E 0x43 0x56 0x31.
	// Detects protocol boundary, avoids decoding garbage after byte slip.
	Magic uint32 = 0x4E435631

	// HeaderSize: Magic(4) + Seq(4) + PartIndex(2) + PartCount(2) +
	// Flags(2) + Width(2) + Height(2) + ConfigSize(2) = 20 bytes
	HeaderSize = 20

	// DefaultMTU is the datagram budget incl. header. Conservative enough
	// for typical WLAN paths without relying on IP fragmentation.
	DefaultMTU = 1200

	FlagKeyframe    uint16 = 1 << 0
	FlagHasParamSet uint16 = 1 << 1

	// Flag rules:
	// - Flags are identical on every part of one frame
	// - ConfigSize > 0 only on part 0 and only with FlagHasParamSet
)

// hello is the keepalive datagram body a viewer sends to the media port.
// Shorter than HeaderSize so it can never decode as a video header.
var hello = []byte("NCHI")

var (
	ErrMalformedHeader = errors.New("malformed media header")
	ErrMTUTooSmall     = errors.New("mtu too small for frame header")
)

// Header is the fixed preamble of every video datagram, big-endian.
type Header struct {
	Seq        uint32
	PartIndex  uint16
	PartCount  uint16
	Flags      uint16
	Width      uint16
	Height     uint16
	ConfigSize uint16
}

func (h *Header) Keyframe() bool { return h.Flags&FlagKeyframe != 0 }

func (h *Header) HasParamSet() bool { return h.Flags&FlagHasParamSet != 0 }

// PutHeader writes h into buf[:HeaderSize]. buf must hold HeaderSize bytes.
func PutHeader(buf []byte, h *Header) {
	binary.BigEndian.PutUint32(buf[0:4], Magic)
	binary.BigEndian.PutUint32(buf[4:8], h.Seq)
	binary.BigEndian.PutUint16(buf[8:10], h.PartIndex)
	binary.BigEndian.PutUint16(buf[10:12], h.PartCount)
	binary.BigEndian.PutUint16(buf[12:14], h.Flags)
	binary.BigEndian.PutUint16(buf[14:16], h.Width)
	binary.BigEndian.PutUint16(buf[16:18], h.Height)
	binary.BigEndian.PutUint16(buf[18:20], h.ConfigSize)
}

// ParseHeader validates and decodes the preamble of one datagram. The
// remaining bytes (config blob + payload slice) start at buf[HeaderSize:].
func ParseHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedHeader, len(buf))
	}
	if binary.BigEndian.Uint32(buf[0:4]) != Magic {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformedHeader)
	}

	h := &Header{
		Seq:        binary.BigEndian.Uint32(buf[4:8]),
		PartIndex:  binary.BigEndian.Uint16(buf[8:10]),
		PartCount:  binary.BigEndian.Uint16(buf[10:12]),
		Flags:      binary.BigEndian.Uint16(buf[12:14]),
		Width:      binary.BigEndian.Uint16(buf[14:16]),
		Height:     binary.BigEndian.Uint16(buf[16:18]),
		ConfigSize: binary.BigEndian.Uint16(buf[18:20]),
	}

	if h.PartCount == 0 {
		return nil, fmt.Errorf("%w: zero part count", ErrMalformedHeader)
	}
	if h.PartIndex >= h.PartCount {
		return nil, fmt.Errorf("%w: part %d of %d", ErrMalformedHeader, h.PartIndex, h.PartCount)
	}
	if h.ConfigSize > 0 && (h.PartIndex != 0 || !h.HasParamSet()) {
		return nil, fmt.Errorf("%w: config bytes outside first part", ErrMalformedHeader)
	}
	if int(h.ConfigSize) > len(buf)-HeaderSize {
		return nil, fmt.Errorf("%w: config bytes exceed datagram", ErrMalformedHeader)
	}

	return h, nil
}

// IsHello reports whether a datagram is a viewer keepalive.
func IsHello(buf []byte) bool {
	if len(buf) != len(hello) {
		return false
	}
	for i, b := range hello {
		if buf[i] != b {
			return false
		}
	}
	return true
}

// Hello returns the keepalive payload.
func Hello() []byte {
	out := make([]byte, len(hello))
	copy(out, hello)
	return out
}

// SeqNewer reports whether a is newer than b in wrapping u32 sequence
// space. 0xFFFFFFFF is older than 0x00000002.
func SeqNewer(a, b uint32) bool {
	return int32(a-b) > 0
}
