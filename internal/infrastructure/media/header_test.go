package media

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	h := &Header{
		Seq:        42,
		PartIndex:  1,
		PartCount:  3,
		Flags:      FlagKeyframe,
		Width:      1920,
		Height:     1080,
		ConfigSize: 0,
	}

	buf := make([]byte, HeaderSize)
	PutHeader(buf, h)

	decoded, err := ParseHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, decoded)
}

func TestHeaderLayout(t *testing.T) {
	// The wire layout is fixed: big-endian, 20 bytes, magic first.
	h := &Header{Seq: 0x01020304, PartIndex: 0, PartCount: 1, Flags: FlagKeyframe | FlagHasParamSet, Width: 640, Height: 480, ConfigSize: 12}
	buf := make([]byte, HeaderSize)
	PutHeader(buf, h)

	assert.Equal(t, uint32(0x4E435631), binary.BigEndian.Uint32(buf[0:4]))
	assert.Equal(t, uint32(0x01020304), binary.BigEndian.Uint32(buf[4:8]))
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(buf[8:10]))
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(buf[10:12]))
	assert.Equal(t, uint16(3), binary.BigEndian.Uint16(buf[12:14]))
	assert.Equal(t, uint16(640), binary.BigEndian.Uint16(buf[14:16]))
	assert.Equal(t, uint16(480), binary.BigEndian.Uint16(buf[16:18]))
	assert.Equal(t, uint16(12), binary.BigEndian.Uint16(buf[18:20]))
}

func TestParseHeaderRejectsMalformed(t *testing.T) {
	valid := func() []byte {
		buf := make([]byte, HeaderSize+16)
		PutHeader(buf, &Header{Seq: 7, PartIndex: 0, PartCount: 2, Flags: FlagKeyframe | FlagHasParamSet, Width: 100, Height: 100, ConfigSize: 8})
		return buf
	}

	tests := []struct {
		name   string
		mutate func() []byte
	}{
		{"short buffer", func() []byte { return valid()[:HeaderSize-1] }},
		{"bad magic", func() []byte {
			buf := valid()
			buf[0] = 0xFF
			return buf
		}},
		{"zero part count", func() []byte {
			buf := valid()
			binary.BigEndian.PutUint16(buf[10:12], 0)
			return buf
		}},
		{"part index out of range", func() []byte {
			buf := valid()
			binary.BigEndian.PutUint16(buf[8:10], 2)
			return buf
		}},
		{"config bytes on later part", func() []byte {
			buf := valid()
			binary.BigEndian.PutUint16(buf[8:10], 1)
			return buf
		}},
		{"config bytes without flag", func() []byte {
			buf := valid()
			binary.BigEndian.PutUint16(buf[12:14], FlagKeyframe)
			return buf
		}},
		{"config bytes exceed datagram", func() []byte {
			buf := valid()
			binary.BigEndian.PutUint16(buf[18:20], 64)
			return buf
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHeader(tt.mutate())
			assert.ErrorIs(t, err, ErrMalformedHeader)
		})
	}
}

func TestHello(t *testing.T) {
	assert.True(t, IsHello([]byte("NCHI")))
	assert.False(t, IsHello([]byte("NCHX")))
	assert.False(t, IsHello([]byte("NCHI ")))
	assert.False(t, IsHello(nil))

	// A keepalive must never decode as a video header.
	assert.Less(t, len(Hello()), HeaderSize)
	_, err := ParseHeader(Hello())
	assert.Error(t, err)
}

func TestSeqNewer(t *testing.T) {
	tests := []struct {
		name  string
		a, b  uint32
		newer bool
	}{
		{"simple newer", 10, 5, true},
		{"simple older", 5, 10, false},
		{"equal", 7, 7, false},
		{"wraparound newer", 0x00000002, 0xFFFFFFFF, true},
		{"wraparound older", 0xFFFFFFFF, 0x00000002, false},
		{"half range boundary", 0x80000000, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.newer, SeqNewer(tt.a, tt.b))
		})
	}
}
