package media

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nearcast/internal/core/domain"
)

type captureSink struct {
	frames []domain.Frame
}

func (c *captureSink) OnReassembledFrame(f domain.Frame) {
	c.frames = append(c.frames, f)
}

func newTestReassembler() (*Reassembler, *captureSink, *Stats) {
	sink := &captureSink{}
	stats := &Stats{}
	return NewReassembler(sink, stats, zap.NewNop().Sugar()), sink, stats
}

// buildParts hand-builds the datagrams of one frame so tests control the
// sequence number directly.
func buildParts(t *testing.T, seq uint32, parts [][]byte, flags uint16, config []byte) [][]byte {
	t.Helper()
	datagrams := make([][]byte, len(parts))
	for i, part := range parts {
		cfg := []byte(nil)
		if i == 0 {
			cfg = config
		}
		dg := make([]byte, HeaderSize+len(cfg)+len(part))
		PutHeader(dg, &Header{
			Seq:        seq,
			PartIndex:  uint16(i),
			PartCount:  uint16(len(parts)),
			Flags:      flags,
			Width:      64,
			Height:     48,
			ConfigSize: uint16(len(cfg)),
		})
		copy(dg[HeaderSize:], cfg)
		copy(dg[HeaderSize+len(cfg):], part)
		datagrams[i] = dg
	}
	return datagrams
}

func TestReassembleInOrder(t *testing.T) {
	r, sink, stats := newTestReassembler()

	parts := [][]byte{bytes.Repeat([]byte{1}, 100), bytes.Repeat([]byte{2}, 100), bytes.Repeat([]byte{3}, 40)}
	for _, dg := range buildParts(t, 9, parts, 0, nil) {
		r.Ingest(dg)
	}

	require.Len(t, sink.frames, 1)
	want := append(append(append([]byte{}, parts[0]...), parts[1]...), parts[2]...)
	assert.Equal(t, want, sink.frames[0].Payload)
	assert.Equal(t, 64, sink.frames[0].Width)
	assert.Equal(t, 48, sink.frames[0].Height)
	assert.False(t, sink.frames[0].Keyframe)
	assert.Equal(t, uint64(1), stats.Snapshot().FramesCompleted)
}

func TestReassembleAnyPartOrder(t *testing.T) {
	parts := [][]byte{{0xA0, 0xA1}, {0xB0}, {0xC0, 0xC1, 0xC2}}
	want := []byte{0xA0, 0xA1, 0xB0, 0xC0, 0xC1, 0xC2}

	orders := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, order := range orders {
		r, sink, _ := newTestReassembler()
		datagrams := buildParts(t, 1, parts, 0, nil)
		for _, i := range order {
			r.Ingest(datagrams[i])
		}
		require.Len(t, sink.frames, 1, "order %v", order)
		assert.Equal(t, want, sink.frames[0].Payload, "order %v", order)
	}
}

func TestReassembleDuplicatePartIgnored(t *testing.T) {
	r, sink, stats := newTestReassembler()

	datagrams := buildParts(t, 3, [][]byte{{1, 1}, {2, 2}}, 0, nil)
	r.Ingest(datagrams[0])
	r.Ingest(datagrams[0])
	r.Ingest(datagrams[1])

	require.Len(t, sink.frames, 1)
	assert.Equal(t, []byte{1, 1, 2, 2}, sink.frames[0].Payload)
	assert.Equal(t, uint64(1), stats.Snapshot().DatagramsDiscarded)
}

func TestReassembleNewestWins(t *testing.T) {
	r, sink, stats := newTestReassembler()

	old := buildParts(t, 10, [][]byte{{1}, {2}, {3}}, 0, nil)
	r.Ingest(old[0])

	// A newer frame throws the partial one away.
	for _, dg := range buildParts(t, 11, [][]byte{{7}, {8}}, 0, nil) {
		r.Ingest(dg)
	}
	require.Len(t, sink.frames, 1)
	assert.Equal(t, []byte{7, 8}, sink.frames[0].Payload)
	assert.Equal(t, uint64(1), stats.Snapshot().FramesDropped)

	// Late parts of the abandoned frame are stale now.
	r.Ingest(old[1])
	r.Ingest(old[2])
	assert.Len(t, sink.frames, 1)
	assert.Equal(t, uint64(2), stats.Snapshot().DatagramsDiscarded)
}

func TestReassembleStaleAfterCompletion(t *testing.T) {
	r, sink, stats := newTestReassembler()

	for _, dg := range buildParts(t, 5, [][]byte{{5, 5}}, 0, nil) {
		r.Ingest(dg)
	}
	require.Len(t, sink.frames, 1)

	// A duplicate of the completed frame and an older one are both dropped.
	r.Ingest(buildParts(t, 5, [][]byte{{5, 5}}, 0, nil)[0])
	r.Ingest(buildParts(t, 4, [][]byte{{4}}, 0, nil)[0])
	assert.Len(t, sink.frames, 1)
	assert.Equal(t, uint64(2), stats.Snapshot().DatagramsDiscarded)
}

func TestReassembleSeqWraparound(t *testing.T) {
	r, sink, _ := newTestReassembler()

	for _, dg := range buildParts(t, 0xFFFFFFFF, [][]byte{{1}}, 0, nil) {
		r.Ingest(dg)
	}
	// 0x00000002 is newer than 0xFFFFFFFF in wrapping sequence space.
	for _, dg := range buildParts(t, 0x00000002, [][]byte{{2}}, 0, nil) {
		r.Ingest(dg)
	}
	require.Len(t, sink.frames, 2)
	assert.Equal(t, []byte{2}, sink.frames[1].Payload)

	// And 0xFFFFFFFE is stale.
	r.Ingest(buildParts(t, 0xFFFFFFFE, [][]byte{{3}}, 0, nil)[0])
	assert.Len(t, sink.frames, 2)
}

func TestReassembleKeyframeParamSets(t *testing.T) {
	r, sink, _ := newTestReassembler()

	ps := &domain.ParamSets{SPS: [][]byte{{0x67, 0x42}}, PPS: [][]byte{{0x68, 0xCE}}}
	blob, err := EncodeParamSets(ps)
	require.NoError(t, err)

	parts := [][]byte{bytes.Repeat([]byte{0xE5}, 30), bytes.Repeat([]byte{0xE6}, 10)}
	for _, dg := range buildParts(t, 1, parts, FlagKeyframe|FlagHasParamSet, blob) {
		r.Ingest(dg)
	}

	require.Len(t, sink.frames, 1)
	frame := sink.frames[0]
	assert.True(t, frame.Keyframe)
	require.NotNil(t, frame.ParamSets)
	assert.Equal(t, ps.SPS, frame.ParamSets.SPS)
	assert.Equal(t, ps.PPS, frame.ParamSets.PPS)
	assert.Equal(t, append(append([]byte{}, parts[0]...), parts[1]...), frame.Payload)
}

func TestReassembleMalformedDiscarded(t *testing.T) {
	r, sink, stats := newTestReassembler()

	r.Ingest([]byte{0xDE, 0xAD})
	r.Ingest(nil)
	bad := buildParts(t, 1, [][]byte{{1}}, 0, nil)[0]
	bad[0] = 0x00
	r.Ingest(bad)

	assert.Empty(t, sink.frames)
	assert.Equal(t, uint64(3), stats.Snapshot().DatagramsDiscarded)
}

func TestReassembleInconsistentPartCount(t *testing.T) {
	r, sink, stats := newTestReassembler()

	r.Ingest(buildParts(t, 6, [][]byte{{1}, {2}, {3}}, 0, nil)[0])
	// Same seq claiming a different part count.
	r.Ingest(buildParts(t, 6, [][]byte{{9}, {9}}, 0, nil)[1])

	assert.Empty(t, sink.frames)
	assert.Equal(t, uint64(1), stats.Snapshot().DatagramsDiscarded)
}

func TestReassembleReset(t *testing.T) {
	r, sink, stats := newTestReassembler()

	datagrams := buildParts(t, 2, [][]byte{{1}, {2}}, 0, nil)
	r.Ingest(datagrams[0])
	r.Reset()
	assert.Equal(t, uint64(1), stats.Snapshot().FramesDropped)

	// The remaining part of the discarded frame cannot resurrect it.
	r.Ingest(datagrams[1])
	assert.Empty(t, sink.frames)

	// A newer frame still flows normally.
	for _, dg := range buildParts(t, 3, [][]byte{{3}}, 0, nil) {
		r.Ingest(dg)
	}
	assert.Len(t, sink.frames, 1)
}

func TestFragmentReassembleRoundTrip(t *testing.T) {
	// End to end through the real fragmenter: the concrete three-datagram
	// delta frame scenario, delivered out of order.
	f := NewFragmenter(1200, nil)
	r, sink, _ := newTestReassembler()

	payload := make([]byte, 3000)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	datagrams, err := f.Fragment(domain.Frame{Payload: payload, Width: 64, Height: 48})
	require.NoError(t, err)
	require.Len(t, datagrams, 3)

	r.Ingest(datagrams[0])
	r.Ingest(datagrams[2])
	assert.Empty(t, sink.frames)
	r.Ingest(datagrams[1])

	require.Len(t, sink.frames, 1)
	assert.Equal(t, payload, sink.frames[0].Payload)
}
