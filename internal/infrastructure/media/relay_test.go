package media

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"nearcast/internal/core/domain"
)

type chanSink struct {
	ch chan domain.Frame
}

func (c *chanSink) OnReassembledFrame(f domain.Frame) {
	select {
	case c.ch <- f:
	default:
	}
}

func startTestRelay(t *testing.T) (*Relay, *Tracker, *Stats) {
	t.Helper()
	log := zap.NewNop().Sugar()
	stats := &Stats{}
	tracker := NewTracker(6*time.Second, nil, log)
	relay := NewRelay(RelayConfig{
		ListenAddr:    "127.0.0.1:0",
		MTU:           1200,
		QueueLen:      16,
		SweepInterval: 50 * time.Millisecond,
	}, tracker, stats, log)
	require.NoError(t, relay.Start(context.Background()))
	t.Cleanup(relay.Stop)
	return relay, tracker, stats
}

func TestRelayRefusesFramesWhileDisarmed(t *testing.T) {
	relay, _, _ := startTestRelay(t)

	err := relay.OnEncodedFrame(domain.Frame{Payload: []byte{1}, Width: 10, Height: 10})
	assert.ErrorIs(t, err, domain.ErrBroadcastOff)

	relay.SetSessionActive(true)
	err = relay.OnEncodedFrame(domain.Frame{Payload: []byte{1}, Width: 10, Height: 10})
	assert.ErrorIs(t, err, domain.ErrBroadcastOff)

	relay.SetBroadcasting(true)
	err = relay.OnEncodedFrame(domain.Frame{Payload: []byte{1}, Width: 10, Height: 10})
	assert.NoError(t, err)
	assert.False(t, relay.Armed(), "no viewer tracked yet")
}

func TestRelayToReceiverLoopback(t *testing.T) {
	log := zap.NewNop().Sugar()
	relay, tracker, _ := startTestRelay(t)
	relay.SetSessionActive(true)
	relay.SetBroadcasting(true)

	sink := &chanSink{ch: make(chan domain.Frame, 8)}
	rstats := &Stats{}
	recv := NewReceiver(50*time.Millisecond, NewReassembler(sink, rstats, log), rstats, log)
	require.NoError(t, recv.Arm(context.Background(), "127.0.0.1", relay.Port()))
	defer recv.Disarm()

	// The receiver's keepalive makes it the tracked viewer.
	require.Eventually(t, func() bool {
		_, ok := tracker.Current(time.Now())
		return ok
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, relay.Armed())

	payload := make([]byte, 3000)
	for i := range payload {
		payload[i] = byte(i * 3)
	}
	frame := domain.Frame{
		Payload:   payload,
		Keyframe:  true,
		Width:     640,
		Height:    480,
		ParamSets: &domain.ParamSets{SPS: [][]byte{{0x67, 0x42}}, PPS: [][]byte{{0x68}}},
	}

	var got domain.Frame
	require.Eventually(t, func() bool {
		if err := relay.OnEncodedFrame(frame); err != nil {
			return false
		}
		select {
		case got = <-sink.ch:
			return true
		default:
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)

	assert.Equal(t, payload, got.Payload)
	assert.True(t, got.Keyframe)
	assert.Equal(t, 640, got.Width)
	assert.Equal(t, 480, got.Height)
	require.NotNil(t, got.ParamSets)
	assert.Equal(t, frame.ParamSets.SPS, got.ParamSets.SPS)
}

func TestRelayForwardsLoopbackFeed(t *testing.T) {
	log := zap.NewNop().Sugar()
	relay, tracker, _ := startTestRelay(t)
	relay.SetSessionActive(true)
	relay.SetBroadcasting(true)

	sink := &chanSink{ch: make(chan domain.Frame, 8)}
	rstats := &Stats{}
	recv := NewReceiver(50*time.Millisecond, NewReassembler(sink, rstats, log), rstats, log)
	require.NoError(t, recv.Arm(context.Background(), "127.0.0.1", relay.Port()))
	defer recv.Disarm()

	require.Eventually(t, func() bool {
		_, ok := tracker.Current(time.Now())
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	// A separate-process encoder pushes pre-framed datagrams over loopback.
	feed, err := net.Dial("udp", fmt.Sprintf("127.0.0.1:%d", relay.Port()))
	require.NoError(t, err)
	defer feed.Close()

	payload := bytes.Repeat([]byte{0x5A}, 200)
	fragmenter := NewFragmenter(1200, nil)

	var got domain.Frame
	require.Eventually(t, func() bool {
		datagrams, err := fragmenter.Fragment(domain.Frame{Payload: payload, Width: 320, Height: 200})
		if err != nil {
			return false
		}
		for _, dg := range datagrams {
			if _, err := feed.Write(dg); err != nil {
				return false
			}
		}
		select {
		case got = <-sink.ch:
			return true
		default:
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)

	assert.Equal(t, payload, got.Payload)
	assert.Equal(t, 320, got.Width)
}

func TestRelayDropsWhenViewerExpires(t *testing.T) {
	log := zap.NewNop().Sugar()
	stats := &Stats{}
	tracker := NewTracker(80*time.Millisecond, nil, log)
	relay := NewRelay(RelayConfig{
		ListenAddr:    "127.0.0.1:0",
		MTU:           1200,
		QueueLen:      16,
		SweepInterval: 20 * time.Millisecond,
	}, tracker, stats, log)
	require.NoError(t, relay.Start(context.Background()))
	t.Cleanup(relay.Stop)
	relay.SetSessionActive(true)
	relay.SetBroadcasting(true)

	tracker.Observe("127.0.0.1", 65000, time.Now())
	assert.True(t, relay.Armed())

	require.Eventually(t, func() bool {
		return !relay.Armed()
	}, 2*time.Second, 20*time.Millisecond)

	before := stats.Snapshot().FramesDropped
	require.NoError(t, relay.OnEncodedFrame(domain.Frame{Payload: []byte{1}, Width: 10, Height: 10}))
	require.Eventually(t, func() bool {
		return stats.Snapshot().FramesDropped > before
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, stats.Snapshot().DatagramsOut)
}
