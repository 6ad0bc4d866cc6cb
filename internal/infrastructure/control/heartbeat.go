package control

import "time"

const (
	DefaultHeartbeatInterval  = 2 * time.Second
	DefaultHeartbeatMissLimit = 3
)

// HeartbeatConfig shapes the liveness watchdog on both ends of a control
// connection. Every peer sends {"hb":1} each Interval; a link with no
// traffic at all for MissLimit intervals is dead.
type HeartbeatConfig struct {
	Interval  time.Duration
	MissLimit int
}

func (h HeartbeatConfig) withDefaults() HeartbeatConfig {
	if h.Interval <= 0 {
		h.Interval = DefaultHeartbeatInterval
	}
	if h.MissLimit <= 0 {
		h.MissLimit = DefaultHeartbeatMissLimit
	}
	return h
}

// Timeout is how long a silent link survives: any control traffic resets it,
// not just heartbeats.
func (h HeartbeatConfig) Timeout() time.Duration {
	h = h.withDefaults()
	return h.Interval * time.Duration(h.MissLimit)
}
