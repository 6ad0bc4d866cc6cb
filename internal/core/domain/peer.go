package domain

import (
	"net"
	"strconv"
	"time"
)

// PeerAddress is the media endpoint of the device currently receiving the
// broadcast. The relay tracks at most one.
type PeerAddress struct {
	Host     string
	Port     int
	LastSeen time.Time
}

func (p PeerAddress) String() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Fresh reports whether the peer announced itself within the window.
func (p PeerAddress) Fresh(now time.Time, window time.Duration) bool {
	return now.Sub(p.LastSeen) <= window
}

// CandidatePeer is a broadcaster found through discovery, before any
// connection attempt.
type CandidatePeer struct {
	Name        string
	Host        string
	ControlPort int
}

func (c CandidatePeer) ControlAddress() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.ControlPort))
}
