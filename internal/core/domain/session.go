package domain

import (
	"time"
)

type SessionID string
type PairID string
type ConnectionID string

// RemoteDescription is what the accepting side knows about the device on
// the other end of a control connection.
type RemoteDescription struct {
	Name    string
	Address string
}

type Session struct {
	ID           SessionID
	ConnectionID ConnectionID
	Remote       RemoteDescription
	StartedAt    time.Time
}

// PendingPair is a handshake waiting for an operator decision.
type PendingPair struct {
	ID           PairID
	Code         string
	ConnectionID ConnectionID
	Remote       RemoteDescription
	RequestedAt  time.Time
}

type HandshakeDecision string

const (
	DecisionAccepted HandshakeDecision = "accepted"
	DecisionPending  HandshakeDecision = "pending"
	DecisionDeclined HandshakeDecision = "declined"
)

// HandshakeOutcome is the accepting side's immediate answer to an inbound
// handshake. Pending outcomes are resolved later by the operator.
type HandshakeOutcome struct {
	Decision HandshakeDecision
	Session  *Session // accepted
	PairID   PairID   // pending
	Message  string   // declined
}

// HandshakeResolution is what goes back over the control connection once a
// handshake is settled.
type HandshakeResolution struct {
	Accepted  bool
	SessionID SessionID
	MediaPort int
	Message   string
}

// ReasonHeartbeatTimeout is the close reason for paired links whose viewer
// stopped heartbeating. The control transport produces it and the session
// service keys its timeout accounting on it.
const ReasonHeartbeatTimeout = "heartbeat timeout"

// SessionRecord is a closed session kept for history.
type SessionRecord struct {
	ID            SessionID
	Remote        RemoteDescription
	StartedAt     time.Time
	EndedAt       time.Time
	FramesRelayed uint64
	BytesRelayed  uint64
	CloseReason   string
}
