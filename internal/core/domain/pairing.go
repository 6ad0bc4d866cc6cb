package domain

type PairingState string

const (
	PairingIdle              PairingState = "idle"
	PairingConnecting        PairingState = "connecting"
	PairingWaitingAcceptance PairingState = "waiting_acceptance"
	PairingPaired            PairingState = "paired"
	PairingFailed            PairingState = "failed"
)

// PairingStatus is the connecting side's view of the handshake. Exactly the
// fields belonging to the current state are set.
type PairingStatus struct {
	State     PairingState
	PeerName  string    // connecting
	SessionID SessionID // paired
	MediaPort int       // paired
	Reason    string    // failed
}

func StatusIdle() PairingStatus {
	return PairingStatus{State: PairingIdle}
}

func StatusConnecting(peerName string) PairingStatus {
	return PairingStatus{State: PairingConnecting, PeerName: peerName}
}

func StatusWaitingAcceptance() PairingStatus {
	return PairingStatus{State: PairingWaitingAcceptance}
}

func StatusPaired(id SessionID, mediaPort int) PairingStatus {
	return PairingStatus{State: PairingPaired, SessionID: id, MediaPort: mediaPort}
}

func StatusFailed(reason string) PairingStatus {
	return PairingStatus{State: PairingFailed, Reason: reason}
}

// Terminal reports whether the handshake has settled. Cancel from a terminal
// state returns to Idle.
func (s PairingStatus) Terminal() bool {
	return s.State == PairingPaired || s.State == PairingFailed
}
