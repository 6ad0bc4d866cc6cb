package control

import (
	"encoding/json"
	"fmt"
)

const (
	// AppID identifies this protocol on the wire; a handshake naming a
	// different application is rejected outright.
	AppID = "nearcast"

	ProtocolVersion = 1

	RoleViewer = "viewer"
)

// ProtocolError marks a violation of the control protocol. The connection is
// closed when one occurs; the connecting side surfaces it as a failed
// pairing.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol error: " + e.Reason
}

type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindHandshakeRequest
	KindHandshakeResponse
	KindHeartbeat
	KindBroadcastStatus
)

// HandshakeRequest opens a pairing attempt. Name is advisory; the pairing
// code is what the operator verifies.
type HandshakeRequest struct {
	App  string `json:"app"`
	Ver  int    `json:"ver"`
	Role string `json:"role"`
	Code string `json:"code"`
	Name string `json:"name,omitempty"`
}

type HandshakeResponse struct {
	OK        bool   `json:"ok"`
	SessionID string `json:"sessionID,omitempty"`
	UDPPort   int    `json:"udpPort,omitempty"`
	Message   string `json:"message,omitempty"`
}

type Heartbeat struct {
	HB int `json:"hb"`
}

type BroadcastStatus struct {
	On bool `json:"on"`
}

// Message is one decoded control line. Exactly one of the pointers matching
// Kind is set.
type Message struct {
	Kind      MessageKind
	Handshake *HandshakeRequest
	Response  *HandshakeResponse
	Broadcast *BroadcastStatus
}

// envelope is the superset of all wire messages; pointer fields tell which
// keys were present, which is how lines are told apart.
type envelope struct {
	App       *string `json:"app"`
	Ver       int     `json:"ver"`
	Role      string  `json:"role"`
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	OK        *bool   `json:"ok"`
	SessionID string  `json:"sessionID"`
	UDPPort   int     `json:"udpPort"`
	Message   string  `json:"message"`
	HB        *int    `json:"hb"`
	On        *bool   `json:"on"`
}

// DecodeMessage parses one line of the control stream.
func DecodeMessage(line []byte) (*Message, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("malformed line: %v", err)}
	}

	switch {
	case env.App != nil:
		return &Message{Kind: KindHandshakeRequest, Handshake: &HandshakeRequest{
			App:  *env.App,
			Ver:  env.Ver,
			Role: env.Role,
			Code: env.Code,
			Name: env.Name,
		}}, nil
	case env.OK != nil:
		return &Message{Kind: KindHandshakeResponse, Response: &HandshakeResponse{
			OK:        *env.OK,
			SessionID: env.SessionID,
			UDPPort:   env.UDPPort,
			Message:   env.Message,
		}}, nil
	case env.HB != nil:
		return &Message{Kind: KindHeartbeat}, nil
	case env.On != nil:
		return &Message{Kind: KindBroadcastStatus, Broadcast: &BroadcastStatus{On: *env.On}}, nil
	default:
		return nil, &ProtocolError{Reason: "unrecognized message"}
	}
}
