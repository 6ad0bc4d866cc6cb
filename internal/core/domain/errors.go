package domain

import "errors"

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrPairNotFound     = errors.New("pending pair not found")
	ErrInvalidCode      = errors.New("invalid pairing code")
	ErrNoActivePeer     = errors.New("no active peer")
	ErrBroadcastOff     = errors.New("broadcast is off")
	ErrAlreadyPairing   = errors.New("pairing already in progress")
	ErrConnectionClosed = errors.New("connection closed")
)
