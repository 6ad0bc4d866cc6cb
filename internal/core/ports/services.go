package ports

import (
	"context"
	"time"

	"nearcast/internal/core/domain"
)

type SessionService interface {
	SubmitHandshake(ctx context.Context, connID domain.ConnectionID, remote domain.RemoteDescription, code string) (*domain.HandshakeOutcome, error)
	Accept(ctx context.Context, pairID domain.PairID) (*domain.Session, error)
	Decline(ctx context.Context, pairID domain.PairID) error
	PendingPairs(ctx context.Context) ([]*domain.PendingPair, error)
	Sessions(ctx context.Context) ([]*domain.Session, error)
	EndSession(ctx context.Context, id domain.SessionID, reason string) error
	HandleDisconnect(ctx context.Context, connID domain.ConnectionID, reason string) error
	History(ctx context.Context, limit int) ([]*domain.SessionRecord, error)
	ActiveCount(ctx context.Context) int
	CurrentCode() string
	RotateCode() string
}

type TelemetryService interface {
	Start(ctx context.Context)
	Stop()
	Snapshot() domain.TelemetrySnapshot
}

type AuthService interface {
	GenerateToken(operator string) (string, time.Time, error)
	ValidateToken(token string) (string, error)
}

type DiscoveryService interface {
	Candidates(ctx context.Context) ([]domain.CandidatePeer, error)
	// Refresh drops cached candidates so the next Candidates call browses
	// the network again.
	Refresh()
}
