package ports

import (
	"context"

	"nearcast/internal/core/domain"
)

type SessionRepository interface {
	Create(ctx context.Context, session *domain.Session) error
	GetByID(ctx context.Context, id domain.SessionID) (*domain.Session, error)
	GetByConnection(ctx context.Context, connID domain.ConnectionID) (*domain.Session, error)
	Delete(ctx context.Context, id domain.SessionID) error
	ListActive(ctx context.Context) ([]*domain.Session, error)
}

type PendingPairRepository interface {
	Add(ctx context.Context, pair *domain.PendingPair) error
	GetByID(ctx context.Context, id domain.PairID) (*domain.PendingPair, error)
	Remove(ctx context.Context, id domain.PairID) error
	RemoveByConnection(ctx context.Context, connID domain.ConnectionID) (*domain.PendingPair, error)
	List(ctx context.Context) ([]*domain.PendingPair, error)
}

type SessionHistoryRepository interface {
	Append(ctx context.Context, record *domain.SessionRecord) error
	List(ctx context.Context, limit int) ([]*domain.SessionRecord, error)
}
