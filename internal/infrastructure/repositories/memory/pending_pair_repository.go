package memory

import (
	"context"
	"fmt"
	"sync"

	"nearcast/internal/core/domain"
	"nearcast/internal/core/ports"
)

type MemoryPendingPairRepository struct {
	pairs map[domain.PairID]*domain.PendingPair
	mu    sync.RWMutex
}

func NewMemoryPendingPairRepository() ports.PendingPairRepository {
	return &MemoryPendingPairRepository{
		pairs: make(map[domain.PairID]*domain.PendingPair),
	}
}

func (r *MemoryPendingPairRepository) Add(ctx context.Context, pair *domain.PendingPair) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pairs[pair.ID]; exists {
		return fmt.Errorf("pending pair already exists: %s", pair.ID)
	}

	r.pairs[pair.ID] = pair
	return nil
}

func (r *MemoryPendingPairRepository) GetByID(ctx context.Context, id domain.PairID) (*domain.PendingPair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pair, exists := r.pairs[id]
	if !exists {
		return nil, domain.ErrPairNotFound
	}

	return pair, nil
}

func (r *MemoryPendingPairRepository) Remove(ctx context.Context, id domain.PairID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pairs[id]; !exists {
		return domain.ErrPairNotFound
	}

	delete(r.pairs, id)
	return nil
}

func (r *MemoryPendingPairRepository) RemoveByConnection(ctx context.Context, connID domain.ConnectionID) (*domain.PendingPair, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, pair := range r.pairs {
		if pair.ConnectionID == connID {
			delete(r.pairs, id)
			return pair, nil
		}
	}

	return nil, domain.ErrPairNotFound
}

func (r *MemoryPendingPairRepository) List(ctx context.Context) ([]*domain.PendingPair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pairs := make([]*domain.PendingPair, 0, len(r.pairs))
	for _, pair := range r.pairs {
		pairs = append(pairs, pair)
	}

	return pairs, nil
}
