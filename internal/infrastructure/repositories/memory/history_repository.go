package memory

import (
	"context"
	"sync"

	"nearcast/internal/core/domain"
	"nearcast/internal/core/ports"
)

type MemoryHistoryRepository struct {
	records []*domain.SessionRecord
	cap     int
	mu      sync.RWMutex
}

// NewMemoryHistoryRepository keeps the most recent cap records. A cap of
// zero disables retention entirely.
func NewMemoryHistoryRepository(cap int) ports.SessionHistoryRepository {
	return &MemoryHistoryRepository{cap: cap}
}

func (r *MemoryHistoryRepository) Append(ctx context.Context, record *domain.SessionRecord) error {
	if r.cap == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = append(r.records, record)
	if len(r.records) > r.cap {
		r.records = r.records[len(r.records)-r.cap:]
	}
	return nil
}

func (r *MemoryHistoryRepository) List(ctx context.Context, limit int) ([]*domain.SessionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.records)
	if limit > 0 && limit < n {
		n = limit
	}

	// Newest first
	out := make([]*domain.SessionRecord, 0, n)
	for i := len(r.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, r.records[i])
	}
	return out, nil
}
