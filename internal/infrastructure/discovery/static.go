package discovery

import (
	"context"

	"nearcast/internal/core/domain"
)

// Static serves a fixed candidate list from configuration, for networks
// where multicast DNS is filtered.
type Static struct {
	peers []domain.CandidatePeer
}

func NewStatic(peers []domain.CandidatePeer) *Static {
	return &Static{peers: peers}
}

func (s *Static) Candidates(ctx context.Context) ([]domain.CandidatePeer, error) {
	out := make([]domain.CandidatePeer, len(s.peers))
	copy(out, s.peers)
	return out, nil
}
