package services

import (
	"context"
	"time"

	"nearcast/internal/core/domain"
	"nearcast/internal/core/ports"
	"nearcast/pkg/cache"
)

const discoveryCacheKey = "discovery:candidates"

// DiscoveryService caches discovery results so repeated status queries do
// not trigger a network browse each time.
type DiscoveryService struct {
	backend ports.Discovery
	cache   *cache.CacheWithFallback
	ttl     time.Duration
}

func NewDiscoveryService(backend ports.Discovery, ttl time.Duration) *DiscoveryService {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &DiscoveryService{
		backend: backend,
		cache:   cache.NewCacheWithFallback(ttl),
		ttl:     ttl,
	}
}

func (s *DiscoveryService) Candidates(ctx context.Context) ([]domain.CandidatePeer, error) {
	value, err := s.cache.GetOrSet(ctx, discoveryCacheKey, func(ctx context.Context) (interface{}, error) {
		return s.backend.Candidates(ctx)
	}, s.ttl)
	if err != nil {
		return nil, err
	}
	return value.([]domain.CandidatePeer), nil
}

// Refresh drops the cached candidate list so the next query hits the network.
func (s *DiscoveryService) Refresh() {
	s.cache.Invalidate(discoveryCacheKey)
}

func (s *DiscoveryService) Stop() {
	s.cache.Stop()
}
