package repositories

import (
	"nearcast/internal/core/ports"
	"nearcast/internal/infrastructure/reliability"
	"nearcast/internal/infrastructure/repositories/memory"
	redisrepo "nearcast/internal/infrastructure/repositories/redis"
	"nearcast/pkg/circuitbreaker"
	"nearcast/pkg/config"
	"nearcast/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	historyCap  int
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory creates a new repository factory
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis:   cfg.Redis.Enabled,
		historyCap: cfg.History.Limit,
		logger:     logger,
	}

	// Try to connect to Redis if enabled
	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory repositories",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis repositories")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory repositories")
	}

	return factory, nil
}

// CreateSessionRepository creates a session repository (Redis or memory with fallback).
// The Redis variant is wrapped with retry and circuit breaker logic so a
// flapping Redis does not take pairing down with it.
func (f *RepositoryFactory) CreateSessionRepository() ports.SessionRepository {
	if f.useRedis && f.redisClient != nil {
		repo := redisrepo.NewRedisSessionRepository(f.redisClient)
		return reliability.NewSessionRepositoryWrapper(
			repo,
			retry.DefaultConfig(),
			circuitbreaker.DefaultConfig(),
			f.logger,
		)
	}
	return memory.NewMemorySessionRepository()
}

// CreatePendingPairRepository creates a pending pair repository (Redis or memory with fallback)
func (f *RepositoryFactory) CreatePendingPairRepository() ports.PendingPairRepository {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisPendingPairRepository(f.redisClient)
	}
	return memory.NewMemoryPendingPairRepository()
}

// CreateHistoryRepository creates a session history repository (Redis or memory with fallback)
func (f *RepositoryFactory) CreateHistoryRepository() ports.SessionHistoryRepository {
	if f.useRedis && f.redisClient != nil {
		return redisrepo.NewRedisHistoryRepository(f.redisClient, f.historyCap)
	}
	return memory.NewMemoryHistoryRepository(f.historyCap)
}

// RedisClient returns the shared Redis connection, or nil when the factory
// fell back to memory repositories.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	if !f.useRedis {
		return nil
	}
	return f.redisClient
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	if f.redisClient != nil {
		return redisrepo.CloseRedisClient(f.redisClient)
	}
	return nil
}
