package reliability

import (
	"context"
	"errors"

	"nearcast/internal/core/domain"
	"nearcast/internal/core/ports"
	"nearcast/pkg/circuitbreaker"
	"nearcast/pkg/retry"
	"nearcast/pkg/tracing"

	"go.uber.org/zap"
)

// SessionRepositoryWrapper wraps a SessionRepository with retry logic and a
// circuit breaker. It is meant for the Redis-backed repository; the memory
// repository never fails and does not need it.
type SessionRepositoryWrapper struct {
	repo   ports.SessionRepository
	logger *zap.SugaredLogger

	retryConfig    retry.Config
	circuitBreaker *circuitbreaker.CircuitBreaker
}

// NewSessionRepositoryWrapper creates a new wrapper with retry and circuit breaker
func NewSessionRepositoryWrapper(
	repo ports.SessionRepository,
	retryConfig retry.Config,
	cbConfig circuitbreaker.Config,
	logger *zap.SugaredLogger,
) *SessionRepositoryWrapper {
	wrapper := &SessionRepositoryWrapper{
		repo:           repo,
		logger:         logger,
		retryConfig:    retryConfig,
		circuitBreaker: circuitbreaker.New(cbConfig),
	}

	// Deleting a session that is already gone must not burn retries
	wrapper.retryConfig.NonRetryableErrors = append(
		wrapper.retryConfig.NonRetryableErrors, domain.ErrSessionNotFound,
	)

	wrapper.circuitBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Infow("session store circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
	})

	return wrapper
}

// Create stores a session with retry logic
func (w *SessionRepositoryWrapper) Create(ctx context.Context, session *domain.Session) error {
	ctx, span := tracing.TraceStoreOperation(ctx, "create", "sessions")
	defer span.End()

	if !w.retryConfig.Enabled {
		return w.repo.Create(ctx, session)
	}

	err := retry.Retry(ctx, w.retryConfig, func() error {
		return w.circuitBreaker.Execute(ctx, func() error {
			return w.repo.Create(ctx, session)
		})
	})
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

// GetByID looks up a session with retry logic
func (w *SessionRepositoryWrapper) GetByID(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	ctx, span := tracing.TraceStoreOperation(ctx, "get", "sessions")
	defer span.End()

	if !w.retryConfig.Enabled {
		return w.repo.GetByID(ctx, id)
	}

	return w.lookup(ctx, func() (*domain.Session, error) {
		return w.repo.GetByID(ctx, id)
	})
}

// GetByConnection looks up a session by control connection with retry logic
func (w *SessionRepositoryWrapper) GetByConnection(ctx context.Context, connID domain.ConnectionID) (*domain.Session, error) {
	ctx, span := tracing.TraceStoreOperation(ctx, "get_by_connection", "sessions")
	defer span.End()

	if !w.retryConfig.Enabled {
		return w.repo.GetByConnection(ctx, connID)
	}

	return w.lookup(ctx, func() (*domain.Session, error) {
		return w.repo.GetByConnection(ctx, connID)
	})
}

// lookup runs a session read through retry and breaker. A miss is a valid
// outcome and must not count as a store failure.
func (w *SessionRepositoryWrapper) lookup(ctx context.Context, fn func() (*domain.Session, error)) (*domain.Session, error) {
	session, err := retry.RetryWithResult(ctx, w.retryConfig, func() (*domain.Session, error) {
		res, err := w.circuitBreaker.ExecuteWithResult(ctx, func() (interface{}, error) {
			session, err := fn()
			if errors.Is(err, domain.ErrSessionNotFound) {
				return (*domain.Session)(nil), nil
			}
			return session, err
		})
		if err != nil {
			return nil, err
		}
		session := res.(*domain.Session)
		if session == nil {
			return nil, domain.ErrSessionNotFound
		}
		return session, nil
	})
	if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		tracing.RecordError(ctx, err)
	}
	return session, err
}

// Delete removes a session with retry logic
func (w *SessionRepositoryWrapper) Delete(ctx context.Context, id domain.SessionID) error {
	ctx, span := tracing.TraceStoreOperation(ctx, "delete", "sessions")
	defer span.End()

	if !w.retryConfig.Enabled {
		return w.repo.Delete(ctx, id)
	}

	err := retry.Retry(ctx, w.retryConfig, func() error {
		return w.circuitBreaker.Execute(ctx, func() error {
			return w.repo.Delete(ctx, id)
		})
	})
	if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
		tracing.RecordError(ctx, err)
	}
	return err
}

// ListActive lists sessions without retries; readers tolerate a miss
func (w *SessionRepositoryWrapper) ListActive(ctx context.Context) ([]*domain.Session, error) {
	return w.repo.ListActive(ctx)
}

// GetCircuitBreakerStats returns circuit breaker statistics
func (w *SessionRepositoryWrapper) GetCircuitBreakerStats() circuitbreaker.Stats {
	return w.circuitBreaker.GetStats()
}
