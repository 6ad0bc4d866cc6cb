package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"nearcast/internal/core/ports"
)

// AddRedisCheck probes the Redis backend, when one is configured.
func (h *HealthChecker) AddRedisCheck(client *redis.Client, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, timeout)
}

// AddSessionStoreCheck probes the session repository with a cheap list.
func (h *HealthChecker) AddSessionStoreCheck(repo ports.SessionRepository, timeout time.Duration) {
	h.AddCheck("sessions", func(ctx context.Context) (bool, error) {
		if _, err := repo.ListActive(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, timeout)
}

// AddControlServerCheck reports whether the pairing listener is bound.
// addr returns an empty string until Start has succeeded.
func (h *HealthChecker) AddControlServerCheck(addr func() string, timeout time.Duration) {
	h.AddCheck("control", func(ctx context.Context) (bool, error) {
		if addr() == "" {
			return false, fmt.Errorf("control listener not bound")
		}
		return true, nil
	}, timeout)
}
