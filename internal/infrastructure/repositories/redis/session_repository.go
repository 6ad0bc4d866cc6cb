package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"nearcast/internal/core/domain"
	"nearcast/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

type RedisSessionRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisSessionRepository(client *redis.Client) ports.SessionRepository {
	return &RedisSessionRepository{
		client: client,
		prefix: "nearcast:session:",
	}
}

func (r *RedisSessionRepository) sessionKey(id domain.SessionID) string {
	return r.prefix + string(id)
}

func (r *RedisSessionRepository) connKey(connID domain.ConnectionID) string {
	return r.prefix + "conn:" + string(connID)
}

func (r *RedisSessionRepository) activeSessionsKey() string {
	return r.prefix + "active"
}

func (r *RedisSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	// Serialize session to JSON
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	// Store session data
	key := r.sessionKey(session.ID)
	if err := r.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set session in Redis: %w", err)
	}

	// Index by control connection
	if err := r.client.Set(ctx, r.connKey(session.ConnectionID), string(session.ID), 0).Err(); err != nil {
		return fmt.Errorf("failed to index session by connection: %w", err)
	}

	// Add to active sessions set
	if err := r.client.SAdd(ctx, r.activeSessionsKey(), string(session.ID)).Err(); err != nil {
		return fmt.Errorf("failed to add session to active set: %w", err)
	}

	return nil
}

func (r *RedisSessionRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	key := r.sessionKey(id)
	data, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}

	var session domain.Session
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	return &session, nil
}

func (r *RedisSessionRepository) GetByConnection(ctx context.Context, connID domain.ConnectionID) (*domain.Session, error) {
	id, err := r.client.Get(ctx, r.connKey(connID)).Result()
	if err == redis.Nil {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve session by connection: %w", err)
	}

	return r.GetByID(ctx, domain.SessionID(id))
}

func (r *RedisSessionRepository) Delete(ctx context.Context, id domain.SessionID) error {
	session, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	// Remove from active sessions set
	if err := r.client.SRem(ctx, r.activeSessionsKey(), string(id)).Err(); err != nil {
		return fmt.Errorf("failed to remove session from active set: %w", err)
	}

	// Drop the connection index
	if err := r.client.Del(ctx, r.connKey(session.ConnectionID)).Err(); err != nil {
		return fmt.Errorf("failed to remove session connection index: %w", err)
	}

	// Delete session data
	if err := r.client.Del(ctx, r.sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session from Redis: %w", err)
	}

	return nil
}

func (r *RedisSessionRepository) ListActive(ctx context.Context) ([]*domain.Session, error) {
	sessionIDs, err := r.client.SMembers(ctx, r.activeSessionsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get active sessions from Redis: %w", err)
	}

	var sessions []*domain.Session
	for _, idStr := range sessionIDs {
		session, err := r.GetByID(ctx, domain.SessionID(idStr))
		if err != nil {
			// Skip sessions that no longer exist
			continue
		}
		sessions = append(sessions, session)
	}

	return sessions, nil
}
